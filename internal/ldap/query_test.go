package ldap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_String(t *testing.T) {
	tests := []struct {
		name     string
		query    *Query
		expected string
	}{
		{
			name:     "empty query matches everything",
			query:    NewQuery(),
			expected: "(objectClass=*)",
		},
		{
			name:     "single condition",
			query:    NewQuery().From("inetOrgPerson"),
			expected: "(objectClass=inetOrgPerson)",
		},
		{
			name:     "conditions are ANDed",
			query:    NewQuery().From("inetOrgPerson").Where("uid", "jdoe"),
			expected: "(&(objectClass=inetOrgPerson)(uid=jdoe))",
		},
		{
			name:     "negated condition",
			query:    NewQuery().WhereNot("uid", "jdoe"),
			expected: "(!(uid=jdoe))",
		},
		{
			name:     "any of several values",
			query:    NewQuery().WhereAny("uid", "a", "b"),
			expected: "(|(uid=a)(uid=b))",
		},
		{
			name:     "values are quoted but keep wildcards",
			query:    NewQuery().Where("cn", "a(b)*"),
			expected: `(cn=a\28b\29*)`,
		},
		{
			name:     "nested chains",
			query:    NewQuery().Where("c", "3").AddFilter(Or(Eq("a", "1"), Eq("b", "2"))),
			expected: "(&(c=3)(|(a=1)(b=2)))",
		},
		{
			name:     "not of several filters negates their conjunction",
			query:    NewQuery().Where("c", "3").AddFilter(Not(Eq("a", "1"), Eq("b", "2"))),
			expected: "(&(c=3)(!(&(a=1)(b=2))))",
		},
		{
			name:     "presence test",
			query:    NewQuery().AddFilter(Eq("mail")),
			expected: "(mail=*)",
		},
		{
			name:     "native filter alone",
			query:    NewQuery().SetNativeFilter("(memberOf=cn=admins,dc=example,dc=com)"),
			expected: "(memberOf=cn=admins,dc=example,dc=com)",
		},
		{
			name:     "native filter is combined",
			query:    NewQuery().From("user").SetNativeFilter("cn=x"),
			expected: "(&(cn=x)(objectClass=user))",
		},
		{
			name:     "compound native filter keeps its parentheses",
			query:    NewQuery().SetNativeFilter("(a=1)(b=2)"),
			expected: "((a=1)(b=2))",
		},
		{
			name:     "empty chains are skipped",
			query:    NewQuery().AddFilter(Or()).Where("a", "1"),
			expected: "(a=1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.query.String())
		})
	}
}

func TestStripOuterParens(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"(a=1)", "a=1"},
		{"a=1", "a=1"},
		{"(a=1)(b=2)", "(a=1)(b=2)"},
		{"(&(a=1)(b=2))", "&(a=1)(b=2)"},
		{`(a=\29)`, `a=\29`},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, stripOuterParens(tt.input))
		})
	}
}

func TestExpr(t *testing.T) {
	x, err := Expr("uidNumber", SignGreaterEqual, "1000")
	require.NoError(t, err)
	assert.Equal(t, "(uidNumber>=1000)", RenderFilter(x))

	_, err = Expr("uid", "<>", "x")
	assert.ErrorIs(t, err, ErrProgramming)

	_, err = Expr("", SignEqual, "x")
	assert.ErrorIs(t, err, ErrProgramming)
}

func TestEqLiteral(t *testing.T) {
	assert.Equal(t, `(cn=\2a)`, RenderFilter(EqLiteral("cn", "*")))
	assert.Equal(t, `(|(cn=a\2ab)(cn=c))`, RenderFilter(EqLiteral("cn", "a*b", "c")))
	assert.Equal(t, "(cn=a*b)", RenderFilter(Eq("cn", "a*b")))

	starred := &Entry{Attributes: map[string]Value{"cn": Scalar("a*b")}}
	plain := &Entry{Attributes: map[string]Value{"cn": Scalar("axxb")}}
	assert.True(t, EqLiteral("cn", "A*B").Matches(starred))
	assert.False(t, EqLiteral("cn", "a*b").Matches(plain))
	assert.True(t, Eq("cn", "a*b").Matches(plain))
}

func TestFilter_Matches(t *testing.T) {
	entry := &Entry{DN: "uid=jdoe,dc=example,dc=com", Attributes: map[string]Value{
		"uid":       Scalar("jdoe"),
		"mail":      List("jdoe@example.com", "john@example.org"),
		"uidNumber": Scalar("1500"),
		"manager":   Null(),
	}}

	tests := []struct {
		name     string
		filter   Filter
		expected bool
	}{
		{"equal", Eq("uid", "jdoe"), true},
		{"equal ignores case", Eq("UID", "JDOE"), true},
		{"not equal", Eq("uid", "other"), false},
		{"wildcard", Eq("mail", "*@example.org"), true},
		{"infix wildcard", Eq("mail", "j*@*.com"), true},
		{"any of values", Eq("uid", "a", "jdoe"), true},
		{"presence", Eq("mail"), true},
		{"presence of null", Eq("manager"), false},
		{"ne", Ne("uid", "jdoe"), false},
		{"greater equal", &Expression{Column: "uidNumber", Sign: SignGreaterEqual, Values: []string{"1000"}}, true},
		{"less equal", &Expression{Column: "uidNumber", Sign: SignLessEqual, Values: []string{"1000"}}, false},
		{"and", And(Eq("uid", "jdoe"), Eq("mail", "*")), true},
		{"and fails", And(Eq("uid", "jdoe"), Eq("mail", "x")), false},
		{"or", Or(Eq("uid", "x"), Eq("mail", "*@example.com")), true},
		{"empty or", Or(), true},
		{"not", Not(Eq("uid", "jdoe"), Eq("mail", "x")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.filter.Matches(entry))
		})
	}
}

func TestChain_Columns(t *testing.T) {
	chain := And(Eq("objectClass", "user"), Or(Eq("uid", "a"), Eq("mail", "b"), Eq("uid", "c")))
	assert.Equal(t, []string{"objectClass", "uid", "mail"}, chain.Columns())
	assert.False(t, chain.IsEmpty())
	assert.True(t, And(Or(), And()).IsEmpty())
}

func TestWildcardMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		expected   bool
	}{
		{"abc", "abc", true},
		{"abc", "abcd", false},
		{"a*", "abc", true},
		{"*c", "abc", true},
		{"a*c", "abbbc", true},
		{"a*b*c", "ac", false},
		{"*", "", true},
		{"a**", "a", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.s, func(t *testing.T) {
			assert.Equal(t, tt.expected, wildcardMatch(tt.pattern, tt.s))
		})
	}
}

func TestQuery_Clone(t *testing.T) {
	q := NewQuery().From("user", Fields("cn")...).Order("cn", SortAsc)
	c := q.Clone().Where("uid", "x").Order("sn", SortDesc).Columns(Fields("mail")...)

	assert.Equal(t, "(objectClass=user)", q.String())
	assert.Equal(t, "(&(objectClass=user)(uid=x))", c.String())
	assert.Len(t, q.OrderRules(), 1)
	assert.Equal(t, Fields("cn"), q.Fields())
}

func TestQuery_Limit(t *testing.T) {
	q := NewQuery().Limit(-5, -1)
	assert.Equal(t, 0, q.GetLimit())
	assert.Equal(t, 0, q.GetOffset())

	q.Limit(10, 20)
	assert.Equal(t, 10, q.GetLimit())
	assert.Equal(t, 20, q.GetOffset())
}

func TestQuery_Compare(t *testing.T) {
	row := func(dn string, attrs map[string]Value) *Entry { return &Entry{DN: dn, Attributes: attrs} }
	a := row("a", map[string]Value{"sn": Scalar("Adams"), "name": List("x", "b")})
	b := row("b", map[string]Value{"sn": Scalar("Brown"), "name": Scalar("c")})
	n := row("n", map[string]Value{"sn": Null(), "name": Null()})

	asc := NewQuery().Order("sn", SortAsc)
	assert.Negative(t, asc.Compare(a, b))
	assert.Positive(t, asc.Compare(b, a))
	assert.Negative(t, asc.Compare(n, a), "null sorts first ascending")
	assert.Zero(t, asc.Compare(a, a))

	desc := NewQuery().Order("sn", SortDesc)
	assert.Positive(t, desc.Compare(a, b))
	assert.Positive(t, desc.Compare(n, a), "null sorts last descending")

	// multi valued keys use their least value, greatest when descending
	assert.Negative(t, NewQuery().Order("name", SortAsc).Compare(a, b))
	assert.Negative(t, NewQuery().Order("name", SortDesc).Compare(a, b))

	aliased := NewQuery().Columns(AliasedField("last_name", "sn")).Order("sn", SortAsc)
	x := row("x", map[string]Value{"last_name": Scalar("Zed")})
	y := row("y", map[string]Value{"last_name": Scalar("Young")})
	assert.Positive(t, aliased.Compare(x, y))
}

func TestQuery_Validate(t *testing.T) {
	assert.NoError(t, NewQuery().validate())
	assert.ErrorIs(t, NewQuery().SetScope("tree").validate(), ErrProgramming)
	assert.ErrorIs(t, NewQuery().SetUnfoldAttribute("member").validate(), ErrProgramming)
	assert.NoError(t, NewQuery().Columns(Fields("member")...).SetUnfoldAttribute("member").validate())
}

func TestQuery_UnboundFetch(t *testing.T) {
	_, err := NewQuery().FetchAll(context.Background())
	assert.ErrorIs(t, err, ErrProgramming)

	_, err = NewQuery().Count(context.Background())
	assert.ErrorIs(t, err, ErrProgramming)
}
