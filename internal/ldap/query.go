package ldap

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Query describes a search against the directory. Builder methods modify
// the query in place and return it for chaining.
type Query struct {
	conn *Connection

	base         string
	scope        Scope
	filter       *Chain
	fields       []Field
	order        []OrderRule
	limit        int
	offset       int
	usePaged     bool
	nativeFilter string
	unfold       string
}

// NewQuery returns an unbound query. It can be rendered and compared but
// fetching requires a query obtained from Connection.Select.
func NewQuery() *Query {
	return &Query{scope: ScopeSub, filter: And()}
}

// From restricts the query to objectClass and sets the requested fields.
func (q *Query) From(objectClass string, fields ...Field) *Query {
	q.Where("objectClass", objectClass)
	if len(fields) > 0 {
		q.fields = slices.Clone(fields)
	}
	return q
}

// Columns sets the requested fields.
func (q *Query) Columns(fields ...Field) *Query {
	q.fields = slices.Clone(fields)
	return q
}

// Where adds an equality condition. "*" in value acts as a wildcard.
func (q *Query) Where(attribute, value string) *Query {
	return q.AddFilter(Eq(attribute, value))
}

// WhereNot adds a negated equality condition.
func (q *Query) WhereNot(attribute, value string) *Query {
	return q.AddFilter(Ne(attribute, value))
}

// WhereAny matches entries where attribute equals any of values.
func (q *Query) WhereAny(attribute string, values ...string) *Query {
	return q.AddFilter(Eq(attribute, values...))
}

// AddFilter ANDs f with the filters already present.
func (q *Query) AddFilter(f Filter) *Query {
	if f != nil {
		q.filter.Add(f)
	}
	return q
}

// SetNativeFilter sets a raw LDAP filter that is ANDed with the rendered filter.
func (q *Query) SetNativeFilter(filter string) *Query {
	q.nativeFilter = filter
	return q
}

// SetBase sets the search base. An empty base uses the connection's root DN.
func (q *Query) SetBase(base string) *Query {
	q.base = base
	return q
}

// SetScope sets the search scope.
func (q *Query) SetScope(scope Scope) *Query {
	q.scope = scope
	return q
}

// Order appends a sort rule. An attribute missing from the projection is
// fetched for sorting and stays in the returned rows.
func (q *Query) Order(attribute string, direction SortDirection) *Query {
	q.order = append(q.order, OrderRule{Attribute: attribute, Direction: direction})
	return q
}

// Limit restricts the result window. Zero limit means unlimited.
func (q *Query) Limit(limit, offset int) *Query {
	q.limit = max(limit, 0)
	q.offset = max(offset, 0)
	return q
}

// SetUsePagedResults enables RFC 2696 paging when the server supports it.
func (q *Query) SetUsePagedResults(enabled bool) *Query {
	q.usePaged = enabled
	return q
}

// SetUnfoldAttribute expands multi valued results of alias into one row per value.
func (q *Query) SetUnfoldAttribute(alias string) *Query {
	q.unfold = alias
	return q
}

func (q *Query) Base() string            { return q.base }
func (q *Query) Scope() Scope            { return q.scope }
func (q *Query) Fields() []Field         { return slices.Clone(q.fields) }
func (q *Query) OrderRules() []OrderRule { return slices.Clone(q.order) }
func (q *Query) HasOrder() bool          { return len(q.order) > 0 }
func (q *Query) GetLimit() int           { return q.limit }
func (q *Query) GetOffset() int          { return q.offset }
func (q *Query) UsePagedResults() bool   { return q.usePaged }
func (q *Query) NativeFilter() string    { return q.nativeFilter }
func (q *Query) UnfoldAttribute() string { return q.unfold }
func (q *Query) Filter() *Chain          { return q.filter }

// Clone returns an independent copy bound to the same connection.
func (q *Query) Clone() *Query {
	c := *q
	c.filter = cloneFilter(q.filter).(*Chain)
	c.fields = slices.Clone(q.fields)
	c.order = slices.Clone(q.order)
	return &c
}

// String renders the complete search filter.
func (q *Query) String() string {
	rendered := RenderFilter(q.filter)

	native := stripOuterParens(strings.TrimSpace(q.nativeFilter))
	if native != "" {
		if rendered == "" {
			return "(" + native + ")"
		}
		return "(&(" + native + ")" + rendered + ")"
	}

	if rendered == "" {
		return "(objectClass=*)"
	}
	return rendered
}

// stripOuterParens removes one pair of parentheses enclosing the whole filter.
func stripOuterParens(filter string) string {
	if len(filter) < 2 || filter[0] != '(' || filter[len(filter)-1] != ')' {
		return filter
	}

	depth := 0
	for i := 0; i < len(filter); i++ {
		switch filter[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(filter)-1 {
				return filter
			}
		}
	}
	return filter[1 : len(filter)-1]
}

// validate reports builder misuse before any I/O happens.
func (q *Query) validate() error {
	if _, err := ParseScope(string(q.scope)); err != nil {
		return err
	}
	if q.unfold != "" && !slices.ContainsFunc(q.fields, func(f Field) bool { return f.Key() == q.unfold }) {
		return fmt.Errorf("%w: the attribute used to unfold a query's result must be selected", ErrProgramming)
	}
	return nil
}

// orderKey maps an attribute named in a sort rule to the key it is stored under.
func (q *Query) orderKey(attribute string) string {
	for _, f := range q.fields {
		if f.Alias != "" && strings.EqualFold(f.Name, attribute) {
			return f.Alias
		}
	}
	return attribute
}

// Compare orders two entries by the query's sort rules. Multi valued keys
// compare by their least value (greatest when descending) and null sorts first
// in ascending order.
func (q *Query) Compare(a, b *Entry) int {
	for _, rule := range q.order {
		key := q.orderKey(rule.Attribute)
		desc := rule.Direction == SortDesc
		va, vb := a.Get(key), b.Get(key)

		var cmp int
		switch {
		case va.IsNull() && vb.IsNull():
			cmp = 0
		case va.IsNull():
			cmp = -1
		case vb.IsNull():
			cmp = 1
		default:
			cmp = strings.Compare(va.Least(desc), vb.Least(desc))
		}

		if desc {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

func (q *Query) connection() (*Connection, error) {
	if q.conn == nil {
		return nil, fmt.Errorf("%w: query is not bound to a connection", ErrProgramming)
	}
	return q.conn, nil
}

// FetchAll runs the query and returns all rows.
func (q *Query) FetchAll(ctx context.Context) (*Result, error) {
	c, err := q.connection()
	if err != nil {
		return nil, err
	}
	return c.FetchAll(ctx, q)
}

// FetchRow returns the first row, or nil.
func (q *Query) FetchRow(ctx context.Context) (*Entry, error) {
	c, err := q.connection()
	if err != nil {
		return nil, err
	}
	return c.FetchRow(ctx, q)
}

// FetchOne returns the first field of the first row.
func (q *Query) FetchOne(ctx context.Context) (Value, bool, error) {
	c, err := q.connection()
	if err != nil {
		return Null(), false, err
	}
	return c.FetchOne(ctx, q)
}

// FetchColumn returns the first field of every row.
func (q *Query) FetchColumn(ctx context.Context) ([]Value, error) {
	c, err := q.connection()
	if err != nil {
		return nil, err
	}
	return c.FetchColumn(ctx, q)
}

// FetchPairs maps the first field of every row to its second.
func (q *Query) FetchPairs(ctx context.Context) (map[string]Value, error) {
	c, err := q.connection()
	if err != nil {
		return nil, err
	}
	return c.FetchPairs(ctx, q)
}

// FetchDN returns the DN of the only row, or "" when there is none.
func (q *Query) FetchDN(ctx context.Context) (string, error) {
	c, err := q.connection()
	if err != nil {
		return "", err
	}
	return c.FetchDN(ctx, q)
}

// Count returns the number of matching rows, ignoring limit and offset.
func (q *Query) Count(ctx context.Context) (int, error) {
	c, err := q.connection()
	if err != nil {
		return 0, err
	}
	return c.Count(ctx, q)
}

// FetchTree fetches all rows and assembles them below the connection's root DN.
func (q *Query) FetchTree(ctx context.Context) (*Tree, error) {
	c, err := q.connection()
	if err != nil {
		return nil, err
	}
	result, err := c.FetchAll(ctx, q)
	if err != nil {
		return nil, err
	}
	return BuildTree(c.RootDN(), result.Entries), nil
}
