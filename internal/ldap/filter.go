package ldap

import (
	"fmt"
	"strings"
)

// Filter is a node of a search filter tree.
type Filter interface {
	// Matches evaluates the filter against a normalized entry, ignoring case.
	Matches(e *Entry) bool
	// Columns lists the attributes the filter refers to.
	Columns() []string

	render(level int) string
}

// Comparison signs understood by Expression.
const (
	SignEqual        = "="
	SignNotEqual     = "!="
	SignGreaterEqual = ">="
	SignLessEqual    = "<="
	SignApprox       = "~="
)

// Expression compares one attribute against zero or more values.
// No values means a presence test. A "*" in a value is a wildcard unless
// Literal is set.
type Expression struct {
	Column  string
	Sign    string
	Values  []string
	Literal bool
}

// Expr builds an expression, rejecting unknown signs.
func Expr(column, sign string, values ...string) (*Expression, error) {
	switch sign {
	case SignEqual, SignNotEqual, SignGreaterEqual, SignLessEqual, SignApprox:
	default:
		return nil, fmt.Errorf("%w: unsupported filter sign %q", ErrProgramming, sign)
	}
	if column == "" {
		return nil, fmt.Errorf("%w: filter column must not be empty", ErrProgramming)
	}
	return &Expression{Column: column, Sign: sign, Values: values}, nil
}

// Eq matches entries where column equals one of values. Values may hold
// "*" wildcards; no values tests for presence.
func Eq(column string, values ...string) *Expression {
	return &Expression{Column: column, Sign: SignEqual, Values: values}
}

// EqLiteral is Eq with "*" matching only itself.
func EqLiteral(column string, values ...string) *Expression {
	return &Expression{Column: column, Sign: SignEqual, Values: values, Literal: true}
}

// Ne matches entries where column equals none of values.
func Ne(column string, values ...string) *Expression {
	return &Expression{Column: column, Sign: SignNotEqual, Values: values}
}

func (x *Expression) Columns() []string {
	return []string{x.Column}
}

func (x *Expression) render(int) string {
	column := QuoteForSearch(x.Column, false)
	sign := x.Sign
	negate := sign == SignNotEqual
	if negate {
		sign = SignEqual
	}

	var rendered string
	switch len(x.Values) {
	case 0:
		rendered = column + sign + "*"
	case 1:
		rendered = column + sign + QuoteForSearch(x.Values[0], !x.Literal)
	default:
		parts := make([]string, 0, len(x.Values))
		for _, v := range x.Values {
			parts = append(parts, column+sign+QuoteForSearch(v, !x.Literal))
		}
		rendered = "|(" + strings.Join(parts, ")(") + ")"
	}

	if negate {
		return "!(" + rendered + ")"
	}
	return rendered
}

func (x *Expression) Matches(e *Entry) bool {
	value := e.Get(x.Column)
	matched := x.matchesValue(value)
	if x.Sign == SignNotEqual {
		return !matched
	}
	return matched
}

func (x *Expression) matchesValue(value Value) bool {
	if len(x.Values) == 0 {
		return !value.IsNull()
	}
	for _, actual := range value.values {
		actual = strings.ToLower(actual)
		for _, expected := range x.Values {
			expected = strings.ToLower(expected)
			switch x.Sign {
			case SignGreaterEqual:
				if actual >= expected {
					return true
				}
			case SignLessEqual:
				if actual <= expected {
					return true
				}
			default:
				if x.Literal && actual == expected {
					return true
				}
				if !x.Literal && wildcardMatch(expected, actual) {
					return true
				}
			}
		}
	}
	return false
}

// wildcardMatch reports whether s matches pattern, where "*" matches any run.
func wildcardMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}

	segments := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]

	last := segments[len(segments)-1]
	for _, segment := range segments[1 : len(segments)-1] {
		idx := strings.Index(s, segment)
		if idx < 0 {
			return false
		}
		s = s[idx+len(segment):]
	}
	return strings.HasSuffix(s, last)
}

// Operator joins the filters of a Chain.
type Operator string

const (
	OpAnd Operator = "&"
	OpOr  Operator = "|"
	OpNot Operator = "!"
)

// Chain combines filters with a boolean operator.
type Chain struct {
	Operator Operator
	Filters  []Filter
}

func And(filters ...Filter) *Chain { return &Chain{Operator: OpAnd, Filters: filters} }

func Or(filters ...Filter) *Chain { return &Chain{Operator: OpOr, Filters: filters} }

// Not negates the conjunction of filters.
func Not(filters ...Filter) *Chain { return &Chain{Operator: OpNot, Filters: filters} }

// Add appends filters to the chain.
func (c *Chain) Add(filters ...Filter) *Chain {
	c.Filters = append(c.Filters, filters...)
	return c
}

// IsEmpty reports whether the chain renders to nothing.
func (c *Chain) IsEmpty() bool {
	return c.render(0) == ""
}

func (c *Chain) Columns() []string {
	var columns []string
	seen := map[string]bool{}
	for _, f := range c.Filters {
		for _, column := range f.Columns() {
			if !seen[column] {
				seen[column] = true
				columns = append(columns, column)
			}
		}
	}
	return columns
}

func (c *Chain) render(level int) string {
	parts := make([]string, 0, len(c.Filters))
	for _, f := range c.Filters {
		if part := f.render(level + 1); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return ""
	}

	var rendered string
	switch {
	case c.Operator == OpNot && len(parts) > 1:
		rendered = "!(&(" + strings.Join(parts, ")(") + "))"
	case c.Operator == OpNot:
		rendered = "!(" + parts[0] + ")"
	case len(parts) == 1:
		rendered = parts[0]
	default:
		rendered = string(c.Operator) + "(" + strings.Join(parts, ")(") + ")"
	}

	if level == 0 {
		return "(" + rendered + ")"
	}
	return rendered
}

func (c *Chain) Matches(e *Entry) bool {
	switch c.Operator {
	case OpOr:
		for _, f := range c.Filters {
			if f.Matches(e) {
				return true
			}
		}
		return len(c.Filters) == 0
	case OpNot:
		return !And(c.Filters...).Matches(e)
	default:
		for _, f := range c.Filters {
			if !f.Matches(e) {
				return false
			}
		}
		return true
	}
}

// RenderFilter renders f as an LDAP search filter string.
func RenderFilter(f Filter) string {
	if f == nil {
		return ""
	}
	rendered := f.render(0)
	if _, ok := f.(*Expression); ok && rendered != "" {
		return "(" + rendered + ")"
	}
	return rendered
}

func cloneFilter(f Filter) Filter {
	switch t := f.(type) {
	case *Expression:
		c := *t
		c.Values = append([]string(nil), t.Values...)
		return &c
	case *Chain:
		c := &Chain{Operator: t.Operator, Filters: make([]Filter, 0, len(t.Filters))}
		for _, child := range t.Filters {
			c.Filters = append(c.Filters, cloneFilter(child))
		}
		return c
	default:
		return f
	}
}
