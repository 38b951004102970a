package ldap

import (
	"context"
	"fmt"
	"strings"
)

// Result holds the rows of a search in server order.
type Result struct {
	Entries []*Entry
	index   map[string]int
}

func newResult(entries []*Entry) *Result {
	r := &Result{Entries: entries, index: make(map[string]int, len(entries))}
	for i, e := range entries {
		key := strings.ToLower(e.DN)
		if _, ok := r.index[key]; !ok {
			r.index[key] = i
		}
	}
	return r
}

func (r *Result) Len() int { return len(r.Entries) }

// Get returns the first row with dn, or nil.
func (r *Result) Get(dn string) *Entry {
	if i, ok := r.index[strings.ToLower(dn)]; ok {
		return r.Entries[i]
	}
	return nil
}

// DNs returns the DN of every row.
func (r *Result) DNs() []string {
	dns := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		dns = append(dns, e.DN)
	}
	return dns
}

// withFields returns q, or a copy requesting fields when any are given.
func withFields(q *Query, fields []Field) *Query {
	if len(fields) == 0 {
		return q
	}
	return q.Clone().Columns(fields...)
}

// FetchAll runs q and returns every row.
func (c *Connection) FetchAll(ctx context.Context, q *Query, fields ...Field) (*Result, error) {
	rows, err := c.search(ctx, withFields(q, fields))
	if err != nil {
		return nil, err
	}
	return newResult(rows), nil
}

// FetchRow returns the first row of q, or nil when nothing matches.
func (c *Connection) FetchRow(ctx context.Context, q *Query, fields ...Field) (*Entry, error) {
	single := withFields(q, fields).Clone()
	single.Limit(1, q.offset)
	single.SetUsePagedResults(false)

	rows, err := c.search(ctx, single)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// FetchOne returns the first requested field of the first row. The bool
// is false when nothing matches.
func (c *Connection) FetchOne(ctx context.Context, q *Query, fields ...Field) (Value, bool, error) {
	q = withFields(q, fields)
	row, err := c.FetchRow(ctx, q)
	if err != nil || row == nil {
		return Null(), false, err
	}

	if len(q.fields) > 0 {
		return row.Get(q.fields[0].Key()), true, nil
	}
	if keys := row.Keys(); len(keys) > 0 {
		return row.Attributes[keys[0]], true, nil
	}
	return Null(), true, nil
}

// FetchColumn returns the non-null values of the first requested field.
func (c *Connection) FetchColumn(ctx context.Context, q *Query, fields ...Field) ([]Value, error) {
	q = withFields(q, fields)
	if len(q.fields) == 0 {
		return nil, fmt.Errorf("%w: You must request at least one attribute when fetching a single column", ErrProgramming)
	}

	rows, err := c.search(ctx, q)
	if err != nil {
		return nil, err
	}

	key := q.fields[0].Key()
	values := make([]Value, 0, len(rows))
	for _, row := range rows {
		if v := row.Get(key); !v.IsNull() {
			values = append(values, v)
		}
	}
	return values, nil
}

// FetchPairs maps the first requested field of every row to the second.
// Rows whose key is not single valued are skipped.
func (c *Connection) FetchPairs(ctx context.Context, q *Query, fields ...Field) (map[string]Value, error) {
	q = withFields(q, fields)
	if len(q.fields) < 2 {
		return nil, fmt.Errorf("%w: You are required to request at least two attributes", ErrProgramming)
	}

	rows, err := c.search(ctx, q)
	if err != nil {
		return nil, err
	}

	keyField, valueField := q.fields[0].Key(), q.fields[1].Key()
	pairs := make(map[string]Value, len(rows))
	for _, row := range rows {
		key := row.Get(keyField)
		if key.Kind() != ValueScalar {
			continue
		}
		pairs[key.First()] = row.Get(valueField)
	}
	return pairs, nil
}

// FetchByDN reads the entry at dn, returning nil when it does not exist.
func (c *Connection) FetchByDN(ctx context.Context, dn string, fields ...Field) (*Entry, error) {
	q := c.Select().SetBase(dn).SetScope(ScopeBase).From("*", fields...)
	return c.FetchRow(ctx, q)
}

// FetchDN returns the DN of the only row of q, or "" when nothing matches.
func (c *Connection) FetchDN(ctx context.Context, q *Query) (string, error) {
	dnOnly := q.Clone().Columns(Field{Name: noAttributes})
	rows, err := c.search(ctx, dnOnly)
	if err != nil {
		return "", err
	}

	switch len(rows) {
	case 0:
		return "", nil
	case 1:
		return rows[0].DN, nil
	default:
		return "", fmt.Errorf("%w: Cannot fetch single DN for %s", ErrMultipleResults, q.String())
	}
}

// Count returns the number of rows q matches, ignoring limit and offset.
func (c *Connection) Count(ctx context.Context, q *Query) (int, error) {
	counted := q.Clone().Limit(0, 0)
	counted.order = nil
	if counted.unfold == "" {
		counted.Columns(Field{Name: noAttributes})
	}

	rows, err := c.search(ctx, counted)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
