package ldap

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// search runs q and returns its normalized rows, sorted and trimmed to the
// requested window.
func (c *Connection) search(ctx context.Context, q *Query) ([]*Entry, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := c.Bind(ctx); err != nil {
		return nil, err
	}

	fields := searchFields(q)
	paged := q.usePaged && c.Capabilities(ctx).HasPagedResult()

	// Ordered queries need every row before the window can be cut. Unfolded
	// rows are filtered after the fact, so neither can stop early.
	var want int
	if q.limit > 0 && !q.HasOrder() && q.unfold == "" {
		want = q.offset + q.limit
	}

	req := ldap.NewSearchRequest(
		c.baseFor(q),
		q.scope.ldapScope(),
		ldap.NeverDerefAliases,
		0, 0, false,
		q.String(),
		fieldNames(fields),
		nil,
	)

	var raw []*ldap.Entry
	var err error
	if paged {
		raw, err = c.pagedSearch(ctx, req, want)
	} else {
		req.SizeLimit = want
		raw, err = c.unpagedSearch(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	rows := c.normalize(ctx, q, fields, raw)

	if q.HasOrder() {
		slices.SortStableFunc(rows, q.Compare)
	}

	return window(rows, q.offset, q.limit), nil
}

// searchFields returns the projection of q. Order attributes are appended
// when missing, and unfolded queries also fetch their filter columns so rows
// can be checked again after unfolding.
func searchFields(q *Query) []Field {
	fields := slices.Clone(q.fields)
	if len(fields) == 0 {
		return fields
	}

	for _, rule := range q.order {
		if !slices.ContainsFunc(fields, func(f Field) bool { return strings.EqualFold(f.Name, rule.Attribute) }) {
			fields = append(fields, Field{Name: rule.Attribute})
		}
	}

	if q.unfold != "" {
		for _, column := range q.filter.Columns() {
			if !slices.ContainsFunc(fields, func(f Field) bool {
				return f.Alias == "" && strings.EqualFold(f.Name, column)
			}) {
				fields = append(fields, Field{Name: column})
			}
		}
	}

	return fields
}

func (c *Connection) normalize(ctx context.Context, q *Query, fields []Field, raw []*ldap.Entry) []*Entry {
	normalizer := NewNormalizer(fields, q.unfold)
	rows := make([]*Entry, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for _, entry := range raw {
		if q.unfold != "" {
			for _, row := range normalizer.Normalize(ctx, entry) {
				if q.filter.Matches(row) {
					rows = append(rows, row)
				}
			}
			continue
		}

		key := strings.ToLower(entry.DN)
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, normalizer.Normalize(ctx, entry)...)
	}

	return rows
}

// window applies offset and limit. A zero limit keeps every row after offset.
func window(rows []*Entry, offset, limit int) []*Entry {
	if offset >= len(rows) {
		return []*Entry{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func (c *Connection) unpagedSearch(ctx context.Context, req *ldap.SearchRequest) ([]*ldap.Entry, error) {
	c.logSearch(ctx, req)

	res, err := c.conn.Search(req)
	c.logReferrals(ctx, res)
	if err != nil {
		switch {
		case IsNoSuchObject(err):
			return nil, nil
		case IsSizeLimitError(err):
			tflog.SubsystemWarn(ctx, Subsystem, "LDAP search result is incomplete", map[string]any{
				"filter": req.Filter,
				"base":   req.BaseDN,
				"error":  diagnosticMessage(err),
			})
			if res == nil {
				return nil, nil
			}
		default:
			return nil, &SearchError{Filter: req.Filter, Base: req.BaseDN, Cause: err}
		}
	}

	return res.Entries, nil
}

// pagedSearch pages through the result with the RFC 2696 control. When
// want is positive the search stops once that many entries arrived. A
// cursor left open on the server is released before returning.
func (c *Connection) pagedSearch(ctx context.Context, req *ldap.SearchRequest, want int) ([]*ldap.Entry, error) {
	pageSize := c.cfg.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	control := ldap.NewControlPaging(pageSize)
	req.Controls = []ldap.Control{control}
	c.logSearch(ctx, req)

	var entries []*ldap.Entry
	var cookie []byte
	for {
		if err := ctx.Err(); err != nil {
			c.releaseCursor(ctx, req, cookie)
			return nil, err
		}

		control.SetCookie(cookie)
		res, err := c.conn.Search(req)
		c.logReferrals(ctx, res)
		if res != nil {
			entries = append(entries, res.Entries...)
		}

		if err != nil {
			switch {
			case IsNoSuchObject(err):
			case IsSizeLimitError(err):
				if res == nil || len(res.Entries) == 0 {
					tflog.SubsystemWarn(ctx, Subsystem, fmt.Sprintf(
						"Unable to request more than %d results. Does the server allow paged search requests?", len(entries)),
						map[string]any{
							"filter": req.Filter,
							"base":   req.BaseDN,
							"error":  diagnosticMessage(err),
						})
				} else {
					tflog.SubsystemWarn(ctx, Subsystem, "LDAP search result is incomplete", map[string]any{
						"filter": req.Filter,
						"base":   req.BaseDN,
						"error":  diagnosticMessage(err),
					})
				}
			default:
				c.releaseCursor(ctx, req, cookie)
				return nil, &SearchError{Filter: req.Filter, Base: req.BaseDN, Cause: err}
			}
			return entries, nil
		}

		cookie = responseCookie(res)
		if len(cookie) == 0 {
			return entries, nil
		}
		if want > 0 && len(entries) >= want {
			c.releaseCursor(ctx, req, cookie)
			return entries, nil
		}
	}
}

func responseCookie(res *ldap.SearchResult) []byte {
	if res == nil {
		return nil
	}
	if paging, ok := ldap.FindControl(res.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging); ok {
		return paging.Cookie
	}
	return nil
}

// releaseCursor asks the server to drop the paged result set identified by
// cookie by requesting a page of size zero.
func (c *Connection) releaseCursor(ctx context.Context, req *ldap.SearchRequest, cookie []byte) {
	if len(cookie) == 0 || c.conn == nil {
		return
	}

	control := ldap.NewControlPaging(0)
	control.SetCookie(cookie)
	abandon := *req
	abandon.Controls = []ldap.Control{control}

	if _, err := c.conn.Search(&abandon); err != nil {
		tflog.SubsystemWarn(ctx, Subsystem, "Failed to release paged search cursor, it stays open on the server until it times out", map[string]any{
			"filter": req.Filter,
			"base":   req.BaseDN,
			"error":  err.Error(),
		})
	}
}

func (c *Connection) logReferrals(ctx context.Context, res *ldap.SearchResult) {
	if res == nil || len(res.Referrals) == 0 {
		return
	}
	LogConnectionEvent(ctx, "referrals_ignored", map[string]any{
		"server":    c.serverURL,
		"referrals": res.Referrals,
	})
}
