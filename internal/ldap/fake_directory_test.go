package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// fakeDirectory is an in-memory directory server. Every dialed transport
// shares its state. Paged searches hand out real cookies and track the
// cursors they keep open.
type fakeDirectory struct {
	mu sync.Mutex

	entries map[string]*fakeEntry
	order   []string
	rootDSE map[string][]string
	users   map[string]string

	// server side size limit applied to every search, 0 for none
	sizeLimit int

	rootDSEErr  error
	searchErr   error
	abandonErr  error
	startTLSErr error
	dialErr     error

	dials     int
	binds     []string
	startTLS  int
	closed    int
	searches  []*ldap.SearchRequest
	cursors   map[string]int
	nextID    int
	released  int
	deletions []string

	// paging controls as sent, abandon requests included
	pagingControls []ldap.ControlPaging
	pagingCritical []bool
	// called with the lock held after each page is served
	onPage         func(served int)
}

type fakeEntry struct {
	dn    string
	attrs map[string][]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		entries: map[string]*fakeEntry{},
		users:   map[string]string{},
		cursors: map[string]int{},
		rootDSE: map[string][]string{
			"namingContexts":        {"dc=example,dc=com"},
			"defaultNamingContext":  {"dc=example,dc=com"},
			"supportedLDAPVersion":  {"3"},
			"supportedControl":      {OIDPagedResults},
			"supportedExtension":    {OIDStartTLS},
			"vendorName":            {"Example Directory"},
			"vendorVersion":         {"1.0"},
			"structuralObjectClass": {"extensibleObject"},
		},
	}
}

// add stores an entry. Values are given as "attr", "value" pairs.
func (d *fakeDirectory) add(dn string, pairs ...string) *fakeDirectory {
	attrs := map[string][]string{}
	for i := 0; i+1 < len(pairs); i += 2 {
		attrs[pairs[i]] = append(attrs[pairs[i]], pairs[i+1])
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.put(&fakeEntry{dn: dn, attrs: attrs})
	return d
}

func (d *fakeDirectory) put(e *fakeEntry) {
	key := strings.ToLower(e.dn)
	if _, ok := d.entries[key]; !ok {
		d.order = append(d.order, key)
	}
	d.entries[key] = e
}

func (d *fakeDirectory) remove(dn string) {
	key := strings.ToLower(dn)
	delete(d.entries, key)
	d.order = slices.DeleteFunc(d.order, func(k string) bool { return k == key })
}

func (d *fakeDirectory) exists(dn string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[strings.ToLower(dn)]
	return ok
}

func (d *fakeDirectory) openCursors() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cursors)
}

func (d *fakeDirectory) searchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.searches)
}

func (d *fakeDirectory) lastSearch() *ldap.SearchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.searches) == 0 {
		return nil
	}
	return d.searches[len(d.searches)-1]
}

// dialer returns a Dialer connecting to d.
func (d *fakeDirectory) dialer() Dialer {
	return DialerFunc(func(ctx context.Context, serverURL string, cfg *ConnectionConfig) (Transport, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.dials++
		if d.dialErr != nil {
			return nil, d.dialErr
		}
		return &fakeTransport{dir: d, url: serverURL}, nil
	})
}

// config returns a configuration for d binding as bindDN.
func (d *fakeDirectory) config(bindDN string, mutate ...func(*ConnectionConfig)) *ConnectionConfig {
	cfg := &ConnectionConfig{
		Hostname:     "ldap.example.com",
		BindDN:       bindDN,
		BindPassword: d.users[bindDN],
		RootDN:       "dc=example,dc=com",
	}
	for _, m := range mutate {
		m(cfg)
	}
	return cfg
}

// connection returns a connection to d binding as bindDN.
func (d *fakeDirectory) connection(bindDN string, mutate ...func(*ConnectionConfig)) *Connection {
	c, err := NewConnection(context.Background(), d.config(bindDN, mutate...), WithDialer(d.dialer()))
	if err != nil {
		panic(err)
	}
	return c
}

func resultError(code uint16, msg string) error {
	return ldap.NewError(code, errors.New(msg))
}

type fakeTransport struct {
	dir *fakeDirectory
	url string
}

func (t *fakeTransport) Bind(username, password string) error {
	d := t.dir
	d.mu.Lock()
	defer d.mu.Unlock()
	d.binds = append(d.binds, username)

	if password == "" {
		return resultError(ldap.ErrorEmptyPassword, "ldap: empty password not allowed by the client")
	}
	if pw, ok := d.users[username]; !ok || pw != password {
		return resultError(ldap.LDAPResultInvalidCredentials, "invalid credentials")
	}
	return nil
}

func (t *fakeTransport) GSSAPIBind(ldap.GSSAPIClient, string, string) error {
	return resultError(ldap.LDAPResultAuthMethodNotSupported, "GSSAPI is not supported")
}

func (t *fakeTransport) StartTLS(*tls.Config) error {
	t.dir.mu.Lock()
	defer t.dir.mu.Unlock()
	t.dir.startTLS++
	return t.dir.startTLSErr
}

func (t *fakeTransport) SetTimeout(time.Duration) {}

func (t *fakeTransport) Close() error {
	t.dir.mu.Lock()
	defer t.dir.mu.Unlock()
	t.dir.closed++
	return nil
}

func (t *fakeTransport) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	d := t.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	copied := *req
	copied.Controls = slices.Clone(req.Controls)
	d.searches = append(d.searches, &copied)

	if req.BaseDN == "" && req.Scope == ldap.ScopeBaseObject {
		if d.rootDSEErr != nil {
			return nil, d.rootDSEErr
		}
		if d.rootDSE == nil {
			return &ldap.SearchResult{}, nil
		}
		return &ldap.SearchResult{Entries: []*ldap.Entry{ldap.NewEntry("", d.rootDSE)}}, nil
	}

	paging, _ := ldap.FindControl(req.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
	if paging != nil {
		sent := *paging
		sent.Cookie = slices.Clone(paging.Cookie)
		d.pagingControls = append(d.pagingControls, sent)
		d.pagingCritical = append(d.pagingCritical, encodedCriticality(paging))
	}
	if paging != nil && paging.PagingSize == 0 {
		if d.abandonErr != nil {
			return nil, d.abandonErr
		}
		if _, ok := d.cursors[string(paging.Cookie)]; ok {
			delete(d.cursors, string(paging.Cookie))
			d.released++
		}
		return &ldap.SearchResult{}, nil
	}

	if d.searchErr != nil {
		return nil, d.searchErr
	}

	base := strings.ToLower(req.BaseDN)
	if _, ok := d.entries[base]; !ok {
		return nil, resultError(ldap.LDAPResultNoSuchObject, "no such object")
	}

	filter, err := ldap.CompileFilter(req.Filter)
	if err != nil {
		return nil, resultError(ldap.LDAPResultFilterError, err.Error())
	}

	var matches []*fakeEntry
	for _, key := range d.order {
		e := d.entries[key]
		if inScope(e.dn, req.BaseDN, req.Scope) && matchFilter(filter, e.attrs) {
			matches = append(matches, e)
		}
	}

	if paging != nil {
		return d.page(req, paging, matches)
	}

	limit := req.SizeLimit
	if d.sizeLimit > 0 && (limit == 0 || d.sizeLimit < limit) {
		limit = d.sizeLimit
	}
	res := &ldap.SearchResult{}
	for i, e := range matches {
		if limit > 0 && i >= limit {
			return res, resultError(ldap.LDAPResultSizeLimitExceeded, "size limit exceeded")
		}
		res.Entries = append(res.Entries, project(e, req.Attributes))
	}
	return res, nil
}

func (d *fakeDirectory) page(req *ldap.SearchRequest, paging *ldap.ControlPaging, matches []*fakeEntry) (*ldap.SearchResult, error) {
	offset := 0
	if len(paging.Cookie) > 0 {
		var ok bool
		if offset, ok = d.cursors[string(paging.Cookie)]; !ok {
			return nil, resultError(ldap.LDAPResultUnwillingToPerform, "unknown paged results cookie")
		}
		delete(d.cursors, string(paging.Cookie))
	}

	res := &ldap.SearchResult{}
	if d.sizeLimit > 0 && offset >= d.sizeLimit {
		return res, resultError(ldap.LDAPResultSizeLimitExceeded, "size limit exceeded")
	}

	end := min(offset+int(paging.PagingSize), len(matches))
	for _, e := range matches[offset:end] {
		res.Entries = append(res.Entries, project(e, req.Attributes))
	}

	control := ldap.NewControlPaging(0)
	if end < len(matches) {
		d.nextID++
		cookie := fmt.Sprintf("cursor-%d", d.nextID)
		d.cursors[cookie] = end
		control.SetCookie([]byte(cookie))
	}
	res.Controls = []ldap.Control{control}
	if d.onPage != nil {
		d.onPage(end)
	}
	return res, nil
}

func (t *fakeTransport) Add(req *ldap.AddRequest) error {
	d := t.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[strings.ToLower(req.DN)]; ok {
		return resultError(ldap.LDAPResultEntryAlreadyExists, "entry already exists")
	}
	if parent, err := ParentDN(req.DN); err == nil && parent != "" {
		if _, ok := d.entries[strings.ToLower(parent)]; !ok {
			return resultError(ldap.LDAPResultNoSuchObject, "parent does not exist")
		}
	}

	attrs := map[string][]string{}
	for _, a := range req.Attributes {
		attrs[a.Type] = slices.Clone(a.Vals)
	}
	d.put(&fakeEntry{dn: req.DN, attrs: attrs})
	return nil
}

func (t *fakeTransport) Modify(req *ldap.ModifyRequest) error {
	d := t.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[strings.ToLower(req.DN)]
	if !ok {
		return resultError(ldap.LDAPResultNoSuchObject, "no such object")
	}

	for _, change := range req.Changes {
		name := attrKey(e.attrs, change.Modification.Type)
		switch change.Operation {
		case ldap.AddAttribute:
			e.attrs[name] = append(e.attrs[name], change.Modification.Vals...)
		case ldap.DeleteAttribute:
			if len(change.Modification.Vals) == 0 {
				delete(e.attrs, name)
				continue
			}
			e.attrs[name] = slices.DeleteFunc(e.attrs[name], func(v string) bool {
				return slices.Contains(change.Modification.Vals, v)
			})
			if len(e.attrs[name]) == 0 {
				delete(e.attrs, name)
			}
		case ldap.ReplaceAttribute:
			if len(change.Modification.Vals) == 0 {
				delete(e.attrs, name)
				continue
			}
			e.attrs[name] = slices.Clone(change.Modification.Vals)
		}
	}
	return nil
}

func (t *fakeTransport) ModifyDN(req *ldap.ModifyDNRequest) error {
	d := t.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[strings.ToLower(req.DN)]
	if !ok {
		return resultError(ldap.LDAPResultNoSuchObject, "no such object")
	}

	parent := req.NewSuperior
	if parent == "" {
		parent, _ = ParentDN(req.DN)
	}
	if _, ok := d.entries[strings.ToLower(parent)]; !ok {
		return resultError(ldap.LDAPResultNoSuchObject, "new superior does not exist")
	}

	newDN := req.NewRDN + "," + parent
	if _, ok := d.entries[strings.ToLower(newDN)]; ok {
		return resultError(ldap.LDAPResultEntryAlreadyExists, "entry already exists")
	}

	d.remove(e.dn)
	e.dn = newDN
	d.put(e)
	return nil
}

func (t *fakeTransport) Del(req *ldap.DelRequest) error {
	d := t.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[strings.ToLower(req.DN)]; !ok {
		return resultError(ldap.LDAPResultNoSuchObject, "no such object")
	}
	for _, key := range d.order {
		if inScope(d.entries[key].dn, req.DN, ldap.ScopeSingleLevel) {
			return resultError(ldap.LDAPResultNotAllowedOnNonLeaf, "entry has children")
		}
	}

	d.remove(req.DN)
	d.deletions = append(d.deletions, req.DN)
	return nil
}

// encodedCriticality reports the criticality flag of control as it goes
// on the wire. An absent BOOLEAN means false.
func encodedCriticality(control ldap.Control) bool {
	for _, child := range control.Encode().Children {
		if child.Tag == ber.TagBoolean {
			critical, _ := child.Value.(bool)
			return critical
		}
	}
	return false
}

func inScope(dn, base string, scope int) bool {
	switch scope {
	case ldap.ScopeBaseObject:
		return strings.EqualFold(dn, base)
	case ldap.ScopeSingleLevel:
		parent, err := ParentDN(dn)
		return err == nil && strings.EqualFold(parent, base)
	default:
		if strings.EqualFold(dn, base) {
			return true
		}
		child, err := IsDNChild(dn, base)
		return err == nil && child
	}
}

func attrKey(attrs map[string][]string, name string) string {
	for k := range attrs {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

func project(e *fakeEntry, requested []string) *ldap.Entry {
	if len(requested) == 0 || slices.Contains(requested, "*") || slices.Contains(requested, "+") {
		return ldap.NewEntry(e.dn, e.attrs)
	}

	attrs := map[string][]string{}
	for _, name := range requested {
		if name == noAttributes {
			continue
		}
		key := attrKey(e.attrs, name)
		if values, ok := e.attrs[key]; ok {
			attrs[key] = values
		}
	}
	return ldap.NewEntry(e.dn, attrs)
}

// matchFilter evaluates a compiled search filter against attrs, comparing
// values case-insensitively.
func matchFilter(f *ber.Packet, attrs map[string][]string) bool {
	values := func(p *ber.Packet) []string {
		return attrs[attrKey(attrs, fmt.Sprint(p.Value))]
	}

	switch f.Tag {
	case ldap.FilterAnd:
		for _, child := range f.Children {
			if !matchFilter(child, attrs) {
				return false
			}
		}
		return true
	case ldap.FilterOr:
		for _, child := range f.Children {
			if matchFilter(child, attrs) {
				return true
			}
		}
		return false
	case ldap.FilterNot:
		return !matchFilter(f.Children[0], attrs)
	case ldap.FilterPresent:
		if strings.EqualFold(f.Data.String(), "objectClass") {
			return true
		}
		return len(attrs[attrKey(attrs, f.Data.String())]) > 0
	case ldap.FilterEqualityMatch, ldap.FilterApproxMatch:
		want := strings.ToLower(fmt.Sprint(f.Children[1].Value))
		return slices.ContainsFunc(values(f.Children[0]), func(v string) bool { return strings.ToLower(v) == want })
	case ldap.FilterGreaterOrEqual:
		want := strings.ToLower(fmt.Sprint(f.Children[1].Value))
		return slices.ContainsFunc(values(f.Children[0]), func(v string) bool { return strings.ToLower(v) >= want })
	case ldap.FilterLessOrEqual:
		want := strings.ToLower(fmt.Sprint(f.Children[1].Value))
		return slices.ContainsFunc(values(f.Children[0]), func(v string) bool { return strings.ToLower(v) <= want })
	case ldap.FilterSubstrings:
		pattern := ""
		for _, part := range f.Children[1].Children {
			value := strings.ToLower(fmt.Sprint(part.Value))
			switch part.Tag {
			case ldap.FilterSubstringsInitial:
				pattern = value + "*"
			case ldap.FilterSubstringsAny:
				if pattern == "" {
					pattern = "*"
				}
				pattern += value + "*"
			case ldap.FilterSubstringsFinal:
				if pattern == "" {
					pattern = "*"
				}
				pattern += value
			}
		}
		return slices.ContainsFunc(values(f.Children[0]), func(v string) bool {
			return wildcardMatch(pattern, strings.ToLower(v))
		})
	default:
		return false
	}
}
