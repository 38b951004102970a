package ldap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ValueKind tells apart absent, single and multi valued attributes.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueScalar
	ValueList
)

// Value is a normalized attribute value.
type Value struct {
	kind   ValueKind
	values []string
}

// Null returns the value of an attribute missing from a response.
func Null() Value {
	return Value{}
}

// Scalar returns a single valued attribute value.
func Scalar(s string) Value {
	return Value{kind: ValueScalar, values: []string{s}}
}

// List returns a multi valued attribute value.
func List(values ...string) Value {
	return Value{kind: ValueList, values: slices.Clone(values)}
}

func valueOf(values []string) Value {
	switch len(values) {
	case 0:
		return Null()
	case 1:
		return Scalar(values[0])
	default:
		return List(values...)
	}
}

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNull() bool { return v.kind == ValueNull }

func (v Value) IsList() bool { return v.kind == ValueList }

// First returns the first value, or "" for null.
func (v Value) First() string {
	if len(v.values) == 0 {
		return ""
	}
	return v.values[0]
}

// Strings returns all values in server order.
func (v Value) Strings() []string {
	return slices.Clone(v.values)
}

// String renders scalars as-is and lists comma separated.
func (v Value) String() string {
	return strings.Join(v.values, ", ")
}

// Least returns the smallest value, or the greatest when desc is set.
func (v Value) Least(desc bool) string {
	if len(v.values) == 0 {
		return ""
	}
	least := v.values[0]
	for _, s := range v.values[1:] {
		if (!desc && s < least) || (desc && s > least) {
			least = s
		}
	}
	return least
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueScalar:
		return json.Marshal(v.First())
	case ValueList:
		return json.Marshal(v.values)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = Scalar(t)
	case []any:
		values := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("attribute list items must be strings, got %T", item)
			}
			values = append(values, s)
		}
		*v = List(values...)
	default:
		return fmt.Errorf("attribute value must be null, a string or a list of strings, got %T", raw)
	}
	return nil
}

// Entry is one normalized search result row.
type Entry struct {
	DN         string
	Attributes map[string]Value
}

// Get returns the attribute stored under key, matching case-insensitively
// when there is no exact match.
func (e *Entry) Get(key string) Value {
	if v, ok := e.Attributes[key]; ok {
		return v
	}
	for k, v := range e.Attributes {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return Null()
}

// Keys returns the attribute keys in sorted order.
func (e *Entry) Keys() []string {
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (e *Entry) clone() *Entry {
	attrs := make(map[string]Value, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Entry{DN: e.DN, Attributes: attrs}
}

// noAttributes requests no attributes at all (RFC 4511 section 4.5.1.8).
const noAttributes = "1.1"

// Normalizer maps raw wire attributes onto the requested fields.
type Normalizer struct {
	fields  []Field
	aliases map[string][]string // lower-case attribute name -> aliases
	unfold  string
}

// NewNormalizer prepares a normalizer for fields. When unfold names an
// alias, entries holding a list for it are expanded into one row per value.
func NewNormalizer(fields []Field, unfold string) *Normalizer {
	n := &Normalizer{
		fields:  fields,
		aliases: make(map[string][]string, len(fields)),
		unfold:  unfold,
	}
	for _, f := range fields {
		name := strings.ToLower(f.Name)
		if !slices.Contains(n.aliases[name], f.Key()) {
			n.aliases[name] = append(n.aliases[name], f.Key())
		}
	}
	return n
}

// Normalize converts a wire entry into one row, or several when unfolded.
func (n *Normalizer) Normalize(ctx context.Context, raw *ldap.Entry) []*Entry {
	entry := &Entry{DN: raw.DN, Attributes: make(map[string]Value, len(raw.Attributes))}

	for _, attr := range raw.Attributes {
		value := valueOf(renderAttributeValues(attr))
		if keys, ok := n.aliases[strings.ToLower(attr.Name)]; ok {
			for _, key := range keys {
				entry.Attributes[key] = value
			}
			continue
		}
		entry.Attributes[attr.Name] = value
	}

	for _, f := range n.fields {
		if f.Name == "*" || f.Name == "+" || f.Name == noAttributes {
			continue
		}
		if _, ok := entry.Attributes[f.Key()]; !ok {
			entry.Attributes[f.Key()] = Null()
			tflog.SubsystemDebug(ctx, Subsystem, "LDAP query result does not provide the requested field", map[string]any{
				"field": f.Name,
				"dn":    raw.DN,
			})
		}
	}

	if n.unfold == "" || !entry.Attributes[n.unfold].IsList() {
		return []*Entry{entry}
	}

	return n.unfoldEntry(entry)
}

func (n *Normalizer) unfoldEntry(entry *Entry) []*Entry {
	var siblings []string
	for _, keys := range n.aliases {
		if slices.Contains(keys, n.unfold) {
			for _, k := range keys {
				if k != n.unfold {
					siblings = append(siblings, k)
				}
			}
			break
		}
	}

	values := entry.Attributes[n.unfold].values
	rows := make([]*Entry, 0, len(values))
	for _, value := range values {
		row := entry.clone()
		row.Attributes[n.unfold] = Scalar(value)
		for _, sibling := range siblings {
			row.Attributes[sibling] = Scalar(value)
		}
		rows = append(rows, row)
	}
	return rows
}

// renderAttributeValues converts raw values to strings. objectSid and
// objectGUID get their textual forms, other binary values become base64.
func renderAttributeValues(attr *ldap.EntryAttribute) []string {
	if len(attr.ByteValues) != len(attr.Values) {
		return attr.Values
	}

	values := make([]string, 0, len(attr.ByteValues))
	for _, raw := range attr.ByteValues {
		values = append(values, renderBinary(attr.Name, raw))
	}
	return values
}

func renderBinary(name string, raw []byte) string {
	switch {
	case strings.EqualFold(name, "objectSid"):
		if sid, ok := renderSID(raw); ok {
			return sid
		}
	case strings.EqualFold(name, "objectGUID"):
		if guid, ok := renderGUID(raw); ok {
			return guid
		}
	}

	if utf8.Valid(raw) {
		return string(raw)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// renderSID decodes a binary security identifier. Values already in
// S-1-... form are passed through.
func renderSID(raw []byte) (string, bool) {
	if len(raw) < 8 || strings.HasPrefix(string(raw), "S-") {
		return "", false
	}
	if int(raw[1])*4+8 != len(raw) {
		return "", false
	}
	return objectsid.Decode(raw).String(), true
}

// renderGUID converts Active Directory's mixed-endian GUID layout to the
// canonical textual form.
func renderGUID(raw []byte) (string, bool) {
	if len(raw) != 16 {
		return "", false
	}
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = raw[3], raw[2], raw[1], raw[0]
	b[4], b[5] = raw[5], raw[4]
	b[6], b[7] = raw[7], raw[6]
	copy(b[8:], raw[8:])

	id, err := uuid.FromBytes(b)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
