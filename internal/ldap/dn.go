package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

const hexDigits = "0123456789abcdef"

// QuoteForDN escapes the characters with a special meaning inside a DN
// attribute value as a backslash followed by two lowercase hex digits.
//
//	QuoteForDN("Doe, John") == `Doe\2c John`
func QuoteForDN(value string) string {
	return escapeChars(value, ",=+<>;\\\"#")
}

// QuoteForSearch escapes a value for use inside a search filter.
// The asterisk is left untouched when allowWildcard is set.
func QuoteForSearch(value string, allowWildcard bool) string {
	if allowWildcard {
		return escapeChars(value, "()\\\x00")
	}
	return escapeChars(value, "*()\\\x00")
}

func escapeChars(value, special string) string {
	if !strings.ContainsAny(value, special) {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)
	for i := 0; i < len(value); i++ {
		c := value[i]
		if strings.IndexByte(special, c) >= 0 {
			b.WriteByte('\\')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ExplodeDN splits dn into its RDN components with unescaped values.
// Components are "type=value", or the bare value when withTypes is false.
// Multi-valued RDNs stay a single component joined with "+".
func ExplodeDN(dn string, withTypes bool) ([]string, error) {
	if strings.TrimSpace(dn) == "" {
		return []string{}, nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, fmt.Errorf("invalid DN syntax: %w", err)
	}

	parts := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		values := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			if withTypes {
				values = append(values, attr.Type+"="+attr.Value)
			} else {
				values = append(values, attr.Value)
			}
		}
		parts = append(parts, strings.Join(values, "+"))
	}

	return parts, nil
}

// ImplodeDN joins RDN components produced by ExplodeDN back into a DN,
// escaping every value with QuoteForDN.
func ImplodeDN(parts []string) string {
	rdns := make([]string, 0, len(parts))
	for _, part := range parts {
		avas := splitMultiValuedRDN(part)
		for i, ava := range avas {
			attrType, value, ok := strings.Cut(ava, "=")
			if !ok {
				avas[i] = QuoteForDN(ava)
				continue
			}
			avas[i] = attrType + "=" + QuoteForDN(value)
		}
		rdns = append(rdns, strings.Join(avas, "+"))
	}
	return strings.Join(rdns, ",")
}

// splitMultiValuedRDN splits "a=1+b=2" at each "+" that starts a new
// "type=" assertion. Other plus signs belong to the value.
func splitMultiValuedRDN(rdn string) []string {
	var avas []string
	start := 0
	for i := 0; i < len(rdn); i++ {
		if rdn[i] != '+' || !startsAttributeAssertion(rdn[i+1:]) {
			continue
		}
		if !strings.Contains(rdn[start:i], "=") {
			continue
		}
		avas = append(avas, rdn[start:i])
		start = i + 1
	}
	return append(avas, rdn[start:])
}

func startsAttributeAssertion(s string) bool {
	attrType, _, ok := strings.Cut(s, "=")
	if !ok || attrType == "" {
		return false
	}
	for i := 0; i < len(attrType); i++ {
		c := attrType[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9', c == '-', c == '.':
			if i == 0 && c == '-' {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// NormalizeDN returns dn with lower-case attribute types and canonically
// escaped values, suitable for map keys and comparisons.
func NormalizeDN(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	return renderDN(parsed.RDNs, true), nil
}

func renderDN(rdns []*ldap.RelativeDN, lowerTypes bool) string {
	parts := make([]string, 0, len(rdns))
	for _, rdn := range rdns {
		parts = append(parts, renderRDN(rdn, lowerTypes))
	}
	return strings.Join(parts, ",")
}

func renderRDN(rdn *ldap.RelativeDN, lowerTypes bool) string {
	avas := make([]string, 0, len(rdn.Attributes))
	for _, attr := range rdn.Attributes {
		attrType := attr.Type
		if lowerTypes {
			attrType = strings.ToLower(attrType)
		}
		avas = append(avas, attrType+"="+QuoteForDN(attr.Value))
	}
	return strings.Join(avas, "+")
}

// EqualDN reports whether a and b name the same entry, ignoring case and
// escaping differences. Unparsable input falls back to a case-insensitive
// string comparison.
func EqualDN(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}

	pa, errA := ldap.ParseDN(a)
	pb, errB := ldap.ParseDN(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}

	return pa.EqualFold(pb)
}

// ParentDN returns dn without its first RDN.
func ParentDN(dn string) (string, error) {
	_, parent, err := SplitDN(dn)
	if err != nil {
		return "", err
	}
	if parent == "" {
		return "", fmt.Errorf("DN has no parent: %s", dn)
	}
	return parent, nil
}

// SplitDN separates the first RDN of dn from its parent DN.
func SplitDN(dn string) (rdn, parent string, err error) {
	if strings.TrimSpace(dn) == "" {
		return "", "", fmt.Errorf("DN cannot be empty")
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", "", fmt.Errorf("invalid DN syntax: %w", err)
	}
	if len(parsed.RDNs) == 0 {
		return "", "", fmt.Errorf("DN cannot be empty")
	}

	return renderRDN(parsed.RDNs[0], false), renderDN(parsed.RDNs[1:], false), nil
}

// IsDNChild checks if childDN is a direct or indirect child of parentDN.
func IsDNChild(childDN, parentDN string) (bool, error) {
	if childDN == "" || parentDN == "" {
		return false, fmt.Errorf("DNs cannot be empty")
	}

	parsedChild, err := ldap.ParseDN(childDN)
	if err != nil {
		return false, fmt.Errorf("invalid child DN syntax: %w", err)
	}

	parsedParent, err := ldap.ParseDN(parentDN)
	if err != nil {
		return false, fmt.Errorf("invalid parent DN syntax: %w", err)
	}

	return parsedParent.AncestorOfFold(parsedChild), nil
}

// RDNValue extracts the value of the first RDN component with the specified attribute type.
// For example, extracting "cn" from "CN=John Doe,OU=Users,DC=example,DC=com" returns "John Doe".
func RDNValue(dn, attrType string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, attrType) {
				return attr.Value, nil
			}
		}
	}

	return "", fmt.Errorf("attribute type '%s' not found in DN '%s'", attrType, dn)
}

// trimDNSuffix removes suffix from dn when dn lies below it, comparing case-insensitively.
func trimDNSuffix(dn, suffix string) (string, bool) {
	if suffix == "" {
		return dn, true
	}
	if len(dn) <= len(suffix) || !strings.EqualFold(dn[len(dn)-len(suffix):], suffix) {
		return dn, false
	}
	rest := dn[:len(dn)-len(suffix)]
	if !strings.HasSuffix(rest, ",") {
		return dn, false
	}
	return strings.TrimSuffix(rest, ","), true
}
