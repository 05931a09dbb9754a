package directory

import (
	"strings"
)

// EscapeDNValue escapes an attribute value for use inside a DN per RFC 4514.
func EscapeDNValue(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == ',' || c == '+' || c == '"' || c == '\\' || c == '<' || c == '>' || c == ';' || c == '=':
			b.WriteByte('\\')
			b.WriteByte(c)
		case (c == ' ' || c == '#') && (i == 0 || i == len(value)-1):
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// UnescapeDNValue reverses EscapeDNValue.
func UnescapeDNValue(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+1 < len(value) {
			i++
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

// ComposeDN builds "attr=value,base" with the value escaped.
func ComposeDN(attr, value, base string) string {
	return attr + "=" + EscapeDNValue(value) + "," + base
}

// SplitUnderBase extracts the RDN value of a DN that must sit directly under
// base with the given RDN attribute, e.g. uid=jdoe,ou=users,dc=example,dc=org.
// It returns false when the DN has a different shape or the value still
// contains an '=' after unescaping.
func SplitUnderBase(dn, attr, base string) (string, bool) {
	prefix := attr + "="
	suffix := "," + base
	if !strings.HasPrefix(dn, prefix) || !strings.HasSuffix(dn, suffix) {
		return "", false
	}
	raw := dn[len(prefix) : len(dn)-len(suffix)]
	value := UnescapeDNValue(raw)
	if strings.Contains(value, "=") && !strings.Contains(raw, "\\=") {
		return "", false
	}
	return value, true
}

// FirstRDN splits a DN into its first attr=value pair and the remainder.
func FirstRDN(dn string) (attr, value, rest string, ok bool) {
	// Find the first unescaped comma.
	end := len(dn)
	for i := 0; i < len(dn); i++ {
		if dn[i] == '\\' {
			i++
			continue
		}
		if dn[i] == ',' {
			end = i
			break
		}
	}
	head := dn[:end]
	eq := strings.IndexByte(head, '=')
	if eq <= 0 {
		return "", "", "", false
	}
	if end < len(dn) {
		rest = dn[end+1:]
	}
	return head[:eq], UnescapeDNValue(head[eq+1:]), rest, true
}

// escapeFilterValue escapes an assertion value per RFC 4515.
func escapeFilterValue(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		switch c := value[i]; c {
		case '(', ')', '*', '\\':
			b.WriteString("\\" + hexDigits[c>>4:c>>4+1] + hexDigits[c&0xf:c&0xf+1])
		case 0:
			b.WriteString("\\00")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

const hexDigits = "0123456789abcdef"

// ClassFilter builds an AND filter requiring every listed object class.
func ClassFilter(classes []string) string {
	if len(classes) == 0 {
		return "(objectClass=*)"
	}
	var b strings.Builder
	b.WriteString("(&")
	for _, cls := range classes {
		b.WriteString("(objectClass=")
		b.WriteString(escapeFilterValue(cls))
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

// EqualityFilter builds a single attribute equality assertion.
func EqualityFilter(attr, value string) string {
	return "(" + attr + "=" + escapeFilterValue(value) + ")"
}

// AndFilter combines filters with a conjunction.
func AndFilter(filters ...string) string {
	if len(filters) == 1 {
		return filters[0]
	}
	return "(&" + strings.Join(filters, "") + ")"
}
