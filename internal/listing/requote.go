package listing

import "strings"

// Characters left untouched when requoting, in addition to the unreserved set.
const (
	requoteSafe          = "!#$%&'()*+,/:;=?@[]~"
	requoteSafeNoPercent = "!#$&'()*+,/:;=?@[]~"
	upperhex             = "0123456789ABCDEF"
)

// RequoteURI re-escapes a URI so it only carries characters safe for
// transmission. Escapes of unreserved characters are decoded, other escapes
// are kept, and everything unsafe is percent-encoded, including a bare '%'.
// A '%' followed by two non-hex alphanumerics makes every '%' literal.
// Applying RequoteURI to its own output returns the same string.
func RequoteURI(uri string) string {
	unquoted, ok := unquoteUnreserved(uri)
	if !ok {
		return quote(uri, requoteSafeNoPercent)
	}
	return quote(unquoted, requoteSafe)
}

// unquoteUnreserved decodes percent-escapes of unreserved characters and
// turns a '%' that does not start an escape into %25. It reports false when
// a '%' is followed by two alphanumerics that are not hex digits.
func unquoteUnreserved(uri string) (string, bool) {
	parts := strings.Split(uri, "%")
	var b strings.Builder
	b.Grow(len(uri))
	b.WriteString(parts[0])
	for _, part := range parts[1:] {
		if len(part) >= 2 {
			hi, okHi := unhex(part[0])
			lo, okLo := unhex(part[1])
			if okHi && okLo {
				if c := hi<<4 | lo; isUnreserved(c) {
					b.WriteByte(c)
					b.WriteString(part[2:])
					continue
				}
				b.WriteByte('%')
				b.WriteString(part)
				continue
			}
			if isAlnum(part[0]) && isAlnum(part[1]) {
				return "", false
			}
		}
		b.WriteString("%25")
		b.WriteString(part)
	}
	return b.String(), true
}

func quote(s, safe string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return isAlnum(c) || c == '-' || c == '.' || c == '_' || c == '~'
}

func isAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
