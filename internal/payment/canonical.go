package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode/utf8"
)

// canonicalJSON renders a flat string map as compact JSON with sorted keys,
// non-ASCII characters kept as is, and only quote, backslash and control
// characters escaped. This is byte for byte what the gateway signs.
func canonicalJSON(params map[string]string) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeString(&b, k)
		b.WriteByte(':')
		writeString(&b, params[k])
	}
	b.WriteByte('}')
	return []byte(b.String())
}

const hexDigits = "0123456789abcdef"

func writeString(b *strings.Builder, s string) {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}

	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}

// sign is the hex HMAC-SHA256 of the canonical JSON of params.
func sign(secret string, params map[string]string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonicalJSON(params))
	return hex.EncodeToString(mac.Sum(nil))
}

// signatureEqual compares hex signatures in constant time.
func signatureEqual(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
