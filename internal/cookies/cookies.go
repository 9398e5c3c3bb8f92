// internal/cookies/cookies.go
package cookies

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

// Cookie is a cookie as shown by the inspector. Only Name, Value and Size are
// populated when the cookie came from a raw header string.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Size     int     `json:"size"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	Session  bool    `json:"session,omitempty"`
}

var separator = regexp.MustCompile(`;\s*`)

// Parse turns a raw "Cookie:" header value into cookies. Entries are split on
// ';' plus any following whitespace, each entry on its first '='. An entry
// without '=' becomes a cookie with an empty name and the entry as its value.
// A blank string yields an empty, non-nil slice.
func Parse(raw string) []Cookie {
	out := []Cookie{}
	if strings.TrimSpace(raw) == "" {
		return out
	}

	for _, entry := range separator.Split(raw, -1) {
		name, value, found := strings.Cut(entry, "=")
		if !found {
			name, value = "", entry
		}
		out = append(out, Cookie{
			Name:  name,
			Value: value,
			Size:  utf16Len(name) + utf16Len(value),
		})
	}
	return out
}

// utf16Len counts UTF-16 code units, the unit the inspector reports sizes in.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
