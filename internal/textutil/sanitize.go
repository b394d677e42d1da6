package textutil

import (
	"path/filepath"
	"strings"
	"unicode"
)

// maxTokenRunes bounds the length of a sanitized token so artifact names stay
// well under filesystem limits.
const maxTokenRunes = 64

// SanitizeToken converts a string to a lowercase filesystem-safe token.
// Letters and digits are kept (non-ASCII letters included), hyphens and
// underscores are kept, everything else becomes an underscore. Returns
// "unknown" for empty input.
func SanitizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	n := 0
	lastUnderscore := false
	for _, r := range value {
		if n >= maxTokenRunes {
			break
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if lastUnderscore {
				continue
			}
			b.WriteByte('_')
			lastUnderscore = true
		}
		n++
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}

// BaseToken returns the sanitized file name of path without its extension.
func BaseToken(path string) string {
	base := filepath.Base(path)
	return SanitizeToken(strings.TrimSuffix(base, filepath.Ext(base)))
}
