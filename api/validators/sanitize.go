package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims whitespace, strips control characters, and caps the
// length of caller-supplied identifiers such as SKU and reference ids.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	if maxLen > 0 && len(cleaned) > maxLen {
		return cleaned[:maxLen]
	}
	return cleaned
}
