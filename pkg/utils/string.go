package utils

import (
	"strings"
	"unicode"
)

const maxAliasLength = 64

// SanitizeAlias strips control characters and bounds the length of a
// display name announced to other room members.
func SanitizeAlias(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if runes := []rune(s); len(runes) > maxAliasLength {
		s = string(runes[:maxAliasLength])
	}
	return s
}

// TruncateString truncates a string to max length
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
