package crawler

import (
	"regexp"
	"unicode/utf8"
)

var invalidFilenameChars = regexp.MustCompile(`[\\/:*?"<>|.]`)

const maxFileNameLength = 255

// SanitizeFileName replaces characters that are unsafe in file names
// (including dots) with underscores and caps the length at 255 bytes.
func SanitizeFileName(raw string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(raw, "_")
	return Truncate(sanitized, maxFileNameLength)
}

// Truncate shortens s to at most max bytes without splitting a rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
