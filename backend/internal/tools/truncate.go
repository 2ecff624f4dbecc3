package tools

import (
	"fmt"
	"unicode/utf8"
)

// truncateOutput keeps the head and tail of s when it exceeds max characters
// and marks how much of the middle was dropped. Cuts fall on rune boundaries.
func truncateOutput(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	headEnd := max / 2
	for headEnd > 0 && !utf8.RuneStart(s[headEnd]) {
		headEnd--
	}
	tailStart := len(s) - (max - max/2)
	for tailStart < len(s) && !utf8.RuneStart(s[tailStart]) {
		tailStart++
	}
	removed := tailStart - headEnd
	marker := fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. Re-run the tool with more targeted parameters to see specific parts.]\n\n", removed)
	return s[:headEnd] + marker + s[tailStart:]
}
