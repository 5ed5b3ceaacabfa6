package embedding

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var ws = regexp.MustCompile(`\s+`)

// Normalize collapses whitespace and cuts text to maxChars runes (0 = no limit).
func Normalize(text string, maxChars int) string {
	text = strings.TrimSpace(ws.ReplaceAllString(text, " "))
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxChars]))
}
