// Package extract finds email addresses in free-form text.
package extract

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// trimSet lists the punctuation stripped from both ends of a match.
const trimSet = "\"<>[]()"

// Email returns the first email-like token in text, in document order.
// The boolean is false when no token matches.
func Email(text string) (string, bool) {
	match := emailPattern.FindString(text)
	if match == "" {
		return "", false
	}
	cleaned := strings.Trim(match, trimSet)
	if cleaned == "" {
		return "", false
	}
	return cleaned, true
}
