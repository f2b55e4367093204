// Package privacy provides privacy tag handling for bubbles.
package privacy

import (
	"regexp"
	"strings"
)

// privateTagRegex matches <private>...</private> tags.
var privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// IsEntirelyPrivate checks if the text is entirely within <private> tags.
func IsEntirelyPrivate(text string) bool {
	return strings.TrimSpace(StripPrivateTags(text)) == ""
}

// Clean strips private spans and trims whitespace. Comment text passes
// through here before it is sent to any remote provider.
func Clean(text string) string {
	return strings.TrimSpace(StripPrivateTags(text))
}
