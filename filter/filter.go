package filter

import (
	"regexp"
	"strings"
)

// Ellipsis is appended to every shaped body, truncated or not.
const Ellipsis = "..."

// tagPattern matches markup tags. Feed bodies are pre-sanitized blog HTML,
// so a pattern is enough and no DOM parse is done.
var tagPattern = regexp.MustCompile(`<[^>]+>`)

// Shaper shapes update bodies to a fixed character cap.
type Shaper struct {
	maxChars int
}

// NewShaper creates a shaper that truncates to maxChars characters.
// A non-positive cap disables truncation.
func NewShaper(maxChars int) *Shaper {
	return &Shaper{maxChars: maxChars}
}

// Shape applies the shaper's cap together with the given phrases
func (s *Shaper) Shape(raw string, phrases []string) string {
	return Shape(raw, phrases, s.maxChars)
}

// Shape strips tags, removes every occurrence of each phrase in order,
// truncates to maxChars characters, trims whitespace and appends Ellipsis.
func Shape(raw string, phrases []string, maxChars int) string {
	text := StripTags(raw)
	text = RemovePhrases(text, phrases)
	text = truncate(text, maxChars)
	return strings.TrimSpace(text) + Ellipsis
}

// StripTags removes anything that looks like a markup tag.
func StripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

// RemovePhrases drops every literal occurrence of each phrase.
func RemovePhrases(s string, phrases []string) string {
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		s = strings.ReplaceAll(s, phrase, "")
	}
	return s
}

// truncate cuts s to at most maxChars runes
func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
