// Package identity extracts a declared proper-name identity from a
// vision-model description.
package identity

import (
	"regexp"
	"strings"
)

// Patterns in priority order. Labelled lines take the rest of the line;
// sentence patterns require at least two capitalized words.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)CELEBRITY:[ \t]*([^\n]+)`),
	regexp.MustCompile(`(?i)IDENTITY:[ \t]*([^\n]+)`),
	regexp.MustCompile(`(?i)NAME:[ \t]*([^\n]+)`),
	regexp.MustCompile(`This is\s+([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)+)`),
	regexp.MustCompile(`(?i:recognized as)\s+([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)+)`),
}

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// placeholders are answers that mean "no identity".
var placeholders = map[string]struct{}{
	"unknown":         {},
	"none":            {},
	"not recognized":  {},
	"unidentified":    {},
	"n/a":             {},
	"not a celebrity": {},
}

// minNameLen is the shortest accepted name after cleanup.
const minNameLen = 3

// Parse returns the first identity name confidently stated in description.
// A pattern whose capture is rejected falls through to the next pattern.
func Parse(description string) (string, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(description)
		if m == nil {
			continue
		}
		name := clean(m[1])
		if accept(name) {
			return name, true
		}
	}
	return "", false
}

func clean(s string) string {
	s = strings.Trim(s, " \t\r*_\"'`[]")
	s = strings.TrimRight(s, ".,;:!?")
	s = parenthetical.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.Trim(s, " \t\r*_\"'`[]")
	return strings.TrimRight(s, ".,;:!?")
}

func accept(name string) bool {
	if len([]rune(name)) < minNameLen {
		return false
	}
	_, placeholder := placeholders[strings.ToLower(name)]
	return !placeholder
}
