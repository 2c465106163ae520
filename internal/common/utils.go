package common

import "strings"

// HasAny returns true if s contains any of the substrings (case-insensitive).
func HasAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Slug lower-cases s and joins its words with '-', so it can be used as a
// single path segment. Underscores are folded too; they separate folder key parts.
func Slug(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(s)), func(r rune) bool {
		return r == ' ' || r == '_' || r == '\t'
	})
	return strings.Join(fields, "-")
}
