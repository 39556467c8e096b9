// Package match provides the pattern matcher used for policy action and
// resource selectors.
package match

import "strings"

// Kind discriminates the supported pattern forms
type Kind int

const (
	// Exact matches the literal string
	Exact Kind = iota
	// WildcardAll matches everything ("*")
	WildcardAll
	// Prefix matches strings with the given prefix ("billing:*")
	Prefix
)

// Matcher is a compiled selector pattern
type Matcher struct {
	kind  Kind
	value string
}

// Compile parses a selector pattern into a Matcher. "*" matches all; a
// trailing "*" matches by prefix; anything else matches exactly.
func Compile(pattern string) Matcher {
	if pattern == "*" {
		return Matcher{kind: WildcardAll}
	}
	if strings.HasSuffix(pattern, "*") {
		return Matcher{kind: Prefix, value: strings.TrimSuffix(pattern, "*")}
	}
	return Matcher{kind: Exact, value: pattern}
}

// Kind returns the matcher's pattern form
func (m Matcher) Kind() Kind {
	return m.kind
}

// Matches reports whether s satisfies the pattern
func (m Matcher) Matches(s string) bool {
	switch m.kind {
	case WildcardAll:
		return true
	case Prefix:
		return strings.HasPrefix(s, m.value)
	default:
		return m.value == s
	}
}

// Any reports whether s satisfies at least one of the patterns
func Any(patterns []string, s string) bool {
	for _, p := range patterns {
		if Compile(p).Matches(s) {
			return true
		}
	}
	return false
}
