// Package filter implements the user-agent bot filter (component C): an
// ordered list of substrings/regex fragments compiled once into a single
// alternation matcher.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter matches a User-Agent header value against the configured block
// list. It is immutable and safe for concurrent use with no per-request
// allocation on the match path.
type Filter struct {
	matcher *regexp.Regexp
}

// New compiles patterns into one alternation. Each pattern is treated as a
// regex fragment: a literal substring like "Googlebot" matches itself,
// while a fragment containing "(?i)" or other regex syntax is honored as
// written, which is how a pattern "explicitly signals" case-insensitivity
// per spec.md §4.C. Compilation failures are fatal at startup.
func New(patterns []string) (*Filter, error) {
	if len(patterns) == 0 {
		return &Filter{matcher: nil}, nil
	}
	grouped := make([]string, len(patterns))
	for i, p := range patterns {
		grouped[i] = "(?:" + p + ")"
	}
	re, err := regexp.Compile(strings.Join(grouped, "|"))
	if err != nil {
		return nil, fmt.Errorf("filter: compile blocked_patterns: %w", err)
	}
	return &Filter{matcher: re}, nil
}

// IsBlocked reports whether userAgent matches any blocked pattern. An
// absent or empty User-Agent is never blocked.
func (f *Filter) IsBlocked(userAgent string) bool {
	if userAgent == "" || f.matcher == nil {
		return false
	}
	return f.matcher.MatchString(userAgent)
}
