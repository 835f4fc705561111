package dispatch

import (
	"regexp"
	"strings"
	"sync"
)

// matcher matches event types against a pattern containing "*" segments.
// Compiled expressions are cached so repeated registrations of the same
// pattern share one regexp.
type matcher struct {
	pattern string
	re      *regexp.Regexp
}

var (
	patternCacheMu sync.Mutex
	patternCache   = make(map[string]*regexp.Regexp)
)

// isPattern reports whether the event type string contains a wildcard.
func isPattern(eventType string) bool {
	return strings.Contains(eventType, "*")
}

// compilePattern compiles a pattern where each "*" matches any run of
// characters. "task.*" matches "task.created" but not "other.created".
func compilePattern(pattern string) (*matcher, error) {
	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()

	if re, ok := patternCache[pattern]; ok {
		return &matcher{pattern: pattern, re: re}, nil
	}

	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, err
	}

	patternCache[pattern] = re
	return &matcher{pattern: pattern, re: re}, nil
}

func (m *matcher) matches(eventType string) bool {
	return m.re.MatchString(eventType)
}
