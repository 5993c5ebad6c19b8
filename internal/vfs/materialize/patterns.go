package materialize

import "strings"

// MatchesPattern reports whether path matches an exclusion pattern.
//
// A pattern containing "**" is split at the first "**": the path must
// contain both the text before it and the text after it. Any other pattern
// matches when it occurs anywhere in the path. An empty pattern matches
// nothing.
//
//	MatchesPattern("src/node_modules/x.js", "node_modules") // true
//	MatchesPattern("pkg/mod.pyc", "**.pyc")                 // true
func MatchesPattern(path, pattern string) bool {
	if pattern == "" {
		return false
	}
	if i := strings.Index(pattern, "**"); i >= 0 {
		prefix, suffix := pattern[:i], pattern[i+2:]
		return strings.Contains(path, prefix) && strings.Contains(path, suffix)
	}
	return strings.Contains(path, pattern)
}

// matchesAny reports whether path matches any of patterns.
func matchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if MatchesPattern(path, pattern) {
			return true
		}
	}
	return false
}
