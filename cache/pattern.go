package cache

import "regexp"

// MatchPattern reports whether key matches a glob-style pattern where "?"
// matches exactly one character and "*" matches zero or more. It compiles
// the pattern on every call; the in-module backends without a native
// pattern primitive (membackend, slotcache) use CompiledPattern instead.
func MatchPattern(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return compilePattern(pattern).MatchString(key)
}

// compilePattern compiles pattern once per call, as §4.1.3 specifies for the
// in-memory backend (no pattern cache is kept — callers that need to match
// many keys against one pattern should call regexp themselves via
// CompiledPattern).
func compilePattern(pattern string) *regexp.Regexp {
	return CompiledPattern(pattern)
}

// CompiledPattern compiles a glob pattern into a regexp anchored at both
// ends, for callers that want to match many keys against the same pattern
// without recompiling each time.
func CompiledPattern(pattern string) *regexp.Regexp {
	out := make([]byte, 0, len(pattern)*2)
	out = append(out, '^')
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			out = append(out, '.', '*')
		case '?':
			out = append(out, '.')
		default:
			if isRegexMeta(c) {
				out = append(out, '\\')
			}
			out = append(out, c)
		}
	}
	out = append(out, '$')
	return regexp.MustCompile(string(out))
}

func isRegexMeta(c byte) bool {
	switch c {
	case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\':
		return true
	}
	return false
}
