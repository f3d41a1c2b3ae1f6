// Package scope implements the glob grammar shared by lease conflict
// detection and policy rule matching.
//
// Grammar: a pattern is a literal path in which '*' matches any run of
// characters excluding '/', and '**' matches any run of characters
// including '/'. There is no character-class or '?' support.
package scope

import (
	"regexp"
	"strings"
)

// Match reports whether path matches pattern under the package grammar.
// A pattern with no wildcards only matches the identical string.
func Match(pattern, path string) bool {
	re, err := compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(path)
}

func compile(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); {
		if pattern[i] == '*' {
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i += 2
			} else {
				b.WriteString("[^/]*")
				i++
			}
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(pattern[i])))
		i++
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// LiteralPrefix returns the portion of pattern before its first wildcard.
// For a wildcard-free pattern this is the whole pattern.
func LiteralPrefix(pattern string) string {
	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// Overlaps reports whether two scope sets can touch the same files. It is
// symmetric. Two patterns overlap when either glob-matches the other's
// literal string, or when one pattern's literal prefix is a prefix of the
// other's. The prefix rule catches pairs like "src/**" vs "src/foo/**"
// where neither glob-matches the other.
func Overlaps(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if patternsOverlap(pa, pb) {
				return true
			}
		}
	}
	return false
}

func patternsOverlap(a, b string) bool {
	if Match(a, b) || Match(b, a) {
		return true
	}
	pa, pb := LiteralPrefix(a), LiteralPrefix(b)
	return strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa)
}
