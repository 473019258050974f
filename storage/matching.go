package storage

import (
	"github.com/tidwall/match"
)

// MatchPattern reports whether key matches a KEYS glob pattern. '*' matches
// any run of characters and '?' exactly one.
func MatchPattern(key, pattern string) bool {
	if pattern == "*" {
		return true
	}
	return match.Match(key, pattern)
}
