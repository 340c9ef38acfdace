package util

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Key joins hierarchical cache key segments with "/", dropping empty ones and
// trimming stray slashes so "a/", "/b" and "a//b" cannot alias.
func Key(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "/")
}

// SetKey returns a deterministic key for an unordered set of members
// (e.g. the file list of a drag-and-drop scene): prefix + ":" + first 16 hex
// chars of the sha256 over the sorted members.
func SetKey(prefix string, members []string) string {
	s := make([]string, len(members))
	copy(s, members)
	sort.Strings(s)
	joined := strings.Join(s, ",")
	sum := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("%s:%x", prefix, sum)[:len(prefix)+1+16]
}
