// pkg/utils/paths.go - utility functions for working with file paths.

package utils

import (
	"os"
	"strings"
)

// ExpandWindowsEnv expands %VAR% references in a path using the current
// environment. Unknown variables are left untouched so a definition that
// names a missing variable fails visibly at the caller instead of
// silently collapsing to an empty segment.
func ExpandWindowsEnv(path string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(path, '%')
		if start < 0 {
			b.WriteString(path)
			return b.String()
		}
		end := strings.IndexByte(path[start+1:], '%')
		if end < 0 {
			b.WriteString(path)
			return b.String()
		}
		name := path[start+1 : start+1+end]
		b.WriteString(path[:start])
		if val, ok := os.LookupEnv(name); ok {
			b.WriteString(val)
		} else {
			b.WriteString(path[start : start+end+2])
		}
		path = path[start+end+2:]
	}
}
