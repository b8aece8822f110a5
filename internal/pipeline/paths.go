package pipeline

import (
	"path"
	"strings"
)

var testDirs = map[string]bool{
	"test":      true,
	"tests":     true,
	"__tests__": true,
	"spec":      true,
	"specs":     true,
	"testing":   true,
}

// IsTestPath reports whether a repository path looks like a test file.
func IsTestPath(p string) bool {
	p = strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))
	switch {
	case strings.HasPrefix(base, "test_"),
		strings.HasSuffix(stem, "_test"),
		strings.HasSuffix(stem, "_spec"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		stem == "conftest":
		return true
	case strings.HasSuffix(stem, "test") && len(stem) > 4 && strings.HasSuffix(base, ".java"):
		// FooTest.java
		return true
	}
	for _, seg := range strings.Split(path.Dir(p), "/") {
		if testDirs[seg] {
			return true
		}
	}
	return false
}
