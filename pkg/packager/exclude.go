package packager

import (
	"path"
	"strings"
)

// DefaultExcludes are development-only paths never shipped to Lambda.
var DefaultExcludes = []string{
	".git",
	".github",
	".gitignore",
	".env",
	".env.*",
	".venv",
	"venv",
	"__pycache__",
	"*.pyc",
	".pytest_cache",
	".mypy_cache",
	".ruff_cache",
	".tox",
	"tests",
	"test_*.py",
	"*_test.py",
	"*_test.go",
	"conftest.py",
	"requirements-dev.txt",
	"node_modules/.cache",
	".idea",
	".vscode",
	".DS_Store",
	"*.zip",
	"dist",
	"Dockerfile",
	"docker-compose*.yml",
	"lambda-deploy.yaml",
}

// Matcher decides which relative paths are left out of a package.
type Matcher struct {
	patterns []string
}

func NewMatcher(patterns ...[]string) *Matcher {
	m := &Matcher{}
	for _, list := range patterns {
		for _, p := range list {
			p = strings.Trim(strings.TrimSpace(p), "/")
			p = strings.TrimPrefix(p, "./")
			if p != "" {
				m.patterns = append(m.patterns, p)
			}
		}
	}
	return m
}

// Excluded reports whether rel (slash separated, relative to the source dir) matches a
// pattern. Patterns without a slash match any single path segment; patterns with a
// slash match the full path or any leading directory of it.
func (m *Matcher) Excluded(rel string) bool {
	rel = strings.Trim(path.Clean("/"+rel), "/")
	if rel == "" {
		return false
	}
	segments := strings.Split(rel, "/")
	for _, pattern := range m.patterns {
		if strings.Contains(pattern, "/") {
			for i := 1; i <= len(segments); i++ {
				if ok, _ := path.Match(pattern, strings.Join(segments[:i], "/")); ok {
					return true
				}
			}
			continue
		}
		for _, seg := range segments {
			if ok, _ := path.Match(pattern, seg); ok {
				return true
			}
		}
	}
	return false
}

func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}
