package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the optional file under the base dir with extra
// patterns, one per line.
const IgnoreFileName = "romdl.ignore"

type patternKind int

const (
	matchBase patternKind = iota // basename only
	matchPath                    // full relative path
	matchDir                     // any directory component
)

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern string
	kind    patternKind
}

// IgnoreMatcher checks archive entry paths against a set of ignore patterns.
// Matching is case-insensitive since archives are often built on systems
// that do not preserve case.
//
//	Thumbs.db     basename anywhere in the archive
//	__MACOSX/*    slash-separated path from the archive root
//	__MACOSX/     a directory at any depth and everything below it
type IgnoreMatcher struct {
	patterns []ignorePattern
	raw      []string
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		p := strings.ToLower(filepath.ToSlash(raw))
		kind := matchBase
		switch {
		case strings.HasSuffix(p, "/"):
			kind = matchDir
			p = strings.TrimSuffix(p, "/")
		case strings.Contains(p, "/"):
			kind = matchPath
		}
		m.patterns = append(m.patterns, ignorePattern{pattern: p, kind: kind})
		m.raw = append(m.raw, raw)
	}
	return m
}

// Patterns returns the effective patterns as given.
func (m *IgnoreMatcher) Patterns() []string {
	out := make([]string, len(m.raw))
	copy(out, m.raw)
	return out
}

// Match reports whether the given relative path should be ignored.
// relativePath may use either separator and is relative to the archive root.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	normalized := strings.ToLower(strings.Trim(filepath.ToSlash(relativePath), "/"))
	basename := path.Base(normalized)

	for _, p := range m.patterns {
		if p.matches(normalized, basename) {
			return true
		}
	}
	return false
}

func (p ignorePattern) matches(normalized, basename string) bool {
	switch p.kind {
	case matchPath:
		ok, err := path.Match(p.pattern, normalized)
		return err == nil && ok
	case matchDir:
		for _, part := range strings.Split(normalized, "/") {
			if ok, err := path.Match(p.pattern, part); err == nil && ok {
				return true
			}
		}
		return false
	default:
		ok, err := path.Match(p.pattern, basename)
		return err == nil && ok
	}
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
