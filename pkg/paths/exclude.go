package paths

import (
	"path"
	"strings"
)

// ExcludeMatcher skips local files that should never be published.
// Patterns without a slash match any single path segment; patterns
// with a slash match the whole relative path. "**" spans segments.
type ExcludeMatcher struct {
	patterns []pattern
}

type pattern struct {
	glob     string
	anchored bool
	deep     bool
	prefix   string
	suffix   string
}

func NewExcludeMatcher(globs []string) *ExcludeMatcher {
	m := &ExcludeMatcher{}
	m.Add(globs...)
	return m
}

func (m *ExcludeMatcher) Add(globs ...string) {
	for _, g := range globs {
		g = strings.TrimSuffix(strings.TrimSpace(g), "/")
		if g == "" {
			continue
		}
		p := pattern{
			glob:     g,
			anchored: strings.Contains(g, "/"),
		}
		if before, after, ok := strings.Cut(g, "**"); ok &&
			!strings.Contains(after, "**") {
			p.deep = true
			p.prefix = strings.TrimSuffix(before, "/")
			p.suffix = strings.TrimPrefix(after, "/")
		}
		m.patterns = append(m.patterns, p)
	}
}

func (m *ExcludeMatcher) Len() int {
	return len(m.patterns)
}

func (m *ExcludeMatcher) Match(relPath string) bool {
	for _, p := range m.patterns {
		if p.match(relPath) {
			return true
		}
	}
	return false
}

func (p pattern) match(relPath string) bool {
	if !p.anchored && !p.deep {
		for _, seg := range strings.Split(relPath, "/") {
			if ok, _ := path.Match(p.glob, seg); ok {
				return true
			}
		}
		return false
	}
	if !p.deep {
		ok, _ := path.Match(p.glob, relPath)
		return ok
	}

	switch {
	case p.prefix == "" && p.suffix == "":
		return true
	case p.prefix == "":
		return matchAnyTail(p.suffix, relPath)
	case p.suffix == "":
		return relPath == p.prefix ||
			strings.HasPrefix(relPath, p.prefix+"/")
	}
	rest, ok := strings.CutPrefix(relPath, p.prefix+"/")
	if !ok {
		return false
	}
	return matchAnyTail(p.suffix, rest)
}

func matchAnyTail(glob, relPath string) bool {
	segs := strings.Split(relPath, "/")
	for i := range segs {
		tail := strings.Join(segs[i:], "/")
		if ok, _ := path.Match(glob, tail); ok {
			return true
		}
	}
	return false
}
