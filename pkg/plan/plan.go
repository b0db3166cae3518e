// Package plan classifies freshly scanned files against the previously
// published manifest.
package plan

import (
	"log/slog"
	"sort"

	"github.com/tqbf/sitesync/pkg/manifest"
	"github.com/tqbf/sitesync/pkg/paths"
	"github.com/tqbf/sitesync/pkg/scan"
)

type Plan struct {
	// Manifest replaces the previous one wholesale: every current path
	// mapped to its fresh hash.
	Manifest  *manifest.Manifest
	Previous  *manifest.Manifest
	ToWrite   []scan.Entry
	Unchanged []string
	ToDelete  []string
}

// Compute compares hashes only; modification times play no part.
func Compute(
	existing *manifest.Manifest,
	current []scan.Entry,
) Plan {
	if existing == nil {
		existing = manifest.New()
	}
	p := Plan{
		Manifest: manifest.New(),
		Previous: existing,
	}

	seen := make(map[string]bool, len(current))
	for _, e := range current {
		if err := paths.ValidateKey(e.Path); err != nil {
			slog.Error("skipping file with unusable key",
				"path", e.Path, "err", err,
			)
			continue
		}
		seen[e.Path] = true
		p.Manifest.Set(e.Path, e.Hash)

		old, ok := existing.Hash(e.Path)
		if ok && old == e.Hash {
			p.Unchanged = append(p.Unchanged, e.Path)
			continue
		}
		p.ToWrite = append(p.ToWrite, e)
	}

	for path := range existing.Entries {
		if !seen[path] {
			p.ToDelete = append(p.ToDelete, path)
		}
	}

	sort.Slice(p.ToWrite, func(i, j int) bool {
		return p.ToWrite[i].Path < p.ToWrite[j].Path
	})
	sort.Strings(p.Unchanged)
	sort.Strings(p.ToDelete)
	return p
}

// Empty reports whether publishing would change nothing.
func (p Plan) Empty() bool {
	return len(p.ToWrite) == 0 &&
		len(p.ToDelete) == 0 &&
		p.Manifest.Equal(p.Previous)
}

func (p Plan) Reason(path string) string {
	if _, ok := p.Previous.Hash(path); ok {
		return "changed"
	}
	return "new"
}

func (p Plan) WriteBytes() int64 {
	var n int64
	for _, e := range p.ToWrite {
		n += int64(len(e.Contents))
	}
	return n
}

func (p Plan) WritePaths() []string {
	out := make([]string, len(p.ToWrite))
	for i, e := range p.ToWrite {
		out[i] = e.Path
	}
	return out
}
