// Package scan walks a local directory tree and produces one hashed,
// fully buffered entry per regular file.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/tqbf/sitesync/pkg/paths"
)

type Entry struct {
	Path        string
	Contents    []byte
	Hash        string
	ContentType string
}

type options struct {
	excludes []string
	workers  int
	logger   *slog.Logger
}

type Option func(*options)

func WithExcludes(patterns ...string) Option {
	return func(o *options) {
		o.excludes = append(o.excludes, patterns...)
	}
}

// WithWorkers bounds how many files are read at once. Values < 1 use
// one worker per CPU.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

type fileJob struct {
	relPath string
	absPath string
}

// Scan reads every regular file under dir. Files are read and hashed
// concurrently; the result is sorted by path. The first read error aborts
// the scan.
func Scan(
	ctx context.Context,
	dir string,
	opts ...Option,
) ([]Entry, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = runtime.NumCPU()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	jobs, err := collect(dir, paths.NewExcludeMatcher(o.excludes))
	if err != nil {
		return nil, err
	}
	o.logger.Debug("scanning files",
		"dir", dir,
		"count", len(jobs),
		"workers", o.workers,
	)

	results := make(chan Entry, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e, err := readEntry(gctx, j)
			if err != nil {
				return err
			}
			results <- e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	close(results)

	entries := make([]Entry, 0, len(jobs))
	for e := range results {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

func collect(
	dir string,
	matcher *paths.ExcludeMatcher,
) ([]fileJob, error) {
	var jobs []fileJob
	err := filepath.WalkDir(
		dir,
		func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			rel = paths.KeyFromRel(rel)
			if rel == "." {
				return nil
			}
			if matcher.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !isFile(p, d) {
				return nil
			}
			jobs = append(jobs, fileJob{
				relPath: rel,
				absPath: p,
			})
			return nil
		},
	)
	return jobs, err
}

// isFile follows symlinks: a link to a regular file is published as that
// file's contents.
func isFile(p string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func readEntry(ctx context.Context, j fileJob) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	contents, err := os.ReadFile(j.absPath)
	if err != nil {
		return Entry{}, fmt.Errorf("read %s: %w", j.relPath, err)
	}
	return Entry{
		Path:        j.relPath,
		Contents:    contents,
		Hash:        Hash(contents),
		ContentType: ContentType(j.relPath),
	}, nil
}
