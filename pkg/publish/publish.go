// Package publish makes an object store match a local directory.
//
// Publishing runs in three phases, each finishing before the next starts:
//
//  1. the new manifest is written, replacing the old one;
//  2. new and changed files are uploaded concurrently;
//  3. files no longer present locally are deleted.
//
// Writing the manifest first means a reader that fetches it during phase
// 2 can see entries whose objects are not uploaded yet (or still hold the
// previous bytes). That window is accepted: readers must tolerate listed
// but missing objects. The reverse, an object deleted while still listed,
// never happens because deletes run last against a manifest that no
// longer lists them.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tqbf/sitesync/pkg/manifest"
	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/paths"
	"github.com/tqbf/sitesync/pkg/plan"
	"github.com/tqbf/sitesync/pkg/scan"
)

type Publisher struct {
	store       objstore.Store
	manifestKey string
	workers     int
	logger      *slog.Logger
}

type Option func(*Publisher)

func WithManifestKey(key string) Option {
	return func(p *Publisher) {
		if key != "" {
			p.manifestKey = key
		}
	}
}

// WithWorkers bounds concurrent reads, uploads and deletes. Values < 1
// use one per CPU.
func WithWorkers(n int) Option {
	return func(p *Publisher) {
		p.workers = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(store objstore.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:       store,
		manifestKey: manifest.DefaultKey,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = runtime.NumCPU()
	}
	return p
}

type Result struct {
	ManifestWritten bool
	Uploaded        int
	Deleted         int
	Skipped         int
	Bytes           int64
}

// Plan loads the published manifest and compares it with dir.
func (p *Publisher) Plan(
	ctx context.Context,
	dir string,
	excludes []string,
) (plan.Plan, error) {
	existing, _, err := manifest.Load(ctx, p.store, p.manifestKey)
	if err != nil {
		return plan.Plan{}, err
	}
	p.logger.Debug("loaded manifest",
		"key", p.manifestKey,
		"entries", existing.Len(),
	)

	p.logger.Info("reading files", "dir", dir)
	entries, err := scan.Scan(ctx, dir,
		scan.WithExcludes(excludes...),
		scan.WithWorkers(p.workers),
		scan.WithLogger(p.logger),
	)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("scan %s: %w", dir, err)
	}
	p.logger.Info("read all files", "count", len(entries))

	kept := entries[:0]
	for _, e := range entries {
		if e.Path == p.manifestKey {
			p.logger.Warn("local file shadows manifest key, skipping",
				"path", e.Path,
			)
			continue
		}
		kept = append(kept, e)
	}
	return plan.Compute(existing, kept), nil
}

// Publish applies pl to the store. The first error aborts the remaining
// phases; operations already issued in the failing phase run to
// completion and nothing is rolled back.
func (p *Publisher) Publish(
	ctx context.Context,
	pl plan.Plan,
) (Result, error) {
	var res Result
	if pl.Empty() {
		p.logger.Info("already in sync",
			"unchanged", len(pl.Unchanged),
		)
		return res, nil
	}

	if err := manifest.Save(
		ctx, p.store, p.manifestKey, pl.Manifest,
	); err != nil {
		return res, err
	}
	res.ManifestWritten = true
	p.logger.Info("uploaded manifest",
		"key", p.manifestKey,
		"entries", pl.Manifest.Len(),
	)

	var uploaded, written atomic.Int64
	err := p.fanOut(ctx, len(pl.ToWrite), func(i int) error {
		e := pl.ToWrite[i]
		p.logger.Info("uploading",
			"path", e.Path,
			"content_type", e.ContentType,
		)
		if err := p.store.Put(
			ctx, e.Path, e.Contents, e.ContentType,
		); err != nil {
			return fmt.Errorf("upload %s: %w", e.Path, err)
		}
		uploaded.Add(1)
		written.Add(int64(len(e.Contents)))
		return nil
	})
	res.Uploaded = int(uploaded.Load())
	res.Bytes = written.Load()
	if err != nil {
		return res, err
	}
	p.logger.Info("uploaded files", "count", res.Uploaded)

	var deletes []string
	for _, key := range pl.ToDelete {
		if err := paths.ValidateKey(key); err != nil {
			p.logger.Error("unable to delete unusable key",
				"key", key, "err", err,
			)
			res.Skipped++
			continue
		}
		deletes = append(deletes, key)
	}

	var deleted atomic.Int64
	err = p.fanOut(ctx, len(deletes), func(i int) error {
		key := deletes[i]
		p.logger.Info("deleting old file", "path", key)
		if err := p.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		deleted.Add(1)
		return nil
	})
	res.Deleted = int(deleted.Load())
	if err != nil {
		return res, err
	}
	p.logger.Info("deleted old files", "count", res.Deleted)
	return res, nil
}

// Sync plans and publishes in one step.
func (p *Publisher) Sync(
	ctx context.Context,
	dir string,
	excludes []string,
) (plan.Plan, Result, error) {
	pl, err := p.Plan(ctx, dir, excludes)
	if err != nil {
		return pl, Result{}, err
	}
	res, err := p.Publish(ctx, pl)
	return pl, res, err
}

// fanOut runs fn for 0..n-1 with at most p.workers in flight. After the
// first failure no new calls start, but calls already running keep the
// caller's context and finish on their own.
func (p *Publisher) fanOut(
	ctx context.Context,
	n int,
	fn func(i int) error,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range n {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error { return fn(i) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
