package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tqbf/sitesync/pkg/manifest"
	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/paths"
	"github.com/tqbf/sitesync/pkg/scan"
)

func pullCmd() *cli.Command {
	return &cli.Command{
		Name:      "pull",
		Usage:     "download the published site into a local directory",
		ArgsUsage: "<dir>",
		Flags: append(planFlags(),
			&cli.BoolFlag{
				Name:  "delete",
				Usage: "delete local files the manifest does not list",
			},
		),
		Action: pullAction,
	}
}

type pullResult struct {
	Downloaded int
	Deleted    int
	Bytes      int64
}

type puller struct {
	store       objstore.Store
	manifestKey string
	workers     int
	excludes    []string
	deleteExtra bool
	dryRun      bool
}

func pullAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: sitesync pull <dir>")
	}
	dir := c.Args().Get(0)
	s := resolveSettings(c)

	store, closer, err := openStore(s.Store, s.Token)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := s.context()
	defer cancel()

	p := &puller{
		store:       store,
		manifestKey: s.ManifestKey,
		workers:     s.Workers,
		excludes:    s.Excludes,
		deleteExtra: c.Bool("delete"),
		dryRun:      c.Bool("dry-run"),
	}
	res, err := p.pull(ctx, dir)
	if err != nil {
		return err
	}
	verb := "Downloaded"
	if p.dryRun {
		verb = "Would download"
	}
	fmt.Fprintf(c.App.Writer,
		"%s %d files (%s), deleted %d\n",
		verb, res.Downloaded, humanBytes(res.Bytes), res.Deleted,
	)
	return nil
}

// pull makes dir match the published manifest. Downloads are verified
// against the manifest hash before they replace local files.
func (p *puller) pull(ctx context.Context, dir string) (pullResult, error) {
	var res pullResult

	remote, _, err := manifest.Load(ctx, p.store, p.manifestKey)
	if err != nil {
		return res, err
	}

	local, err := p.localHashes(ctx, dir)
	if err != nil {
		return res, err
	}

	var fetch []string
	for _, path := range remote.Paths() {
		if err := paths.ValidateKey(path); err != nil {
			slog.Error("skipping manifest entry", "path", path, "err", err)
			continue
		}
		if local[path] != remote.Entries[path] {
			fetch = append(fetch, path)
		}
	}

	var extra []string
	if p.deleteExtra {
		for path := range local {
			if _, ok := remote.Hash(path); !ok {
				extra = append(extra, path)
			}
		}
	}

	if p.dryRun {
		for _, path := range fetch {
			slog.Info("would download", "path", path)
		}
		for _, path := range extra {
			slog.Info("would delete", "path", path)
		}
		res.Downloaded, res.Deleted = len(fetch), len(extra)
		return res, nil
	}

	workers := p.workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	var bytes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range fetch {
		want := remote.Entries[path]
		g.Go(func() error {
			n, err := p.download(gctx, dir, path, want)
			if err != nil {
				return fmt.Errorf("download %s: %w", path, err)
			}
			bytes.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	res.Downloaded = len(fetch)
	res.Bytes = bytes.Load()

	for _, path := range extra {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.Remove(full); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return res, fmt.Errorf("delete %s: %w", path, err)
		}
		res.Deleted++
	}
	return res, nil
}

func (p *puller) localHashes(
	ctx context.Context, dir string,
) (map[string]string, error) {
	out := map[string]string{}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	entries, err := scan.Scan(ctx, dir,
		scan.WithExcludes(p.excludes...),
		scan.WithWorkers(p.workers),
	)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.Path == p.manifestKey {
			continue
		}
		out[e.Path] = e.Hash
	}
	return out, nil
}

func (p *puller) download(
	ctx context.Context, dir, path, want string,
) (int64, error) {
	full := filepath.Join(dir, filepath.FromSlash(path))
	if !paths.IsWithinDir(dir, full) {
		return 0, fmt.Errorf("%w: escapes %s", paths.ErrInvalidKey, dir)
	}

	obj, err := p.store.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	if got := scan.Hash(obj.Data); got != want {
		return 0, fmt.Errorf("hash mismatch (got %.16s, want %.16s)", got, want)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".sitesync-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(obj.Data); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return 0, err
	}
	return int64(len(obj.Data)), nil
}
