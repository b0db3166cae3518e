package harness

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqbf/sitesync/pkg/manifest"
	"github.com/tqbf/sitesync/pkg/objstore/memstore"
	"github.com/tqbf/sitesync/pkg/publish"
)

func makeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func newPublisher(store *memstore.Store) *publish.Publisher {
	return publish.New(store,
		publish.WithWorkers(4),
		publish.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestPublishNeverDeletesListedObjects(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()
	pub := newPublisher(store)

	makeTree(t, dir, map[string]string{
		"index.html":   "v1",
		"about.html":   "about",
		"old/one.html": "one",
		"old/two.html": "two",
	})
	_, _, err := pub.Sync(ctx, dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "old")))
	makeTree(t, dir, map[string]string{
		"index.html":   "v2",
		"new/one.html": "fresh",
		"new/two.html": "fresh too",
	})

	rep, err := Race(ctx, store, Config{
		Readers: 3,
		Delay:   2 * time.Millisecond,
	}, func(ctx context.Context) error {
		_, _, err := pub.Sync(ctx, dir, nil)
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, rep.Violations)
	assert.True(t, rep.Settled)
	assert.Greater(t, rep.Reads, int64(0))
	assert.Equal(t, rep.Reads, rep.Clean+rep.Phantom)
}

func TestRaceDetectsEarlyDelete(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := manifest.New()
	m.Set("gone.html", "whatever")
	require.NoError(t, manifest.Save(ctx, store, manifest.DefaultKey, m))
	require.NoError(t, store.Put(ctx, "gone.html", []byte("x"), "text/html"))

	rep, err := Race(ctx, store, Config{Readers: 1},
		func(ctx context.Context) error {
			if err := store.Delete(ctx, "gone.html"); err != nil {
				return err
			}
			return manifest.Save(
				ctx, store, manifest.DefaultKey, manifest.New(),
			)
		},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone.html"}, rep.Violations)
	assert.True(t, rep.Settled)
}

func TestRaceReportsPublishError(t *testing.T) {
	store := memstore.New()
	rep, err := Race(context.Background(), store, Config{},
		func(ctx context.Context) error {
			return context.DeadlineExceeded
		},
	)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, rep.Settled)
	assert.Contains(t, rep.String(), "violations=0")
}

func TestRaceCountsReadErrors(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Put(ctx, manifest.DefaultKey,
		[]byte("{not a manifest"), manifest.ContentType))

	rep, err := Race(ctx, store, Config{Readers: 2},
		func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return nil
		},
	)
	require.NoError(t, err)
	assert.Greater(t, rep.ReadErrors, int64(0))
	assert.Zero(t, rep.Reads)
	assert.False(t, rep.Settled)
	assert.Contains(t, rep.String(), "read_errors=")
}
