package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqbf/sitesync/pkg/manifest"
	"github.com/tqbf/sitesync/pkg/objstore/memstore"
	"github.com/tqbf/sitesync/pkg/plan"
	"github.com/tqbf/sitesync/pkg/scan"
)

func makeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func loadManifest(
	t *testing.T, store *memstore.Store,
) *manifest.Manifest {
	t.Helper()
	m, _, err := manifest.Load(
		context.Background(), store, manifest.DefaultKey,
	)
	require.NoError(t, err)
	return m
}

func hashOf(s string) string {
	return scan.Hash([]byte(s))
}

func TestSyncScenarios(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()
	pub := New(store, WithWorkers(4))

	makeTree(t, dir, map[string]string{
		"a.txt": "hi",
		"b.txt": "bye",
	})

	_, res, err := pub.Sync(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, int64(5), res.Bytes)

	m := loadManifest(t, store)
	assert.Equal(t, map[string]string{
		"a.txt": hashOf("hi"),
		"b.txt": hashOf("bye"),
	}, m.Entries)
	assert.ElementsMatch(t,
		[]string{manifest.DefaultKey, "a.txt", "b.txt"},
		store.OpsOf(memstore.OpPut),
	)
	assert.Empty(t, store.OpsOf(memstore.OpDelete))

	require.NoError(t, os.Remove(filepath.Join(dir, "b.txt")))
	store.ResetOps()

	_, res, err = pub.Sync(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Uploaded)
	assert.Equal(t, 1, res.Deleted)

	m = loadManifest(t, store)
	assert.Equal(t, map[string]string{"a.txt": hashOf("hi")}, m.Entries)
	assert.Equal(t,
		[]string{manifest.DefaultKey},
		store.OpsOf(memstore.OpPut),
	)
	assert.Equal(t, []string{"b.txt"}, store.OpsOf(memstore.OpDelete))
	assert.False(t, store.Has("b.txt"))
}

func TestSyncIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()
	pub := New(store)

	makeTree(t, dir, map[string]string{
		"index.html":   "<h1>hi</h1>",
		"css/site.css": "body{}",
		"posts/a.html": "a",
		"posts/b.html": "b",
		"img/logo.png": "png",
	})
	_, _, err := pub.Sync(ctx, dir, nil)
	require.NoError(t, err)

	store.ResetOps()
	pl, res, err := pub.Sync(ctx, dir, nil)
	require.NoError(t, err)
	assert.True(t, pl.Empty())
	assert.Equal(t, Result{}, res)
	assert.Empty(t, store.OpsOf(memstore.OpPut))
	assert.Empty(t, store.OpsOf(memstore.OpDelete))
}

func TestSyncChangeDetection(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()
	pub := New(store)

	makeTree(t, dir, map[string]string{
		"a.txt": "aaaa",
		"b.txt": "bbbb",
		"c.txt": "cccc",
	})
	_, _, err := pub.Sync(ctx, dir, nil)
	require.NoError(t, err)

	makeTree(t, dir, map[string]string{"b.txt": "bbbx"})
	store.ResetOps()

	_, res, err := pub.Sync(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t,
		[]string{manifest.DefaultKey, "b.txt"},
		store.OpsOf(memstore.OpPut),
	)

	obj, err := store.Get(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("bbbx"), obj.Data)
	assert.Equal(t, hashOf("bbbx"), loadManifest(t, store).Entries["b.txt"])
}

func TestSyncContentType(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()

	makeTree(t, dir, map[string]string{
		"index.html": "<p>",
		"data.bin9":  "\x00\x01",
	})
	_, _, err := New(store).Sync(ctx, dir, nil)
	require.NoError(t, err)

	obj, err := store.Get(ctx, "index.html")
	require.NoError(t, err)
	assert.Equal(t, "text/html", obj.ContentType)

	obj, err = store.Get(ctx, "data.bin9")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", obj.ContentType)
}

func TestPublishPhaseOrdering(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()
	pub := New(store, WithWorkers(3))

	makeTree(t, dir, map[string]string{
		"keep.txt": "k",
		"old1.txt": "1",
		"old2.txt": "2",
	})
	_, _, err := pub.Sync(ctx, dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "old1.txt")))
	require.NoError(t, os.Remove(filepath.Join(dir, "old2.txt")))
	makeTree(t, dir, map[string]string{
		"keep.txt": "k2",
		"new1.txt": "n1",
		"new2.txt": "n2",
	})

	var (
		mu         sync.Mutex
		violations []string
	)
	store.OnOp(func(op memstore.Op) {
		if op.Kind == memstore.OpGet ||
			op.Key == manifest.DefaultKey {
			return
		}
		m := loadManifest(t, store)
		_, listed := m.Hash(op.Key)
		mu.Lock()
		defer mu.Unlock()
		switch op.Kind {
		case memstore.OpPut:
			if !listed {
				violations = append(violations,
					"uploaded before listed: "+op.Key)
			}
		case memstore.OpDelete:
			if listed {
				violations = append(violations,
					"deleted while listed: "+op.Key)
			}
		}
	})
	store.ResetOps()

	_, res, err := pub.Sync(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Uploaded)
	assert.Equal(t, 2, res.Deleted)
	assert.Empty(t, violations)

	ops := store.Ops()
	phase := 0
	for _, op := range ops {
		var p int
		switch {
		case op.Kind == memstore.OpGet:
			continue
		case op.Key == manifest.DefaultKey:
			p = 1
		case op.Kind == memstore.OpPut:
			p = 2
		default:
			p = 3
		}
		assert.GreaterOrEqual(t, p, phase, "op %v out of order", op)
		phase = p
	}
	assert.Equal(t, 3, phase)
}

func TestPublishManifestFailureStopsEverything(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()
	boom := errors.New("boom")
	store.FailOn(func(op memstore.Op) error {
		if op.Kind == memstore.OpPut &&
			op.Key == manifest.DefaultKey {
			return boom
		}
		return nil
	})

	makeTree(t, dir, map[string]string{"a.txt": "a"})
	_, res, err := New(store).Sync(ctx, dir, nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.ManifestWritten)
	assert.Empty(t, store.OpsOf(memstore.OpPut))
}

func TestPublishUploadFailureSkipsDeletes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()
	pub := New(store, WithWorkers(1))

	makeTree(t, dir, map[string]string{
		"a.txt":   "a",
		"old.txt": "old",
	})
	_, _, err := pub.Sync(ctx, dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "old.txt")))
	makeTree(t, dir, map[string]string{
		"a.txt": "a2",
		"b.txt": "b",
	})

	boom := errors.New("disk full")
	store.FailOn(func(op memstore.Op) error {
		if op.Kind == memstore.OpPut && op.Key == "a.txt" {
			return boom
		}
		return nil
	})
	store.ResetOps()

	_, res, err := pub.Sync(ctx, dir, nil)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "upload a.txt")
	assert.True(t, res.ManifestWritten)
	assert.Empty(t, store.OpsOf(memstore.OpDelete))
	assert.True(t, store.Has("old.txt"))

	// The manifest already describes the new tree even though the
	// upload phase failed.
	m := loadManifest(t, store)
	assert.Equal(t, hashOf("a2"), m.Entries["a.txt"])
}

func TestPublishDeleteFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	boom := errors.New("denied")
	store.FailOn(func(op memstore.Op) error {
		if op.Kind == memstore.OpDelete {
			return boom
		}
		return nil
	})

	existing := manifest.New()
	existing.Set("gone.txt", hashOf("x"))
	pl := plan.Compute(existing, nil)

	res, err := New(store).Publish(ctx, pl)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, res.Deleted)
	assert.True(t, res.ManifestWritten)
}

func TestPublishSkipsUnusableDeleteKeys(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	existing := manifest.New()
	existing.Set("bad\xffname", "h1")
	existing.Set("ok.txt", "h2")
	pl := plan.Compute(existing, nil)

	res, err := New(store).Publish(ctx, pl)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"ok.txt"}, store.OpsOf(memstore.OpDelete))
}

func TestSyncSkipsLocalManifestShadow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()

	makeTree(t, dir, map[string]string{
		"a.txt":             "a",
		manifest.DefaultKey: `{"entries":{"evil":"x"}}`,
	})
	pl, _, err := New(store).Sync(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, pl.Manifest.Paths())
	assert.Equal(t, []string{"a.txt"}, loadManifest(t, store).Paths())
}

func TestSyncExcludes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()

	makeTree(t, dir, map[string]string{
		"a.txt":       "a",
		"drafts/b.md": "b",
	})
	_, res, err := New(store).Sync(ctx, dir, []string{"drafts"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	assert.False(t, store.Has("drafts/b.md"))
}

func TestSyncMissingDir(t *testing.T) {
	_, _, err := New(memstore.New()).Sync(
		context.Background(),
		filepath.Join(t.TempDir(), "missing"),
		nil,
	)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPublishCustomManifestKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memstore.New()
	makeTree(t, dir, map[string]string{"a.txt": "a"})

	_, _, err := New(store, WithManifestKey("meta/m.json")).
		Sync(ctx, dir, nil)
	require.NoError(t, err)
	assert.True(t, store.Has("meta/m.json"))
	assert.False(t, store.Has(manifest.DefaultKey))
}
