package dirstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/objstore/storetest"
	"github.com/tqbf/sitesync/pkg/paths"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) objstore.Store {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := New(root)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "a.css", []byte("body{}"), "text/css"))

	again, err := New(root)
	require.NoError(t, err)
	obj, err := again.Get(ctx, "a.css")
	require.NoError(t, err)
	assert.Equal(t, "text/css", obj.ContentType)
}

func TestKeysNeverTouchNamespace(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "posts/a.html", []byte("x"), ""))
	_, err = os.Stat(filepath.Join(root, "posts"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.ErrorIs(t,
		s.Put(ctx, "../escape", []byte("x"), ""),
		paths.ErrInvalidKey,
	)
}

func TestDefaultContentType(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "blob", []byte("x"), ""))
	obj, err := s.Get(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, objstore.DefaultContentType, obj.ContentType)
}

func TestTempFilesCleanedUp(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "a", []byte("x"), ""))

	left, err := os.ReadDir(filepath.Join(root, tempDir))
	require.NoError(t, err)
	assert.Empty(t, left)
}
