// Package storetest checks that an objstore.Store implementation honors
// the contract the publisher and the server rely on.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqbf/sitesync/pkg/objstore"
)

func Run(t *testing.T, newStore func(t *testing.T) objstore.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "missing.txt")
		assert.ErrorIs(t, err, objstore.ErrNotFound)
	})

	t.Run("PutGet", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Put(
			ctx, "posts/a.html", []byte("<p>a</p>"), "text/html",
		))
		obj, err := s.Get(ctx, "posts/a.html")
		require.NoError(t, err)
		assert.Equal(t, []byte("<p>a</p>"), obj.Data)
		assert.Equal(t, "text/html", obj.ContentType)
	})

	t.Run("Overwrite", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "k", []byte("one"), "text/plain"))
		require.NoError(t, s.Put(
			ctx, "k", []byte("two"), "application/json",
		))
		obj, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), obj.Data)
		assert.Equal(t, "application/json", obj.ContentType)
	})

	t.Run("EmptyObject", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "empty", nil, ""))
		obj, err := s.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, obj.Data)
	})

	t.Run("LargeCompressible", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		data := bytes.Repeat([]byte("sitesync "), 64<<10)
		require.NoError(t, s.Put(ctx, "big.txt", data, "text/plain"))
		obj, err := s.Get(ctx, "big.txt")
		require.NoError(t, err)
		assert.Equal(t, data, obj.Data)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a/b.txt", []byte("x"), ""))
		require.NoError(t, s.Delete(ctx, "a/b.txt"))
		_, err := s.Get(ctx, "a/b.txt")
		assert.ErrorIs(t, err, objstore.ErrNotFound)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Delete(context.Background(), "nope"))
	})

	t.Run("ConcurrentPuts", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := fmt.Sprintf("f%02d.txt", i)
				errs <- s.Put(ctx, key, []byte(key), "text/plain")
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		for i := range 16 {
			key := fmt.Sprintf("f%02d.txt", i)
			obj, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte(key), obj.Data)
		}
	})
}
