// Package dirstore keeps objects in a local directory. Each key is
// hashed to a two-level shard directory holding the object bytes and a
// JSON metadata sidecar, so arbitrary keys never touch the filesystem
// namespace directly.
package dirstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/paths"
)

const (
	objectsDir   = "objects"
	tempDir      = ".tmp"
	dataFileName = "data"
	metaFileName = "meta.json"
)

type meta struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ModifiedAt  time.Time `json:"modified_at"`
}

type Store struct {
	root string
	// mu orders the two renames of a Put against the two reads of a Get.
	mu sync.RWMutex
}

func New(root string) (*Store, error) {
	root = filepath.Clean(root)
	for _, d := range []string{objectsDir, tempDir} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) shard(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(s.root, objectsDir, h[:2], h[2:])
}

func (s *Store) Get(
	ctx context.Context, key string,
) (*objstore.Object, error) {
	if err := paths.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := s.shard(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(dir, dataFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, objstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return nil, fmt.Errorf("read meta %s: %w", key, err)
	}
	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode meta %s: %w", key, err)
	}
	return &objstore.Object{Data: data, ContentType: m.ContentType}, nil
}

func (s *Store) Put(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) error {
	if err := paths.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if contentType == "" {
		contentType = objstore.DefaultContentType
	}
	raw, err := json.Marshal(meta{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		ModifiedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	dataTmp, err := s.writeTemp(data)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	defer os.Remove(dataTmp)
	metaTmp, err := s.writeTemp(raw)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	defer os.Remove(metaTmp)

	dir := s.shard(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Rename(
		metaTmp, filepath.Join(dir, metaFileName),
	); err != nil {
		return fmt.Errorf("commit meta %s: %w", key, err)
	}
	if err := os.Rename(
		dataTmp, filepath.Join(dir, dataFileName),
	); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := paths.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.shard(key)); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) writeTemp(data []byte) (string, error) {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	p := filepath.Join(s.root, tempDir, hex.EncodeToString(b[:]))
	if err := os.WriteFile(p, data, 0644); err != nil {
		os.Remove(p)
		return "", err
	}
	return p, nil
}
