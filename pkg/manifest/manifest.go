// Package manifest holds the persisted path -> content hash mapping that
// describes what the object store is expected to contain.
package manifest

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/tqbf/sitesync/pkg/objstore"
)

const (
	DefaultKey  = ".sitesync/manifest.json"
	ContentType = "application/json"
)

type Manifest struct {
	Entries map[string]string `json:"entries"`
}

func New() *Manifest {
	return &Manifest{Entries: make(map[string]string)}
}

func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Entries)
}

func (m *Manifest) Hash(path string) (string, bool) {
	if m == nil {
		return "", false
	}
	h, ok := m.Entries[path]
	return h, ok
}

func (m *Manifest) Set(path, hash string) {
	if m.Entries == nil {
		m.Entries = make(map[string]string)
	}
	m.Entries[path] = hash
}

func (m *Manifest) Paths() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Entries))
	for p := range m.Entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *Manifest) Equal(o *Manifest) bool {
	if m.Len() != o.Len() {
		return false
	}
	if m == nil {
		return true
	}
	for p, h := range m.Entries {
		if oh, ok := o.Hash(p); !ok || oh != h {
			return false
		}
	}
	return true
}

// Encode serializes the manifest. encoding/json sorts map keys, so equal
// manifests always encode to identical bytes.
func (m *Manifest) Encode() ([]byte, error) {
	out := m
	if out == nil || out.Entries == nil {
		out = New()
	}
	return json.Marshal(out)
}

func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]string)
	}
	return &m, nil
}

// Load fetches the manifest stored at key. A missing object is an empty
// manifest; raw is nil in that case.
func Load(
	ctx context.Context,
	store objstore.Store,
	key string,
) (m *Manifest, raw []byte, err error) {
	obj, err := store.Get(ctx, key)
	if errors.Is(err, objstore.ErrNotFound) {
		return New(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get manifest: %w", err)
	}
	m, err = Decode(obj.Data)
	if err != nil {
		return nil, nil, err
	}
	return m, obj.Data, nil
}

func Save(
	ctx context.Context,
	store objstore.Store,
	key string,
	m *Manifest,
) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := store.Put(ctx, key, data, ContentType); err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}
	return nil
}

// Fingerprint identifies a manifest body. Readers compare fingerprints to
// skip work when the stored manifest has not changed.
func Fingerprint(raw []byte) string {
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
