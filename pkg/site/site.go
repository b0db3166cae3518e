// Package site serves the contents of an object store from an in-memory
// snapshot that is rebuilt on demand and swapped in atomically.
package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tqbf/sitesync/pkg/manifest"
	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/scan"
)

// ErrHashMismatch marks an object whose bytes do not match the hash the
// manifest lists for it.
var ErrHashMismatch = errors.New("object does not match manifest hash")

type Site struct {
	store       objstore.Store
	manifestKey string
	workers     int
	logger      *slog.Logger

	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex

	watchMu   sync.Mutex
	watchers  map[chan *Snapshot]struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

type Option func(*Site)

func WithManifestKey(key string) Option {
	return func(s *Site) {
		if key != "" {
			s.manifestKey = key
		}
	}
}

func WithWorkers(n int) Option {
	return func(s *Site) {
		s.workers = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Site) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Site serving an empty snapshot until the first Reload.
func New(store objstore.Store, opts ...Option) *Site {
	s := &Site{
		store:       store,
		manifestKey: manifest.DefaultKey,
		logger:      slog.Default(),
		watchers:    make(map[chan *Snapshot]struct{}),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = runtime.NumCPU()
	}
	s.current.Store(emptySnapshot())
	return s
}

func (s *Site) Current() *Snapshot {
	return s.current.Load()
}

// Reload fetches the manifest and, if it changed, builds and installs a
// new snapshot. If the manifest cannot be read, or an object fetch fails
// for any reason other than the object being unavailable, the current
// snapshot stays in service.
//
// Objects whose path and hash are unchanged are carried over; the rest
// are fetched and checked against the manifest hash. An object that is
// missing or does not match (an upload still in flight, or one that
// failed) is pending: the previous object at that path keeps being
// served if there is one, otherwise the path is left out. A snapshot
// with pending paths is retried on the next reload even if the manifest
// has not changed.
func (s *Site) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	m, raw, err := manifest.Load(ctx, s.store, s.manifestKey)
	if err != nil {
		return err
	}
	version := manifest.Fingerprint(raw)
	cur := s.current.Load()
	if cur.version == version && len(cur.pending) == 0 {
		s.logger.Debug("manifest unchanged", "version", version)
		return nil
	}

	objects := make(map[string]*Object, m.Len())
	var fetch []string
	for path, hash := range m.Entries {
		if old, ok := cur.objects[path]; ok && old.Hash == hash {
			objects[path] = old
			continue
		}
		fetch = append(fetch, path)
	}

	var (
		mu      sync.Mutex
		pending []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, path := range fetch {
		want := m.Entries[path]
		g.Go(func() error {
			obj, err := s.store.Get(gctx, path)
			if err == nil && scan.Hash(obj.Data) != want {
				err = ErrHashMismatch
			}
			if errors.Is(err, objstore.ErrNotFound) ||
				errors.Is(err, ErrHashMismatch) {
				mu.Lock()
				defer mu.Unlock()
				pending = append(pending, path)
				old, ok := cur.objects[path]
				if ok {
					objects[path] = old
				}
				s.logger.Warn("object unavailable",
					"path", path,
					"err", err,
					"serving_previous", ok,
				)
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch %s: %w", path, err)
			}
			mu.Lock()
			objects[path] = &Object{
				Data:        obj.Data,
				ContentType: obj.ContentType,
				Hash:        want,
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	sort.Strings(pending)
	if cur.version == version && slices.Equal(cur.pending, pending) {
		s.logger.Debug("objects still pending", "pending", len(pending))
		return nil
	}

	next := &Snapshot{
		version:  version,
		objects:  objects,
		pending:  pending,
		loadedAt: time.Now(),
	}
	s.current.Store(next)
	s.logger.Info("snapshot reloaded",
		"version", version,
		"entries", len(objects),
		"fetched", len(fetch)-len(pending),
		"pending", len(pending),
	)
	s.notify(next)
	return nil
}

// Subscribe delivers each newly installed snapshot. Slow subscribers
// only ever see the latest one.
func (s *Site) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)
	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()
	return ch, func() {
		s.watchMu.Lock()
		delete(s.watchers, ch)
		s.watchMu.Unlock()
	}
}

func (s *Site) notify(snap *Snapshot) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// CloseWatchers ends every open watch stream.
func (s *Site) CloseWatchers() {
	s.closeOnce.Do(func() { close(s.closed) })
}
