// Package harness races readers against a publish on an in-memory store
// and reports what they saw.
//
// Readers are allowed to see phantom entries (listed, not yet uploaded or
// still holding old bytes). They must never see a delete of an object
// that the stored manifest still lists.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tqbf/sitesync/pkg/manifest"
	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/objstore/memstore"
	"github.com/tqbf/sitesync/pkg/scan"
	"github.com/tqbf/sitesync/pkg/site"
)

type Config struct {
	ManifestKey string
	// Readers poll the manifest and every object it lists.
	Readers int
	// Delay is added to every put and delete to widen the windows
	// between phases.
	Delay time.Duration
}

type Report struct {
	Reads   int64
	Clean   int64
	Phantom int64

	// ReadErrors counts reader passes that failed outright, such as an
	// undecodable manifest.
	ReadErrors int64

	SiteReloads  int64
	SiteFailures int64

	// Violations lists objects deleted while the stored manifest still
	// listed them.
	Violations []string

	// Settled is true when a read after the publish finished saw every
	// listed object with the right bytes.
	Settled bool
	Elapsed time.Duration
}

func (r Report) String() string {
	return fmt.Sprintf(
		"reads=%d clean=%d phantom=%d read_errors=%d site_reloads=%d "+
			"site_failures=%d violations=%d settled=%t elapsed=%s",
		r.Reads, r.Clean, r.Phantom, r.ReadErrors, r.SiteReloads,
		r.SiteFailures, len(r.Violations), r.Settled,
		r.Elapsed.Round(time.Millisecond),
	)
}

// Race runs publish while cfg.Readers goroutines and one site reloader
// read the store. It returns publish's error alongside the report.
func Race(
	ctx context.Context,
	store *memstore.Store,
	cfg Config,
	publish func(context.Context) error,
) (Report, error) {
	if cfg.ManifestKey == "" {
		cfg.ManifestKey = manifest.DefaultKey
	}
	if cfg.Readers < 1 {
		cfg.Readers = 1
	}

	var (
		rep        Report
		mu         sync.Mutex
		violations []string
	)
	store.FailOn(func(op memstore.Op) error {
		if op.Kind == memstore.OpGet {
			return nil
		}
		if cfg.Delay > 0 {
			time.Sleep(cfg.Delay)
		}
		if op.Kind != memstore.OpDelete {
			return nil
		}
		m, _, err := manifest.Load(
			context.Background(), store, cfg.ManifestKey,
		)
		if err != nil {
			return nil
		}
		if _, ok := m.Hash(op.Key); ok {
			mu.Lock()
			violations = append(violations, op.Key)
			mu.Unlock()
		}
		return nil
	})
	defer store.FailOn(nil)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := site.New(store,
		site.WithManifestKey(cfg.ManifestKey),
		site.WithLogger(quiet),
	)

	readCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for range cfg.Readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for readCtx.Err() == nil {
				clean, err := readOnce(readCtx, store, cfg.ManifestKey)
				if err != nil {
					if readCtx.Err() == nil {
						atomic.AddInt64(&rep.ReadErrors, 1)
					}
					runtime.Gosched()
					continue
				}
				atomic.AddInt64(&rep.Reads, 1)
				if clean {
					atomic.AddInt64(&rep.Clean, 1)
				} else {
					atomic.AddInt64(&rep.Phantom, 1)
				}
				runtime.Gosched()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for readCtx.Err() == nil {
			err := st.Reload(readCtx)
			atomic.AddInt64(&rep.SiteReloads, 1)
			if err != nil && readCtx.Err() == nil {
				atomic.AddInt64(&rep.SiteFailures, 1)
			}
			runtime.Gosched()
		}
	}()

	start := time.Now()
	err := publish(ctx)
	rep.Elapsed = time.Since(start)
	stop()
	wg.Wait()

	rep.Violations = violations
	clean, rerr := readOnce(ctx, store, cfg.ManifestKey)
	rep.Settled = rerr == nil && clean
	return rep, err
}

// readOnce reports whether every object the manifest lists is present
// with matching bytes.
func readOnce(
	ctx context.Context, store objstore.Store, key string,
) (bool, error) {
	m, _, err := manifest.Load(ctx, store, key)
	if err != nil {
		return false, err
	}
	clean := true
	for path, want := range m.Entries {
		obj, err := store.Get(ctx, path)
		if errors.Is(err, objstore.ErrNotFound) {
			clean = false
			continue
		}
		if err != nil {
			return false, err
		}
		if scan.Hash(obj.Data) != want {
			clean = false
		}
	}
	return clean, nil
}
