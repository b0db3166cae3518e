package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/server"
	"github.com/tqbf/sitesync/pkg/site"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the published site over HTTP",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				EnvVars: []string{"PORT"},
				Value:   8080,
				Usage:   "listen port",
			},
			&cli.BoolFlag{
				Name:    "consistent",
				EnvVars: []string{"SITESYNC_CONSISTENT"},
				Usage:   "store is strongly consistent; disable the reload loop",
			},
			&cli.DurationFlag{
				Name:  "reload-interval",
				Value: server.DefaultReloadInterval,
				Usage: "how often to re-read the manifest",
			},
			&cli.DurationFlag{
				Name:  "drain-timeout",
				Value: server.DefaultDrainTimeout,
				Usage: "how long to wait for open connections on shutdown",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	s := resolveSettings(c)

	store, closer, err := openStore(s.Store, s.Token)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	st, err := loadSite(ctx, store, s)
	if err != nil {
		return err
	}
	srv := newServer(c, st)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnHangup(ctx, st, hup)

	port := intSetting(c, "port", configFrom(c).Port)
	return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
}

// loadSite builds the site and performs the initial load. Objects that
// are missing or stale are left pending; only an unreadable manifest or
// store failure stops the server from starting.
func loadSite(
	ctx context.Context, store objstore.Store, s settings,
) (*site.Site, error) {
	st := site.New(store,
		site.WithManifestKey(s.ManifestKey),
		site.WithWorkers(s.Workers),
		site.WithLogger(slog.Default()),
	)
	loadCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	if err := st.Reload(loadCtx); err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}
	if pending := st.Current().Pending(); len(pending) > 0 {
		slog.Warn("serving without some objects",
			"pending", len(pending),
		)
	}
	return st, nil
}

// newServer wires the site into a server. The reload loop only runs
// when the store is not strongly consistent.
func newServer(c *cli.Context, st *site.Site) *server.Server {
	cfg := configFrom(c)
	srv := &server.Server{
		Handler: server.LogRequests(slog.Default(), st.Handler()),
		ReloadInterval: durationSetting(
			c, "reload-interval", cfg.ReloadInterval,
		),
		DrainTimeout: durationSetting(
			c, "drain-timeout", cfg.DrainTimeout,
		),
		Logger:     slog.Default(),
		OnShutdown: []func(){st.CloseWatchers},
	}
	if boolSetting(c, "consistent", cfg.Consistent) {
		slog.Info("store is strongly consistent, reload loop disabled")
	} else {
		srv.Reloader = st
	}
	return srv
}

func reloadOnHangup(
	ctx context.Context, st *site.Site, hup <-chan os.Signal,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			slog.Info("SIGHUP, reloading")
			if err := st.Reload(ctx); err != nil {
				slog.Error("reload failed", "err", err)
			}
		}
	}
}
