package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/tqbf/sitesync/pkg/manifest"
	"github.com/tqbf/sitesync/pkg/plan"
)

const appVersion = "0.1.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sitesync",
		Usage: "publish a directory to an object store and serve it",
		Before: func(c *cli.Context) error {
			configureLogging(c.Bool("verbose"))
			return loadConfig(c)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				EnvVars: []string{"SITESYNC_STORE"},
				Usage: "object store URL (file:///dir, " +
					"sqlite:///file.db, https://host/prefix)",
			},
			&cli.StringFlag{
				Name:    "token",
				EnvVars: []string{"SITESYNC_TOKEN"},
				Usage:   "bearer token for http stores",
			},
			&cli.StringFlag{
				Name:  "manifest-key",
				Value: manifest.DefaultKey,
				Usage: "object key of the manifest",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "concurrent file and store operations (0 = one per CPU)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 5 * time.Minute,
				Usage: "operation timeout",
			},
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"SITESYNC_CONFIG"},
				Usage:   "YAML config file",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose output",
			},
		},
		Commands: []*cli.Command{
			syncCmd(),
			diffCmd(),
			serveCmd(),
			pullCmd(),
			watchCmd(),
			doctorCmd(),
			{
				Name:  "version",
				Usage: "print version",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, appVersion)
					return nil
				},
			},
		},
	}
}

func planFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "show what would happen",
		},
		&cli.StringSliceFlag{
			Name:  "exclude",
			Usage: "exclude pattern (repeatable)",
		},
	}
}

func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	))
}

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func printChanges(c *cli.Context, pl plan.Plan) {
	var b strings.Builder
	for _, e := range pl.ToWrite {
		prefix := "+"
		if pl.Reason(e.Path) == "changed" {
			prefix = "~"
		}
		fmt.Fprintf(&b,
			"  %s %s (%s)\n",
			prefix, e.Path, humanBytes(int64(len(e.Contents))),
		)
	}
	for _, p := range pl.ToDelete {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	fmt.Fprint(c.App.Writer, b.String())
}

func summary(pl plan.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"%d to upload (%s)",
		len(pl.ToWrite), humanBytes(pl.WriteBytes()),
	)
	if len(pl.ToDelete) > 0 {
		fmt.Fprintf(&b, ", %d to delete", len(pl.ToDelete))
	}
	if len(pl.Unchanged) > 0 {
		fmt.Fprintf(&b, ", %d unchanged", len(pl.Unchanged))
	}
	return b.String()
}
