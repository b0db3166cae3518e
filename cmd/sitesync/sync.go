package main

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/sitesync/pkg/publish"
)

func syncCmd() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "publish a local directory to the store",
		ArgsUsage: "<dir>",
		Flags:     planFlags(),
		Action:    syncAction,
	}
}

func newPublisher(c *cli.Context) (*publish.Publisher, func(), error) {
	s := resolveSettings(c)
	store, closer, err := openStore(s.Store, s.Token)
	if err != nil {
		return nil, nil, err
	}
	pub := publish.New(store,
		publish.WithManifestKey(s.ManifestKey),
		publish.WithWorkers(s.Workers),
		publish.WithLogger(slog.Default()),
	)
	return pub, func() { closer.Close() }, nil
}

func syncAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: sitesync sync <dir>")
	}
	dir := c.Args().Get(0)
	s := resolveSettings(c)

	pub, done, err := newPublisher(c)
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := s.context()
	defer cancel()

	pl, err := pub.Plan(ctx, dir, s.Excludes)
	if err != nil {
		return err
	}
	if pl.Empty() {
		fmt.Fprintln(c.App.Writer, "Already in sync.")
		return nil
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Publishing %s to %s\n", dir, s.Store)
	printChanges(c, pl)
	fmt.Fprintln(out, summary(pl))

	if c.Bool("dry-run") {
		return nil
	}

	res, err := pub.Publish(ctx, pl)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	fmt.Fprintf(out,
		"Uploaded %d files (%s), deleted %d\n",
		res.Uploaded, humanBytes(res.Bytes), res.Deleted,
	)
	if res.Skipped > 0 {
		fmt.Fprintf(out,
			"Skipped %d deletes with unusable keys\n", res.Skipped,
		)
	}
	return nil
}
