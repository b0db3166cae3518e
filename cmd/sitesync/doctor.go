package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/sitesync/pkg/manifest"
	"github.com/tqbf/sitesync/pkg/scan"
)

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "verify the store is reachable and the manifest is valid",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "fetch every listed object and check its hash",
			},
		},
		Action: doctorAction,
	}
}

func doctorAction(c *cli.Context) error {
	s := resolveSettings(c)
	out := c.App.Writer

	store, closer, err := openStore(s.Store, s.Token)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := s.context()
	defer cancel()

	fmt.Fprintf(out, "Store: %s\n", s.Store)

	t := time.Now()
	m, raw, err := manifest.Load(ctx, store, s.ManifestKey)
	if err != nil {
		fmt.Fprintf(out, "  Manifest: FAIL (%v)\n", err)
		return fmt.Errorf("manifest check failed")
	}
	if raw == nil {
		fmt.Fprintf(out, "  Manifest: none yet at %s\n", s.ManifestKey)
	} else {
		fmt.Fprintf(out,
			"  Manifest: ok (%d entries, %s, version %s, %dms)\n",
			m.Len(),
			humanBytes(int64(len(raw))),
			manifest.Fingerprint(raw),
			time.Since(t).Milliseconds(),
		)
	}

	if c.Bool("verify") {
		var bad int
		var total int64
		for _, path := range m.Paths() {
			obj, err := store.Get(ctx, path)
			if err != nil {
				fmt.Fprintf(out, "  %s: FAIL (%v)\n", path, err)
				bad++
				continue
			}
			if scan.Hash(obj.Data) != m.Entries[path] {
				fmt.Fprintf(out, "  %s: FAIL (hash mismatch)\n", path)
				bad++
				continue
			}
			total += int64(len(obj.Data))
		}
		if bad > 0 {
			return fmt.Errorf("%d of %d objects failed verification",
				bad, m.Len())
		}
		fmt.Fprintf(out,
			"  Objects: ok (%d verified, %s)\n",
			m.Len(), humanBytes(total),
		)
	}

	fmt.Fprintln(out, "\nAll checks passed.")
	return nil
}
