package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/sitesync/pkg/plan"
)

func diffCmd() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "show what sync would do",
		ArgsUsage: "<dir>",
		Flags: append(planFlags(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "JSON output",
			},
		),
		Action: diffAction,
	}
}

type diffJSON struct {
	Uploads []diffUpload `json:"uploads"`
	Deletes []string     `json:"deletes"`
	Summary diffSummary  `json:"summary"`
}

type diffUpload struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"`
	ContentType string `json:"content_type"`
	Reason      string `json:"reason"`
}

type diffSummary struct {
	UploadCount    int   `json:"upload_count"`
	UploadBytes    int64 `json:"upload_bytes"`
	DeleteCount    int   `json:"delete_count"`
	UnchangedCount int   `json:"unchanged_count"`
}

func diffAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: sitesync diff <dir>")
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

	if c.Bool("json") {
		return printDiffJSON(c, pl)
	}

	if pl.Empty() {
		fmt.Fprintln(c.App.Writer, "Already in sync.")
		return nil
	}
	printChanges(c, pl)
	fmt.Fprintf(c.App.Writer, "---\n%s\n", summary(pl))
	return nil
}

func diffReport(pl plan.Plan) diffJSON {
	out := diffJSON{
		Uploads: make([]diffUpload, 0, len(pl.ToWrite)),
		Deletes: pl.ToDelete,
		Summary: diffSummary{
			UploadCount:    len(pl.ToWrite),
			UploadBytes:    pl.WriteBytes(),
			DeleteCount:    len(pl.ToDelete),
			UnchangedCount: len(pl.Unchanged),
		},
	}
	if out.Deletes == nil {
		out.Deletes = []string{}
	}
	for _, e := range pl.ToWrite {
		out.Uploads = append(out.Uploads, diffUpload{
			Path:        e.Path,
			Size:        int64(len(e.Contents)),
			Hash:        e.Hash,
			ContentType: e.ContentType,
			Reason:      pl.Reason(e.Path),
		})
	}
	return out
}

func printDiffJSON(c *cli.Context, pl plan.Plan) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(diffReport(pl))
}
