package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tqbf/sitesync/pkg/harness"
	"github.com/tqbf/sitesync/pkg/objstore/memstore"
	"github.com/tqbf/sitesync/pkg/plan"
	"github.com/tqbf/sitesync/pkg/publish"
)

const (
	readers = 4
	delay   = time.Millisecond
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "sitesync-site-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	fmt.Println("=== Building site ===")
	fmt.Printf("Dir: %s\n", dir)
	buildSite(dir)
	fmt.Printf("Files: %d\n\n", countFiles(dir))

	store := memstore.New()
	pub := publish.New(store,
		publish.WithWorkers(8),
		publish.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	excludes := []string{".DS_Store", "*.swp", ".git", "drafts/"}

	fmt.Println("=== Initial publish ===")
	_, res, err := pub.Sync(ctx, dir, excludes)
	if err != nil {
		return fmt.Errorf("initial publish: %w", err)
	}
	fmt.Printf(
		"uploaded=%d bytes=%s\n\n",
		res.Uploaded, humanize.Bytes(uint64(res.Bytes)),
	)

	fmt.Println("=== Editing site ===")
	editSite(dir)

	pl, err := pub.Plan(ctx, dir, excludes)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	printPlan(pl)

	fmt.Printf(
		"\n=== Racing %d readers against publish (delay %s per write) ===\n",
		readers, delay,
	)
	rep, err := harness.Race(ctx, store, harness.Config{
		Readers: readers,
		Delay:   delay,
	}, func(ctx context.Context) error {
		_, err := pub.Publish(ctx, pl)
		return err
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	fmt.Println(rep)

	if len(rep.Violations) > 0 {
		return fmt.Errorf(
			"objects deleted while listed: %s",
			strings.Join(rep.Violations, ", "),
		)
	}
	if !rep.Settled {
		return fmt.Errorf("store did not settle after publish")
	}
	fmt.Println("\nNo listed object was deleted; store settled.")
	return nil
}

func printPlan(pl plan.Plan) {
	var newFiles, changed []string
	for _, e := range pl.ToWrite {
		if pl.Reason(e.Path) == "changed" {
			changed = append(changed, e.Path)
		} else {
			newFiles = append(newFiles, e.Path)
		}
	}
	fmt.Printf("\n--- New files (%d) ---\n", len(newFiles))
	printPaths(newFiles, "+")
	fmt.Printf("\n--- Changed files (%d) ---\n", len(changed))
	printPaths(changed, "~")
	fmt.Printf("\n--- Deleted files (%d) ---\n", len(pl.ToDelete))
	printPaths(pl.ToDelete, "-")
	fmt.Printf(
		"\nunchanged=%d upload=%s\n",
		len(pl.Unchanged), humanize.Bytes(uint64(pl.WriteBytes())),
	)
}

func printPaths(paths []string, prefix string) {
	for _, p := range paths {
		fmt.Printf("  %s %s\n", prefix, p)
	}
}

func buildSite(dir string) {
	files := map[string]string{
		"index.html":            page("Home", "<p>Welcome.</p>"),
		"about/index.html":      page("About", "<p>Who we are.</p>"),
		"blog/index.html":       page("Blog", "<ul></ul>"),
		"blog/first-post.html":  page("First", "<p>Hello.</p>"),
		"blog/second-post.html": page("Second", "<p>Again.</p>"),
		"css/site.css":          "body { font-family: sans-serif; }\n",
		"css/print.css":         "@media print { nav { display: none; } }\n",
		"js/app.js":             "console.log('ready');\n",
		"feed.xml":              "<rss version=\"2.0\"></rss>\n",
		"robots.txt":            "User-agent: *\nAllow: /\n",
		"drafts/wip.html":       page("WIP", "<p>not yet</p>"),
		".DS_Store":             "junk",
		"images/.keep":          "",
		"fonts/inter.woff2":     randHex(4096),
		"images/hero.png":       randHex(32 << 10),
		"images/avatar.jpg":     randHex(8 << 10),
		"downloads/data.bin":    randHex(64 << 10),
	}
	for i := range 40 {
		files[fmt.Sprintf("docs/page-%02d.html", i)] = page(
			fmt.Sprintf("Doc %d", i),
			strings.Repeat("<p>lorem ipsum</p>", i+1),
		)
	}
	for path, content := range files {
		writeFile(dir, path, content)
	}
}

func editSite(dir string) {
	writeFile(dir, "index.html", page("Home", "<p>Welcome back.</p>"))
	writeFile(dir, "css/site.css", "body { font-family: serif; }\n")
	writeFile(dir, "blog/third-post.html", page("Third", "<p>More.</p>"))
	writeFile(dir, "images/banner.png", randHex(16<<10))
	for i := range 10 {
		os.Remove(filepath.Join(
			dir, fmt.Sprintf("docs/page-%02d.html", i),
		))
	}
	os.Remove(filepath.Join(dir, "downloads/data.bin"))
}

func page(title, body string) string {
	return fmt.Sprintf(
		"<!doctype html><title>%s</title><body>%s</body>\n",
		title, body,
	)
}

func writeFile(base, rel, content string) {
	full := filepath.Join(base, rel)
	os.MkdirAll(filepath.Dir(full), 0755)
	os.WriteFile(full, []byte(content), 0644)
}

func countFiles(dir string) int {
	n := 0
	filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n
}

func randHex(n int) string {
	b := make([]byte, n/2)
	rand.Read(b)
	return hex.EncodeToString(b)
}
