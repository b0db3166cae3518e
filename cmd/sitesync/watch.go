package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/urfave/cli/v2"

	"github.com/tqbf/sitesync/pkg/site"
)

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "follow snapshot reloads of a running server",
		ArgsUsage: "<server-url>",
		Action:    watchAction,
	}
}

func watchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: sitesync watch <server-url>")
	}
	wsURL, err := watchURL(c.Args().Get(0))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()
	return watch(ctx, wsURL, c.App.Writer)
}

func watchURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + site.WatchPath
	return u.String(), nil
}

func watch(ctx context.Context, wsURL string, out io.Writer) error {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.CloseNow()

	for {
		var st site.Status
		err := wsjson.Read(ctx, conn, &st)
		switch {
		case err == nil:
		case websocket.CloseStatus(err) == websocket.StatusGoingAway:
			fmt.Fprintln(out, "server shutting down")
			return nil
		case ctx.Err() != nil:
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		default:
			return fmt.Errorf("read: %w", err)
		}
		fmt.Fprintf(out,
			"%s version=%s entries=%d\n",
			st.LoadedAt.Format(time.RFC3339), st.Version, st.Entries,
		)
	}
}
