package site

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WatchHandler streams a Status message on connect and after every
// snapshot swap until the client goes away or CloseWatchers is called.
func (s *Site) WatchHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Warn("watch accept", "err", err)
			return
		}
		defer conn.CloseNow()

		updates, cancel := s.Subscribe()
		defer cancel()

		ctx := conn.CloseRead(r.Context())
		if err := wsjson.Write(ctx, conn, s.Current().Status()); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case snap := <-updates:
				if err := wsjson.Write(ctx, conn, snap.Status()); err != nil {
					s.logger.Debug("watch write", "err", err)
					return
				}
			}
		}
	})
}
