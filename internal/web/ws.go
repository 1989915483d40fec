package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/sweeney/drain-monitor/internal/status"
)

// handleWS streams the status document to the client every push interval
// and pings it every ping interval. The stream is one-way; anything the
// client sends is discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer c.CloseNow()

	ctx := c.CloseRead(r.Context())
	s.stream(ctx, c)
}

func (s *Server) stream(ctx context.Context, c *websocket.Conn) {
	push := time.NewTicker(s.opts.PushInterval)
	ping := time.NewTicker(s.opts.PingInterval)
	defer push.Stop()
	defer ping.Stop()

	if err := s.push(ctx, c); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return

		case <-push.C:
			if err := s.push(ctx, c); err != nil {
				return
			}

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, DefaultWriteDeadline)
			err := c.Ping(pctx)
			cancel()
			if err != nil {
				slog.Debug("websocket ping failed", "err", err)
				c.Close(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

func (s *Server) push(ctx context.Context, c *websocket.Conn) error {
	wctx, cancel := context.WithTimeout(ctx, DefaultWriteDeadline)
	defer cancel()
	if err := wsjson.Write(wctx, c, status.Build(s.tracker.Snapshot())); err != nil {
		slog.Debug("websocket write failed", "err", err)
		c.Close(websocket.StatusInternalError, "write failed")
		return err
	}
	return nil
}
