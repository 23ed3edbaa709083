package freight_api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/services/tracking"
)

const (
	wsWriteWait      = 5 * time.Second
	wsMaxFrameBytes  = 64 << 10
	wsMaxCloseReason = 123
)

func (a *FreightAPI) latestLocation(w http.ResponseWriter, r *http.Request) {
	loadID := chi.URLParam(r, "id")
	if _, err := a.engine.Get(r.Context(), actor(r), loadID); err != nil {
		writeError(w, r, err)
		return
	}
	smp, err := a.tracking.Pipeline().Latest(r.Context(), loadID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, smp)
}

func (a *FreightAPI) locationHistory(w http.ResponseWriter, r *http.Request) {
	loadID := chi.URLParam(r, "id")
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := a.engine.Get(r.Context(), actor(r), loadID); err != nil {
		writeError(w, r, err)
		return
	}
	samples, err := a.tracking.Pipeline().History(r.Context(), loadID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"items": samples})
}

func (a *FreightAPI) activeTracking(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"loads": a.tracking.Registry().Snapshot()})
}

// serveTracking upgrades the request and runs one tracking session until
// either side closes it.
func (a *FreightAPI) serveTracking(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered with an HTTP error.
		slog.Debug("websocket upgrade", "error", err.Error())
		return
	}
	defer ws.Close()
	ws.SetReadLimit(wsMaxFrameBytes)

	// контекст сессии отменяет Shutdown
	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()

	conn := &wsConn{ws: ws}
	sess, err := a.tracking.Open(ctx, conn)
	if err != nil {
		slog.Debug("tracking open", "error", err.Error())
		return
	}
	defer sess.Close()
	if !a.track(sess) {
		sess.CloseWith(tracking.CloseShutdown, "server shutting down")
		return
	}
	defer a.untrack(sess)

	idle := a.tracking.Policy().IdleTimeout
	for {
		if idle > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(idle))
		}
		_, raw, err := ws.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				sess.CloseWith(tracking.CloseIdle, "idle timeout")
			}
			return
		}
		if err := sess.Handle(ctx, raw); err != nil {
			if !errors.Is(err, tracking.ErrClosed) {
				slog.Debug("tracking session stopped", "session_id", sess.ID(), "error", err.Error())
			}
			return
		}
	}
}

// wsConn adapts a WebSocket to tracking.Conn. gorilla allows one concurrent
// writer, so every write goes through mu.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) Send(_ context.Context, f tracking.OutboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Close(reason tracking.CloseReason, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(closeCode(reason), truncateUTF8(message, wsMaxCloseReason))
	werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	if err := c.ws.Close(); err != nil {
		return err
	}
	return werr
}

func closeCode(reason tracking.CloseReason) int {
	switch reason {
	case tracking.CloseAuthFailed:
		return websocket.ClosePolicyViolation
	case tracking.CloseLoadFull:
		return websocket.CloseTryAgainLater
	case tracking.CloseIdle, tracking.CloseShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
