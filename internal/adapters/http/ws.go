package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvent is one frame on the observer stream.
type wsEvent struct {
	Type         string               `json:"type"`
	Snapshot     *notify.Snapshot     `json:"snapshot,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

// watch streams snapshots and notifications to a websocket observer until
// either side goes away.
func (h *handlers) watch(ctx context.Context, c *gin.Context) {
	logger := log.With().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Logger()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	sub := h.api.Subscribe(h.notifyBuffer)
	ctx, cancel := context.WithCancel(ctx)

	go readPump(conn, cancel)
	writePump(ctx, conn, sub)

	sub.Close()
	cancel()
	_ = conn.Close()
	logger.Info().Int("missed", sub.Missed()).Msg("ws observer gone")
}

// readPump only services control frames; observers do not send commands
// over this socket.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, sub *notify.Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	write := func(ev wsEvent) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev) == nil
	}

	snaps, notes := sub.Snapshots(), sub.Notifications()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if !write(wsEvent{Type: "snapshot", Snapshot: &snap}) {
				return
			}
		case note, ok := <-notes:
			if !ok {
				return
			}
			if !write(wsEvent{Type: "notification", Notification: &note}) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
