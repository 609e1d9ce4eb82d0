package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamBuffer = 16
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream sends the current alert list oldest first, then every new
// alert as it is pushed. Client messages are read and dropped.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("stream_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	live, cancel := a.svc.Subscribe(streamBuffer)
	defer cancel()

	backlog := a.svc.Alerts()
	seen := make(map[string]bool, len(backlog))
	for i := len(backlog) - 1; i >= 0; i-- {
		seen[backlog[i].ID] = true
		if err := writeEntry(conn, backlog[i]); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	a.logger.Debug("stream_opened", "remote", r.RemoteAddr)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			a.logger.Debug("stream_closed", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case entry, ok := <-live:
			if !ok {
				return
			}
			if seen[entry.ID] {
				continue
			}
			if err := writeEntry(conn, entry); err != nil {
				return
			}
		}
	}
}

func writeEntry(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
