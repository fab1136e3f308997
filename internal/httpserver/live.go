package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tionis/tallercheck/internal/monitor"
)

const (
	liveWriteTimeout = 10 * time.Second
	livePongWait     = 60 * time.Second
	livePingPeriod   = livePongWait * 9 / 10
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleLive streams monitor events as JSON text messages until either side
// closes. A client too slow to keep up is disconnected.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.opts.Streams == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed disabled")
		return
	}

	sub, err := s.opts.Streams.Subscribe(monitor.LiveKey)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Close()

	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade to websockets", "error", err)
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close websocket connection", "error", err)
		}
	}(conn)

	// Reader: only control frames are expected; it ends when the peer goes away
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("live reader stopped", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if !ok {
				// Dropped as a slow subscriber or the hub shut down
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "feed closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("live write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
