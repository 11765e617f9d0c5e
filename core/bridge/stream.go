package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cordum/devserver/core/infra/logging"
	"github.com/gorilla/websocket"
)

const (
	streamBuffer = 100
	writeTimeout = 5 * time.Second
)

// handleStream forwards bus events to a websocket client until either side
// goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("bridge", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info("bridge", "ws connected", "remote", r.RemoteAddr)

	events, cancel := s.deps.Hub.Subscribe(streamBuffer)
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	go func() {
		defer stop()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(writeTimeout))
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				logging.Error("bridge", "event marshal failed", "error", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ctx.Done():
			logging.Info("bridge", "ws disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}
