package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/torosent/loadpilot/internal/bus"
	"github.com/torosent/loadpilot/internal/registry"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream carries no credentials and mutates nothing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is the inbound control frame. join_test_monitor narrows the
// feed to one test id.
type clientMessage struct {
	Type   string `json:"type"`
	TestID string `json:"test_id"`
}

// handleStream upgrades the connection and pumps bus events to it until the
// client disconnects. Unsubscribe is implicit on disconnect.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	subID := registry.NewID()
	sub := s.bus.Subscribe(subID, r.URL.Query().Get("test_id"))
	defer s.bus.Unsubscribe(subID)

	log := s.log.With(zap.String("subscriber", subID))
	log.Debug("observer connected")

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(bus.Event{
		Name: bus.EventConnected,
		Data: map[string]string{"message": "connected to loadpilot telemetry"},
	}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: handles join_test_monitor and detects disconnect.
	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug("unparseable client frame", zap.Error(err))
				continue
			}
			if msg.Type == "join_test_monitor" {
				sub.SetFilter(msg.TestID)
				log.Debug("observer joined test monitor", zap.String("test_id", msg.TestID))
			}
		}
	}()

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			log.Debug("observer write failed", zap.Error(err))
			return
		}
	}
}
