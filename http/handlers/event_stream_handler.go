package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/apxor/browserpool/logger"
	"github.com/apxor/browserpool/services/eventlog"
)

// EventStreamHandler upgrades GET /v1/events to a websocket and forwards
// every pool lifecycle event published to the sink for the life of the
// connection.
type EventStreamHandler struct {
	sink     *eventlog.Sink
	upgrader websocket.Upgrader
}

// NewEventStreamHandler builds a handler fed by sink.
func NewEventStreamHandler(sink *eventlog.Sink) *EventStreamHandler {
	return &EventStreamHandler{
		sink: sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *EventStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("event stream: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.sink.Subscribe()
	defer unsubscribe()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
