package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efreitasn/bourse/internal/service"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// StreamHandler pushes market events to websocket clients.
type StreamHandler struct {
	hub      *service.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a StreamHandler on hub.
func NewStreamHandler(hub *service.Hub, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// streamMessage is one websocket frame.
type streamMessage struct {
	Event  string         `json:"event"`
	At     string         `json:"at"`
	Market marketResponse `json:"market"`
	Order  *orderResponse `json:"order,omitempty"`
}

// Stream handles GET /markets/stream[?product_id=]. Clients only read; any
// inbound frame other than control frames is discarded.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	productID := r.URL.Query().Get("product_id")
	sub := h.hub.Subscribe(productID)
	h.logger.Info("stream opened", "remote", r.RemoteAddr, "product_id", productID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer func() {
		ping.Stop()
		h.hub.Unsubscribe(sub)
		conn.Close()
		h.logger.Info("stream closed", "remote", r.RemoteAddr, "dropped", sub.Dropped())
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			msg := streamMessage{
				Event:  ev.Type,
				At:     ev.At.UTC().Format(timeLayout),
				Market: buildMarketResponse(&ev.Market),
			}
			if ev.Order != nil {
				o := buildOrderResponse(ev.Order)
				msg.Order = &o
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
