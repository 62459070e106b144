package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsReadLimit  = 64 << 10
	wsPongWait   = 90 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// ObserveWS serves the streaming variant of the observation ingest: the
// watcher keeps one connection open and sends a JSON frame per observed
// payment message, getting a match result frame back for each.
func (h *Handler) ObserveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	h.Log.Info("observation stream connected", zap.String("remote", r.RemoteAddr))

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.wsPing(conn, done)

	for {
		var req observeRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Log.Warn("observation stream read failed", zap.Error(err))
			}
			return
		}
		if req.Amount <= 0 || req.ChatID == 0 || req.MessageID == 0 {
			continue
		}
		res, err := h.Matcher.Observe(r.Context(), req.Amount, req.ChatID, req.MessageID, req.Raw)
		if err != nil {
			h.Log.Error("ws observe failed", zap.Error(err))
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(observeResponse{Matched: res.Matched, OrderID: res.OrderID}); err != nil {
			h.Log.Warn("observation stream write failed", zap.Error(err))
			return
		}
	}
}

func (h *Handler) wsPing(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
