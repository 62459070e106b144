package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"giftrelay/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// adminAuth rejects requests without the configured operator token. An
// empty token leaves the admin surface open, intended for deployments that
// gate it at the proxy.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("X-Admin-Token") != token {
				writeError(w, http.StatusUnauthorized, "bad admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Orders.Stats(r.Context())
	if err != nil {
		h.Log.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) AdminGetConfig(w http.ResponseWriter, r *http.Request) {
	key := strings.ToUpper(chi.URLParam(r, "key"))
	val, err := h.Store.GetConfig(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown config key")
			return
		}
		h.Log.Error("get config failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get config failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": val})
}

type setConfigRequest struct {
	Value string `json:"value"`
}

func (h *Handler) AdminSetConfig(w http.ResponseWriter, r *http.Request) {
	key := strings.ToUpper(chi.URLParam(r, "key"))
	var req setConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.Store.SetConfig(r.Context(), key, req.Value); err != nil {
		h.Log.Error("set config failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "set config failed")
		return
	}
	h.Log.Info("config updated", zap.String("key", key), zap.String("value", req.Value))
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

func (h *Handler) AdminMarkPaid(w http.ResponseWriter, r *http.Request) {
	h.adminOrderAction(w, r, func(id int64) error {
		_, err := h.Orders.MarkPaid(r.Context(), id)
		return err
	})
}

type markDeliveredRequest struct {
	Tx string `json:"tx"`
}

func (h *Handler) AdminMarkDelivered(w http.ResponseWriter, r *http.Request) {
	var req markDeliveredRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	h.adminOrderAction(w, r, func(id int64) error {
		_, err := h.Orders.MarkDelivered(r.Context(), id, req.Tx)
		return err
	})
}

func (h *Handler) AdminRetryDelivery(w http.ResponseWriter, r *http.Request) {
	h.adminOrderAction(w, r, func(id int64) error {
		_, err := h.Orders.RetryDelivery(r.Context(), id)
		return err
	})
}

func (h *Handler) adminOrderAction(w http.ResponseWriter, r *http.Request, fn func(id int64) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	if err := fn(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.Log.Error("admin order action failed", zap.Int64("order_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "action failed")
		return
	}
	order, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order, nil))
}
