package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"giftrelay/internal/matcher"
	"giftrelay/internal/models"
	"giftrelay/internal/pricing"
	"giftrelay/internal/services"
	"giftrelay/internal/session"
	"giftrelay/internal/settings"
	"giftrelay/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type providerStatus interface {
	Enabled() bool
}

type balanceReader interface {
	Balance(ctx context.Context, address string) (string, error)
}

type addressReader interface {
	Configured() bool
	Address() (string, error)
}

type Handler struct {
	Orders   *services.OrderService
	Matcher  *matcher.Matcher
	Sessions *session.Store
	Settings settings.Loader
	Store    *store.Store
	Provider providerStatus
	Wallet   addressReader
	Chain    balanceReader
	Log      *zap.Logger
}

type orderResponse struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"user_id"`
	BuyerHandle    string `json:"buyer_handle,omitempty"`
	Recipient      string `json:"recipient"`
	Product        string `json:"product"`
	Qty            int64  `json:"qty"`
	PayAmount      int64  `json:"pay_amount"`
	PayStatus      string `json:"pay_status"`
	PaidAt         string `json:"paid_at,omitempty"`
	DeliveryStatus string `json:"delivery_status"`
	DeliveryTx     string `json:"delivery_tx,omitempty"`
	DeliveryError  string `json:"delivery_error,omitempty"`
	ExpiresAt      string `json:"expires_at"`
	CreatedAt      string `json:"created_at"`
	PayCard        string `json:"pay_card,omitempty"`
	PayName        string `json:"pay_name,omitempty"`
}

func toOrderResponse(o *models.Order, cfg *settings.Settings) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		UserID:         o.UserID,
		BuyerHandle:    o.BuyerHandle,
		Recipient:      o.RecipientHandle,
		Product:        string(o.Product),
		Qty:            o.Qty,
		PayAmount:      o.PayAmount,
		PayStatus:      string(o.PayStatus),
		DeliveryStatus: string(o.DeliveryStatus),
		ExpiresAt:      o.ExpiresAt.Format(time.RFC3339),
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
	}
	if o.PayPaidAt != nil {
		resp.PaidAt = o.PayPaidAt.Format(time.RFC3339)
	}
	if o.DeliveryTx != nil {
		resp.DeliveryTx = *o.DeliveryTx
	}
	if o.DeliveryError != nil {
		resp.DeliveryError = *o.DeliveryError
	}
	// Payment instructions travel with pending orders only.
	if cfg != nil && o.PayStatus == models.PayPending {
		resp.PayCard = cfg.PayCard
		resp.PayName = cfg.PayName
	}
	return resp
}

type createOrderRequest struct {
	UserID      int64  `json:"user_id"`
	BuyerHandle string `json:"buyer_handle"`
	Recipient   string `json:"recipient"`
	Product     string `json:"product"`
	Qty         int64  `json:"qty"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	order, err := h.Orders.Create(r.Context(), services.CreateRequest{
		UserID:          req.UserID,
		BuyerHandle:     req.BuyerHandle,
		RecipientHandle: req.Recipient,
		Product:         models.Product(req.Product),
		Qty:             req.Qty,
	})
	if err != nil {
		h.writeCreateError(w, err)
		return
	}
	cfg, err := h.Settings.Load(r.Context())
	if err != nil {
		h.Log.Warn("settings load failed", zap.Error(err))
		writeJSON(w, http.StatusCreated, toOrderResponse(order, nil))
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order, &cfg))
}

func (h *Handler) writeCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrMissingUserID):
		writeError(w, http.StatusUnauthorized, "missing user id")
	case errors.Is(err, services.ErrMissingRecipient):
		writeError(w, http.StatusBadRequest, "missing recipient")
	case errors.Is(err, services.ErrBadQuantity):
		writeError(w, http.StatusBadRequest, "quantity out of range")
	case errors.Is(err, services.ErrRecipientNotFound):
		writeError(w, http.StatusUnprocessableEntity, "recipient not found")
	case errors.Is(err, services.ErrSalesDisabled):
		writeError(w, http.StatusServiceUnavailable, "sales are disabled")
	case errors.Is(err, pricing.ErrUnpricedDuration):
		writeError(w, http.StatusBadRequest, "duration not for sale")
	case errors.Is(err, pricing.ErrUnsupportedProduct):
		writeError(w, http.StatusBadRequest, "unknown product")
	default:
		h.Log.Error("create order failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create order failed")
	}
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.Log.Error("get order failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}
	cfg, _ := h.Settings.Load(r.Context())
	writeJSON(w, http.StatusOK, toOrderResponse(order, &cfg))
}

func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	orders, err := h.Orders.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.Log.Error("list orders failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list orders failed")
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

type observeRequest struct {
	Amount    int64  `json:"amount"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Raw       string `json:"raw"`
}

type observeResponse struct {
	Matched bool  `json:"matched"`
	OrderID int64 `json:"order_id,omitempty"`
}

// Observe ingests one externally watched payment signal.
func (h *Handler) Observe(w http.ResponseWriter, r *http.Request) {
	var req observeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Amount <= 0 || req.ChatID == 0 || req.MessageID == 0 {
		writeError(w, http.StatusBadRequest, "amount, chat_id and message_id are required")
		return
	}
	res, err := h.Matcher.Observe(r.Context(), req.Amount, req.ChatID, req.MessageID, req.Raw)
	if err != nil {
		h.Log.Error("observe failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "observe failed")
		return
	}
	writeJSON(w, http.StatusOK, observeResponse{Matched: res.Matched, OrderID: res.OrderID})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status":           "ok",
		"provider_enabled": h.Provider != nil && h.Provider.Enabled(),
	}
	if h.Wallet != nil && h.Chain != nil && h.Wallet.Configured() {
		if addr, err := h.Wallet.Address(); err == nil {
			out["wallet_address"] = addr
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if bal, err := h.Chain.Balance(ctx, addr); err == nil {
				out["wallet_balance"] = bal
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}
