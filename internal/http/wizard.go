package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"giftrelay/internal/models"
	"giftrelay/internal/services"
	"giftrelay/internal/session"
	"giftrelay/internal/settings"

	"go.uber.org/zap"
)

type wizardRequest struct {
	UserID      int64  `json:"user_id"`
	BuyerHandle string `json:"buyer_handle"`
	Text        string `json:"text"`
}

type wizardResponse struct {
	State  string         `json:"state"`
	Prompt string         `json:"prompt"`
	Order  *orderResponse `json:"order,omitempty"`
	Done   bool           `json:"done,omitempty"`
}

// StartWizard resets the caller's purchase dialog to the first step.
func (h *Handler) StartWizard(w http.ResponseWriter, r *http.Request) {
	var req wizardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	cfg, err := h.Settings.Load(r.Context())
	if err != nil {
		h.Log.Error("settings load failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	if !cfg.SalesEnabled {
		writeError(w, http.StatusServiceUnavailable, "sales are disabled")
		return
	}
	sess := h.Sessions.Start(req.UserID)
	writeJSON(w, http.StatusOK, wizardResponse{
		State:  string(sess.State),
		Prompt: "What would you like to buy: credits or subscription?",
	})
}

// WizardInput advances the dialog one step with the user's free-text reply.
func (h *Handler) WizardInput(w http.ResponseWriter, r *http.Request) {
	var req wizardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	text := strings.TrimSpace(req.Text)
	if strings.EqualFold(text, "cancel") {
		h.Sessions.End(req.UserID)
		writeJSON(w, http.StatusOK, wizardResponse{Prompt: "Purchase cancelled.", Done: true})
		return
	}

	sess := h.Sessions.Get(req.UserID)
	if sess == nil {
		writeError(w, http.StatusConflict, "no active purchase, start one first")
		return
	}
	cfg, err := h.Settings.Load(r.Context())
	if err != nil {
		h.Log.Error("settings load failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}

	switch sess.State {
	case session.StateChoosingProduct:
		h.stepProduct(w, req, text, cfg)
	case session.StateAwaitingQuantity:
		h.stepQuantity(w, req, sess, text, cfg)
	case session.StateAwaitingHandle:
		h.stepRecipient(w, r, req, sess, text, cfg)
	case session.StateAwaitingPayment:
		h.stepPayment(w, r, req, sess, text)
	default:
		h.Sessions.End(req.UserID)
		writeError(w, http.StatusConflict, "purchase state lost, start again")
	}
}

func (h *Handler) stepProduct(w http.ResponseWriter, req wizardRequest, text string, cfg settings.Settings) {
	var product models.Product
	switch strings.ToLower(text) {
	case "credits", "credit":
		product = models.ProductCredits
	case "subscription", "sub":
		product = models.ProductSubscription
	default:
		writeJSON(w, http.StatusOK, wizardResponse{
			State:  string(session.StateChoosingProduct),
			Prompt: "Please reply with \"credits\" or \"subscription\".",
		})
		return
	}
	sess := h.Sessions.Update(req.UserID, func(s *session.Session) {
		s.Product = product
		s.State = session.StateAwaitingQuantity
	})
	prompt := fmt.Sprintf("How many credits? Popular packs: %s (any amount 50..100000 works).", joinInts(cfg.Packs))
	if product == models.ProductSubscription {
		prompt = "For how many months: 3, 6 or 12?"
	}
	writeJSON(w, http.StatusOK, wizardResponse{State: string(sess.State), Prompt: prompt})
}

func (h *Handler) stepQuantity(w http.ResponseWriter, req wizardRequest, sess *session.Session, text string, cfg settings.Settings) {
	qty, err := strconv.ParseInt(text, 10, 64)
	if err != nil || !qtyAcceptable(sess.Product, qty, cfg) {
		prompt := "That quantity is not available, enter a number from 50 to 100000."
		if sess.Product == models.ProductSubscription {
			prompt = "That duration is not available, reply 3, 6 or 12."
		}
		writeJSON(w, http.StatusOK, wizardResponse{State: string(sess.State), Prompt: prompt})
		return
	}
	updated := h.Sessions.Update(req.UserID, func(s *session.Session) {
		s.Qty = qty
		s.State = session.StateAwaitingHandle
	})
	writeJSON(w, http.StatusOK, wizardResponse{
		State:  string(updated.State),
		Prompt: "Who is this for? Send the recipient's @handle.",
	})
}

func (h *Handler) stepRecipient(w http.ResponseWriter, r *http.Request, req wizardRequest, sess *session.Session, text string, cfg settings.Settings) {
	order, err := h.Orders.Create(r.Context(), services.CreateRequest{
		UserID:          req.UserID,
		BuyerHandle:     req.BuyerHandle,
		RecipientHandle: text,
		Product:         sess.Product,
		Qty:             sess.Qty,
	})
	if err != nil {
		switch {
		case err == services.ErrRecipientNotFound:
			writeJSON(w, http.StatusOK, wizardResponse{
				State:  string(session.StateAwaitingHandle),
				Prompt: "That recipient was not found, check the handle and try again.",
			})
		case err == services.ErrMissingRecipient:
			writeJSON(w, http.StatusOK, wizardResponse{
				State:  string(session.StateAwaitingHandle),
				Prompt: "Send the recipient's @handle.",
			})
		default:
			h.writeCreateError(w, err)
		}
		return
	}
	updated := h.Sessions.Update(req.UserID, func(s *session.Session) {
		s.Recipient = order.RecipientHandle
		s.OrderID = order.ID
		s.State = session.StateAwaitingPayment
	})
	resp := toOrderResponse(order, &cfg)
	writeJSON(w, http.StatusOK, wizardResponse{
		State: string(updated.State),
		Prompt: fmt.Sprintf(
			"Transfer exactly %d to card %s (%s) within %d minutes, then reply \"paid\". The amount must match to the unit.",
			order.PayAmount, cfg.PayCard, cfg.PayName, cfg.TTLMinutes),
		Order: &resp,
	})
}

func (h *Handler) stepPayment(w http.ResponseWriter, r *http.Request, req wizardRequest, sess *session.Session, text string) {
	if !strings.EqualFold(text, "paid") {
		writeJSON(w, http.StatusOK, wizardResponse{
			State:  string(sess.State),
			Prompt: "Reply \"paid\" after the transfer, or \"cancel\" to abort.",
		})
		return
	}
	order, err := h.Orders.Get(r.Context(), sess.OrderID)
	if err != nil {
		h.Log.Error("wizard get order failed", zap.Int64("order_id", sess.OrderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}
	resp := toOrderResponse(order, nil)
	if order.PayStatus == models.PayPending {
		writeJSON(w, http.StatusOK, wizardResponse{
			State:  string(sess.State),
			Prompt: "Thanks, the transfer will be confirmed automatically within a few minutes.",
			Order:  &resp,
		})
		return
	}
	h.Sessions.End(req.UserID)
	writeJSON(w, http.StatusOK, wizardResponse{
		Prompt: "Payment confirmed, delivery is on its way.",
		Order:  &resp,
		Done:   true,
	})
}

func qtyAcceptable(product models.Product, qty int64, cfg settings.Settings) bool {
	if product == models.ProductSubscription {
		return cfg.PremiumPrice(qty) > 0
	}
	return qty >= 50 && qty <= 100000
}

func joinInts(vals []int64) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, strconv.FormatInt(v, 10))
	}
	return strings.Join(parts, ", ")
}
