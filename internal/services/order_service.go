package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"giftrelay/internal/models"
	"giftrelay/internal/pricing"
	"giftrelay/internal/provider"
	"giftrelay/internal/settings"
	"giftrelay/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSalesDisabled     = errors.New("sales are disabled")
	ErrMissingUserID     = errors.New("missing user id")
	ErrMissingRecipient  = errors.New("missing recipient")
	ErrBadQuantity       = errors.New("quantity out of range")
	ErrRecipientNotFound = errors.New("recipient not found")
)

const (
	minCredits = 50
	maxCredits = 100000
)

type orderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Order, error)
	UpdatePayStatus(ctx context.Context, id int64, status models.PayStatus, paidAt *time.Time) error
	UpdateDelivery(ctx context.Context, id int64, status models.DeliveryStatus, tx, deliveryErr *string) error
	Stats(ctx context.Context) (*store.Stats, error)
}

type recipientValidator interface {
	Enabled() bool
	ValidateRecipient(ctx context.Context, handle string, product models.Product, qty int64) error
}

type paymentCreator interface {
	Create(ctx context.Context, amount int64) (string, error)
}

// OrderService owns order intake: validation, pricing, unique-amount
// allocation and payment registration. Creation serializes per user so one
// buyer cannot race two allocations against each other.
type OrderService struct {
	Store     orderStore
	Settings  settings.Loader
	Allocator pricing.Allocator
	Provider  recipientValidator
	Gateway   paymentCreator
	Log       *zap.Logger

	mu    sync.Mutex
	users map[int64]*sync.Mutex
}

type CreateRequest struct {
	UserID          int64
	BuyerHandle     string
	RecipientHandle string
	Product         models.Product
	Qty             int64
}

func (s *OrderService) Create(ctx context.Context, req CreateRequest) (*models.Order, error) {
	if req.UserID == 0 {
		return nil, ErrMissingUserID
	}
	recipient := provider.NormalizeHandle(req.RecipientHandle)
	if recipient == "" {
		return nil, ErrMissingRecipient
	}
	if req.Product == "" {
		req.Product = models.ProductCredits
	}

	cfg, err := s.Settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.SalesEnabled {
		return nil, ErrSalesDisabled
	}
	if err := validateQty(req.Product, req.Qty, cfg); err != nil {
		return nil, err
	}

	// Existence check is advisory: with the delivery provider down, orders
	// are still accepted and the recipient is re-resolved at delivery time.
	if s.Provider != nil && s.Provider.Enabled() {
		switch err := s.Provider.ValidateRecipient(ctx, recipient, req.Product, req.Qty); {
		case errors.Is(err, provider.ErrNotFound):
			return nil, ErrRecipientNotFound
		case errors.Is(err, provider.ErrBadParams):
			return nil, ErrBadQuantity
		case errors.Is(err, provider.ErrNotReady):
		case err != nil:
			s.Log.Warn("recipient validation unavailable", zap.Error(err))
		}
	}

	unlock := s.lockUser(req.UserID)
	defer unlock()

	base, err := pricing.Price(req.Product, req.Qty, cfg)
	if err != nil {
		return nil, err
	}
	alloc, err := s.Allocator.Allocate(ctx, base, cfg)
	if err != nil {
		return nil, err
	}
	if alloc.CollisionUnresolved {
		s.Log.Warn("amount collision unresolved, two live orders may share an amount",
			zap.Int64("pay_amount", alloc.PayAmount))
	}

	paymentID := s.registerPayment(ctx, alloc.PayAmount)

	now := time.Now().UTC()
	order := &models.Order{
		UserID:          req.UserID,
		BuyerHandle:     req.BuyerHandle,
		RecipientHandle: recipient,
		Product:         req.Product,
		Qty:             req.Qty,
		BaseAmount:      base,
		PayAmount:       alloc.PayAmount,
		RandDelta:       alloc.Delta,
		PaymentID:       paymentID,
		PayStatus:       models.PayPending,
		DeliveryStatus:  models.DeliveryPending,
		ExpiresAt:       now.Add(time.Duration(cfg.TTLMinutes) * time.Minute),
	}
	if err := s.Store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.Log.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("product", string(order.Product)),
		zap.Int64("qty", order.Qty),
		zap.Int64("pay_amount", order.PayAmount))
	return order, nil
}

// registerPayment obtains a gateway payment id, falling back to a locally
// generated manual id so a gateway outage never blocks order intake.
func (s *OrderService) registerPayment(ctx context.Context, amount int64) string {
	if s.Gateway != nil {
		pid, err := s.Gateway.Create(ctx, amount)
		if err == nil && pid != "" {
			return pid
		}
		if err != nil {
			s.Log.Warn("gateway create failed, tracking payment manually", zap.Error(err))
		}
	}
	return models.ManualPaymentPrefix + uuid.NewString()
}

func (s *OrderService) Get(ctx context.Context, id int64) (*models.Order, error) {
	return s.Store.GetOrder(ctx, id)
}

func (s *OrderService) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.Store.ListOrdersByUser(ctx, userID, limit, offset)
}

// MarkPaid is the operator override for payments the matcher could not
// attribute.
func (s *OrderService) MarkPaid(ctx context.Context, id int64) (*models.Order, error) {
	now := time.Now().UTC()
	if err := s.Store.UpdatePayStatus(ctx, id, models.PayPaid, &now); err != nil {
		return nil, err
	}
	s.Log.Info("order manually marked paid", zap.Int64("order_id", id))
	return s.Store.GetOrder(ctx, id)
}

// MarkDelivered records an out-of-band delivery and removes the order from
// the retry set.
func (s *OrderService) MarkDelivered(ctx context.Context, id int64, tx string) (*models.Order, error) {
	var txRef *string
	if tx != "" {
		txRef = &tx
	}
	if err := s.Store.UpdateDelivery(ctx, id, models.DeliverySuccess, txRef, nil); err != nil {
		return nil, err
	}
	s.Log.Info("order manually marked delivered", zap.Int64("order_id", id))
	return s.Store.GetOrder(ctx, id)
}

// RetryDelivery clears a recorded delivery failure so the next tick
// attempts the order again immediately.
func (s *OrderService) RetryDelivery(ctx context.Context, id int64) (*models.Order, error) {
	if err := s.Store.UpdateDelivery(ctx, id, models.DeliveryPending, nil, nil); err != nil {
		return nil, err
	}
	return s.Store.GetOrder(ctx, id)
}

func (s *OrderService) Stats(ctx context.Context) (*store.Stats, error) {
	return s.Store.Stats(ctx)
}

func validateQty(product models.Product, qty int64, cfg settings.Settings) error {
	switch product {
	case models.ProductCredits:
		if qty < minCredits || qty > maxCredits {
			return ErrBadQuantity
		}
	case models.ProductSubscription:
		if qty != 3 && qty != 6 && qty != 12 {
			return ErrBadQuantity
		}
		if cfg.PremiumPrice(qty) <= 0 {
			return pricing.ErrUnpricedDuration
		}
	default:
		return pricing.ErrUnsupportedProduct
	}
	return nil
}

func (s *OrderService) lockUser(userID int64) func() {
	s.mu.Lock()
	if s.users == nil {
		s.users = map[int64]*sync.Mutex{}
	}
	m, ok := s.users[userID]
	if !ok {
		m = &sync.Mutex{}
		s.users[userID] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}
