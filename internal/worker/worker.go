package worker

import (
	"context"
	"errors"
	"time"

	"giftrelay/internal/gateway"
	"giftrelay/internal/models"
	"giftrelay/internal/notify"
	"giftrelay/internal/provider"
	"giftrelay/internal/settings"

	"go.uber.org/zap"
)

// minInterval is the floor for the tick period regardless of what the
// runtime config says.
const minInterval = 3 * time.Second

type workerStore interface {
	ExpirePending(ctx context.Context, limit int) (int64, error)
	ListPendingWithGateway(ctx context.Context, limit int) ([]*models.Order, error)
	ListNeedingDelivery(ctx context.Context, limit int) ([]*models.Order, error)
	UpdatePayStatus(ctx context.Context, id int64, status models.PayStatus, paidAt *time.Time) error
	UpdateDelivery(ctx context.Context, id int64, status models.DeliveryStatus, tx, deliveryErr *string) error
}

type statusChecker interface {
	Check(ctx context.Context, paymentID string) (gateway.Status, *time.Time, error)
}

type deliverer interface {
	Purchase(ctx context.Context, handle string, product models.Product, qty int64) (string, error)
}

// Worker is the reconciliation loop. Each tick runs three independent
// phases in order: expire stale orders, verify gateway-tracked payments,
// deliver paid orders. A failure in one phase never blocks the others.
type Worker struct {
	Store    workerStore
	Settings settings.Loader
	Gateway  statusChecker
	Provider deliverer
	Notify   notify.Notifier
	Log      *zap.Logger

	ExpireBatch  int
	VerifyBatch  int
	DeliverBatch int
}

func (w *Worker) Run(ctx context.Context) {
	for {
		interval := w.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Tick runs one reconciliation pass and returns the sleep period until the
// next one, read from runtime settings so interval changes apply without a
// restart.
func (w *Worker) Tick(ctx context.Context) time.Duration {
	interval := minInterval
	cfg, err := w.Settings.Load(ctx)
	if err != nil {
		w.Log.Error("settings load failed", zap.Error(err))
		return interval
	}
	if d := time.Duration(cfg.CheckInterval) * time.Second; d > interval {
		interval = d
	}

	w.expire(ctx)
	w.verify(ctx)
	w.deliver(ctx)
	return interval
}

func (w *Worker) expire(ctx context.Context) {
	n, err := w.Store.ExpirePending(ctx, w.ExpireBatch)
	if err != nil {
		w.Log.Error("expire pass failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.Log.Info("orders expired", zap.Int64("count", n))
	}
}

// verify polls the external gateway for pending orders that carry a
// gateway-issued payment id. Manually tracked orders are excluded at the
// store level and only transition through observed payments or the admin
// surface.
func (w *Worker) verify(ctx context.Context) {
	if w.Gateway == nil {
		return
	}
	orders, err := w.Store.ListPendingWithGateway(ctx, w.VerifyBatch)
	if err != nil {
		w.Log.Error("verify list failed", zap.Error(err))
		return
	}
	for _, order := range orders {
		status, paidAt, err := w.Gateway.Check(ctx, order.PaymentID)
		if err != nil {
			w.Log.Warn("gateway check failed",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			continue
		}
		switch status {
		case gateway.StatusPaid:
			if err := w.Store.UpdatePayStatus(ctx, order.ID, models.PayPaid, paidAt); err != nil {
				w.Log.Error("mark paid failed", zap.Int64("order_id", order.ID), zap.Error(err))
				continue
			}
			w.Log.Info("order paid via gateway", zap.Int64("order_id", order.ID))
		case gateway.StatusCancelled:
			if err := w.Store.UpdatePayStatus(ctx, order.ID, models.PayCancelled, nil); err != nil {
				w.Log.Error("mark cancelled failed", zap.Int64("order_id", order.ID), zap.Error(err))
			}
		case gateway.StatusFailed:
			if err := w.Store.UpdatePayStatus(ctx, order.ID, models.PayFailed, nil); err != nil {
				w.Log.Error("mark failed failed", zap.Int64("order_id", order.ID), zap.Error(err))
			}
		}
	}
}

// deliver attempts every paid undelivered order. Only the terminal failure
// taxonomy is recorded on the order; transient errors leave it untouched so
// the next tick retries from the same state. A disabled provider skips the
// whole phase.
func (w *Worker) deliver(ctx context.Context) {
	if e, ok := w.Provider.(interface{ Enabled() bool }); ok && !e.Enabled() {
		return
	}
	orders, err := w.Store.ListNeedingDelivery(ctx, w.DeliverBatch)
	if err != nil {
		w.Log.Error("deliver list failed", zap.Error(err))
		return
	}
	for _, order := range orders {
		w.deliverOne(ctx, order)
	}
}

func (w *Worker) deliverOne(ctx context.Context, order *models.Order) {
	tx, err := w.Provider.Purchase(ctx, order.RecipientHandle, order.Product, order.Qty)
	if err != nil {
		w.Log.Warn("delivery attempt failed",
			zap.Int64("order_id", order.ID),
			zap.String("product", string(order.Product)),
			zap.Error(err))
		// A not-ready provider or a transport error says nothing about the
		// order itself; it stays pending and is retried as-is.
		if !w.terminal(err) {
			return
		}
		msg := err.Error()
		if uerr := w.Store.UpdateDelivery(ctx, order.ID, models.DeliveryFailed, nil, &msg); uerr != nil {
			w.Log.Error("record delivery failure failed", zap.Int64("order_id", order.ID), zap.Error(uerr))
		}
		// Notify once per distinct failure reason.
		if order.DeliveryError == nil || *order.DeliveryError != msg {
			w.Notify.Notify(order.UserID, notify.FailedText(order.ID, msg))
		}
		return
	}
	if err := w.Store.UpdateDelivery(ctx, order.ID, models.DeliverySuccess, &tx, nil); err != nil {
		w.Log.Error("record delivery failed", zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}
	w.Log.Info("order delivered",
		zap.Int64("order_id", order.ID),
		zap.String("tx", tx))
	w.Notify.Notify(order.UserID, notify.PaidText(order.ID, string(order.Product), order.Qty, tx))
}

func (w *Worker) terminal(err error) bool {
	return errors.Is(err, provider.ErrNotFound) ||
		errors.Is(err, provider.ErrBadParams) ||
		errors.Is(err, provider.ErrWalletLink) ||
		errors.Is(err, provider.ErrTxFailed)
}
