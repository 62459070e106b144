package matcher

import (
	"context"

	"go.uber.org/zap"
)

type matchStore interface {
	MatchObservation(ctx context.Context, amount, chatID, messageID int64, raw string) (orderID int64, matched, duplicate bool, err error)
}

// Matcher turns externally observed payment signals into paid orders.
// Matching is atomic against concurrent observations and the expiry pass;
// the store runs the whole sequence in one transaction.
type Matcher struct {
	Store matchStore
	Log   *zap.Logger
}

type Result struct {
	Matched bool
	OrderID int64
}

// Observe records one payment observation and tries to match it against the
// newest pending unexpired order with the same amount. A repeated
// (chat, message) pair is a no-op and reports not-matched.
func (m *Matcher) Observe(ctx context.Context, amount, chatID, messageID int64, raw string) (Result, error) {
	orderID, matched, duplicate, err := m.Store.MatchObservation(ctx, amount, chatID, messageID, raw)
	if err != nil {
		return Result{}, err
	}
	if duplicate {
		m.Log.Debug("payment event already processed",
			zap.Int64("chat_id", chatID),
			zap.Int64("message_id", messageID))
		return Result{}, nil
	}
	if !matched {
		m.Log.Info("payment observed but not matched",
			zap.Int64("amount", amount),
			zap.Int64("chat_id", chatID),
			zap.Int64("message_id", messageID))
		return Result{}, nil
	}
	m.Log.Info("payment matched",
		zap.Int64("amount", amount),
		zap.Int64("order_id", orderID))
	return Result{Matched: true, OrderID: orderID}, nil
}
