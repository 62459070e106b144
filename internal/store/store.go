package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"giftrelay/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const orderColumns = `
	id, user_id, buyer_handle, recipient_handle, product, qty,
	base_amount, pay_amount, rand_delta, payment_id,
	pay_status, pay_created_at, pay_paid_at,
	delivery_status, delivery_tx, delivery_error,
	expires_at, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO orders (
			user_id, buyer_handle, recipient_handle, product, qty,
			base_amount, pay_amount, rand_delta, payment_id,
			pay_status, pay_created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at
	`,
		order.UserID,
		order.BuyerHandle,
		order.RecipientHandle,
		order.Product,
		order.Qty,
		order.BaseAmount,
		order.PayAmount,
		order.RandDelta,
		order.PaymentID,
		order.PayStatus,
		order.PayCreatedAt,
		order.ExpiresAt,
	)
	return row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id=$1 ORDER BY id DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// AmountInUse reports whether a live pending order already owns payAmount.
// The allocator relies on this to keep amounts attributable to one order.
func (s *Store) AmountInUse(ctx context.Context, payAmount int64) (bool, error) {
	var one int
	err := s.Pool.QueryRow(ctx, `
		SELECT 1 FROM orders
		WHERE pay_status='pending' AND expires_at > now() AND pay_amount=$1
		LIMIT 1
	`, payAmount).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ExpirePending transitions at most limit stale pending orders to expired
// and returns how many were touched. The outer WHERE repeats the pending
// predicate: under READ COMMITTED a concurrent match can mark a selected
// order paid while this UPDATE waits on its row lock, and the re-check must
// reject it rather than stamp expired over paid.
func (s *Store) ExpirePending(ctx context.Context, limit int) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders SET pay_status='expired', updated_at=now()
		WHERE pay_status='pending' AND expires_at <= now()
		  AND id IN (
			SELECT id FROM orders
			WHERE pay_status='pending' AND expires_at <= now()
			ORDER BY id ASC LIMIT $1
		)
	`, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// ListPendingWithGateway returns pending unexpired orders that carry a real
// gateway payment id, oldest first. starts_with avoids LIKE, whose _ wildcard
// would also swallow gateway ids that merely resemble the manual prefix.
func (s *Store) ListPendingWithGateway(ctx context.Context, limit int) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE pay_status='pending' AND expires_at > now()
		  AND NOT starts_with(payment_id, $1)
		ORDER BY id ASC LIMIT $2
	`, models.ManualPaymentPrefix, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListNeedingDelivery returns paid orders whose delivery is still pending or
// has failed. Failed deliveries stay eligible so the worker retries them.
func (s *Store) ListNeedingDelivery(ctx context.Context, limit int) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE pay_status='paid' AND delivery_status IN ('pending','failed')
		ORDER BY id ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Store) UpdatePayStatus(ctx context.Context, id int64, status models.PayStatus, paidAt *time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET pay_status=$2, pay_paid_at=COALESCE($3, pay_paid_at), updated_at=now()
		WHERE id=$1
	`, id, status, paidAt)
	return err
}

func (s *Store) UpdateDelivery(ctx context.Context, id int64, status models.DeliveryStatus, tx, deliveryErr *string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET delivery_status=$2, delivery_tx=$3, delivery_error=$4, updated_at=now()
		WHERE id=$1
	`, id, status, tx, deliveryErr)
	return err
}

// MatchObservation records one observed payment and, inside the same
// transaction, matches it against the newest pending unexpired order of the
// same amount. Re-delivered events (same chat/message pair) are no-ops.
func (s *Store) MatchObservation(ctx context.Context, amount, chatID, messageID int64, raw string) (orderID int64, matched, duplicate bool, err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, false, false, err
	}
	defer tx.Rollback(ctx)

	res, err := tx.Exec(ctx, `
		INSERT INTO payment_events (chat_id, message_id, amount, raw)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (chat_id, message_id) DO NOTHING
	`, chatID, messageID, amount, raw)
	if err != nil {
		return 0, false, false, err
	}
	if res.RowsAffected() == 0 {
		return 0, false, true, tx.Commit(ctx)
	}

	row := tx.QueryRow(ctx, `
		SELECT id FROM orders
		WHERE pay_status='pending' AND pay_amount=$1 AND expires_at > now()
		ORDER BY id DESC LIMIT 1
		FOR UPDATE
	`, amount)
	if err := row.Scan(&orderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, false, tx.Commit(ctx)
		}
		return 0, false, false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET pay_status='paid', pay_paid_at=now(), updated_at=now()
		WHERE id=$1
	`, orderID); err != nil {
		return 0, false, false, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE payment_events SET order_id=$1 WHERE chat_id=$2 AND message_id=$3
	`, orderID, chatID, messageID); err != nil {
		return 0, false, false, err
	}
	return orderID, true, false, tx.Commit(ctx)
}

func (s *Store) GetEvent(ctx context.Context, chatID, messageID int64) (*models.PaymentEvent, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT chat_id, message_id, amount, raw, order_id, created_at
		FROM payment_events WHERE chat_id=$1 AND message_id=$2
	`, chatID, messageID)
	var ev models.PaymentEvent
	var orderID sql.NullInt64
	err := row.Scan(&ev.ChatID, &ev.MessageID, &ev.Amount, &ev.Raw, &orderID, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		ev.OrderID = &orderID.Int64
	}
	return &ev, nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var v string
	err := s.Pool.QueryRow(ctx, `SELECT v FROM config WHERE k=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO config (k, v) VALUES ($1, $2)
		ON CONFLICT (k) DO UPDATE SET v=EXCLUDED.v
	`, key, value)
	return err
}

// SeedConfig inserts defaults without overwriting persisted values.
func (s *Store) SeedConfig(ctx context.Context, defaults map[string]string) error {
	for k, v := range defaults {
		if _, err := s.Pool.Exec(ctx, `
			INSERT INTO config (k, v) VALUES ($1, $2)
			ON CONFLICT (k) DO NOTHING
		`, k, v); err != nil {
			return err
		}
	}
	return nil
}

type Stats struct {
	Orders         int64
	Pending        int64
	Paid           int64
	Delivered      int64
	FailedDelivery int64
	Revenue        int64
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE pay_status='pending'),
			count(*) FILTER (WHERE pay_status='paid'),
			count(*) FILTER (WHERE delivery_status='success'),
			count(*) FILTER (WHERE delivery_status='failed'),
			COALESCE(sum(pay_amount) FILTER (WHERE pay_status='paid'), 0)
		FROM orders
	`)
	var st Stats
	if err := row.Scan(&st.Orders, &st.Pending, &st.Paid, &st.Delivered, &st.FailedDelivery, &st.Revenue); err != nil {
		return nil, err
	}
	return &st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var payCreatedAt, payPaidAt sql.NullTime
	var deliveryTx, deliveryErr sql.NullString

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.BuyerHandle,
		&order.RecipientHandle,
		&order.Product,
		&order.Qty,
		&order.BaseAmount,
		&order.PayAmount,
		&order.RandDelta,
		&order.PaymentID,
		&order.PayStatus,
		&payCreatedAt,
		&payPaidAt,
		&order.DeliveryStatus,
		&deliveryTx,
		&deliveryErr,
		&order.ExpiresAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if payCreatedAt.Valid {
		order.PayCreatedAt = &payCreatedAt.Time
	}
	if payPaidAt.Valid {
		order.PayPaidAt = &payPaidAt.Time
	}
	if deliveryTx.Valid {
		order.DeliveryTx = &deliveryTx.String
	}
	if deliveryErr.Valid {
		order.DeliveryError = &deliveryErr.String
	}
	return &order, nil
}

func scanOrders(rows pgx.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
