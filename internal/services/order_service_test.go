package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"giftrelay/internal/models"
	"giftrelay/internal/pricing"
	"giftrelay/internal/provider"
	"giftrelay/internal/settings"
	"giftrelay/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOrderStore struct {
	orders map[int64]*models.Order
	nextID int64
	used   map[int64]bool
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: map[int64]*models.Order{}, used: map[int64]bool{}}
}

func (f *fakeOrderStore) CreateOrder(_ context.Context, order *models.Order) error {
	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	copied := *order
	f.orders[order.ID] = &copied
	f.used[order.PayAmount] = true
	return nil
}

func (f *fakeOrderStore) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *o
	return &copied, nil
}

func (f *fakeOrderStore) ListOrdersByUser(_ context.Context, userID int64, _, _ int) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			copied := *o
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) UpdatePayStatus(_ context.Context, id int64, status models.PayStatus, paidAt *time.Time) error {
	o, ok := f.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	o.PayStatus = status
	o.PayPaidAt = paidAt
	return nil
}

func (f *fakeOrderStore) UpdateDelivery(_ context.Context, id int64, status models.DeliveryStatus, tx, deliveryErr *string) error {
	o, ok := f.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	o.DeliveryStatus = status
	o.DeliveryTx = tx
	o.DeliveryError = deliveryErr
	return nil
}

func (f *fakeOrderStore) Stats(context.Context) (*store.Stats, error) {
	return &store.Stats{Orders: int64(len(f.orders))}, nil
}

func (f *fakeOrderStore) AmountInUse(_ context.Context, amount int64) (bool, error) {
	return f.used[amount], nil
}

type mapConfig map[string]string

func (m mapConfig) GetConfig(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

type fakeValidator struct {
	enabled bool
	err     error
}

func (f *fakeValidator) Enabled() bool { return f.enabled }

func (f *fakeValidator) ValidateRecipient(context.Context, string, models.Product, int64) error {
	return f.err
}

type fakeGateway struct {
	id  string
	err error
}

func (f *fakeGateway) Create(context.Context, int64) (string, error) {
	return f.id, f.err
}

func newService(st *fakeOrderStore, cfg mapConfig, val *fakeValidator) *OrderService {
	return &OrderService{
		Store:     st,
		Settings:  settings.Loader{Store: cfg},
		Allocator: pricing.Allocator{Store: st},
		Provider:  val,
		Log:       zap.NewNop(),
	}
}

func TestCreateCreditsOrder(t *testing.T) {
	st := newFakeOrderStore()
	svc := newService(st, mapConfig{}, &fakeValidator{enabled: true})

	order, err := svc.Create(context.Background(), CreateRequest{
		UserID:          7,
		RecipientHandle: "@alice",
		Product:         models.ProductCredits,
		Qty:             100,
	})
	require.NoError(t, err)
	require.Equal(t, "alice", order.RecipientHandle)
	require.Equal(t, int64(19500), order.BaseAmount)
	require.Equal(t, order.BaseAmount+order.RandDelta, order.PayAmount)
	require.GreaterOrEqual(t, order.RandDelta, int64(1))
	require.LessOrEqual(t, order.RandDelta, int64(99))
	require.Equal(t, models.PayPending, order.PayStatus)
	require.Equal(t, models.DeliveryPending, order.DeliveryStatus)
	require.True(t, order.IsManualPayment())
	require.WithinDuration(t, time.Now().UTC().Add(30*time.Minute), order.ExpiresAt, time.Minute)
}

func TestCreateUniqueAmountsAcrossOrders(t *testing.T) {
	st := newFakeOrderStore()
	svc := newService(st, mapConfig{}, &fakeValidator{})

	seen := map[int64]bool{}
	for i := 0; i < 20; i++ {
		order, err := svc.Create(context.Background(), CreateRequest{
			UserID:          int64(i + 1),
			RecipientHandle: "bob",
			Product:         models.ProductCredits,
			Qty:             100,
		})
		require.NoError(t, err)
		require.False(t, seen[order.PayAmount], "amount reused")
		seen[order.PayAmount] = true
	}
}

func TestCreateSubscriptionNeedsPrice(t *testing.T) {
	st := newFakeOrderStore()
	svc := newService(st, mapConfig{}, &fakeValidator{})

	_, err := svc.Create(context.Background(), CreateRequest{
		UserID: 1, RecipientHandle: "bob", Product: models.ProductSubscription, Qty: 6,
	})
	require.ErrorIs(t, err, pricing.ErrUnpricedDuration)

	svc = newService(st, mapConfig{settings.KeyPremium6M: "350000"}, &fakeValidator{})
	order, err := svc.Create(context.Background(), CreateRequest{
		UserID: 1, RecipientHandle: "bob", Product: models.ProductSubscription, Qty: 6,
	})
	require.NoError(t, err)
	require.Equal(t, int64(350000), order.BaseAmount)
}

func TestCreateValidations(t *testing.T) {
	st := newFakeOrderStore()
	svc := newService(st, mapConfig{}, &fakeValidator{})

	_, err := svc.Create(context.Background(), CreateRequest{RecipientHandle: "x", Product: models.ProductCredits, Qty: 100})
	require.ErrorIs(t, err, ErrMissingUserID)

	_, err = svc.Create(context.Background(), CreateRequest{UserID: 1, Product: models.ProductCredits, Qty: 100})
	require.ErrorIs(t, err, ErrMissingRecipient)

	_, err = svc.Create(context.Background(), CreateRequest{UserID: 1, RecipientHandle: "x", Product: models.ProductCredits, Qty: 49})
	require.ErrorIs(t, err, ErrBadQuantity)

	_, err = svc.Create(context.Background(), CreateRequest{UserID: 1, RecipientHandle: "x", Product: models.ProductCredits, Qty: 100001})
	require.ErrorIs(t, err, ErrBadQuantity)

	_, err = svc.Create(context.Background(), CreateRequest{UserID: 1, RecipientHandle: "x", Product: models.ProductSubscription, Qty: 4})
	require.ErrorIs(t, err, ErrBadQuantity)

	_, err = svc.Create(context.Background(), CreateRequest{UserID: 1, RecipientHandle: "x", Product: models.Product("stickers"), Qty: 1})
	require.ErrorIs(t, err, pricing.ErrUnsupportedProduct)
}

func TestCreateSalesDisabled(t *testing.T) {
	svc := newService(newFakeOrderStore(), mapConfig{settings.KeySalesEnabled: "0"}, &fakeValidator{})
	_, err := svc.Create(context.Background(), CreateRequest{
		UserID: 1, RecipientHandle: "x", Product: models.ProductCredits, Qty: 100,
	})
	require.ErrorIs(t, err, ErrSalesDisabled)
}

func TestCreateRecipientNotFound(t *testing.T) {
	svc := newService(newFakeOrderStore(), mapConfig{}, &fakeValidator{enabled: true, err: provider.ErrNotFound})
	_, err := svc.Create(context.Background(), CreateRequest{
		UserID: 1, RecipientHandle: "ghost", Product: models.ProductCredits, Qty: 100,
	})
	require.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestCreateProviderOutageIsAdvisory(t *testing.T) {
	svc := newService(newFakeOrderStore(), mapConfig{}, &fakeValidator{enabled: true, err: errors.New("timeout")})
	order, err := svc.Create(context.Background(), CreateRequest{
		UserID: 1, RecipientHandle: "alice", Product: models.ProductCredits, Qty: 100,
	})
	require.NoError(t, err)
	require.NotNil(t, order)
}

func TestCreateUsesGatewayPaymentID(t *testing.T) {
	st := newFakeOrderStore()
	svc := newService(st, mapConfig{}, &fakeValidator{})
	svc.Gateway = &fakeGateway{id: "gw-pay-1"}

	order, err := svc.Create(context.Background(), CreateRequest{
		UserID: 1, RecipientHandle: "alice", Product: models.ProductCredits, Qty: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "gw-pay-1", order.PaymentID)
	require.False(t, order.IsManualPayment())
}

func TestCreateFallsBackToManualOnGatewayError(t *testing.T) {
	st := newFakeOrderStore()
	svc := newService(st, mapConfig{}, &fakeValidator{})
	svc.Gateway = &fakeGateway{err: errors.New("gateway down")}

	order, err := svc.Create(context.Background(), CreateRequest{
		UserID: 1, RecipientHandle: "alice", Product: models.ProductCredits, Qty: 100,
	})
	require.NoError(t, err)
	require.True(t, order.IsManualPayment())
	require.True(t, strings.HasPrefix(order.PaymentID, models.ManualPaymentPrefix))
}

func TestMarkPaidAndDelivered(t *testing.T) {
	st := newFakeOrderStore()
	svc := newService(st, mapConfig{}, &fakeValidator{})

	order, err := svc.Create(context.Background(), CreateRequest{
		UserID: 1, RecipientHandle: "alice", Product: models.ProductCredits, Qty: 100,
	})
	require.NoError(t, err)

	paid, err := svc.MarkPaid(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, models.PayPaid, paid.PayStatus)
	require.NotNil(t, paid.PayPaidAt)

	delivered, err := svc.MarkDelivered(context.Background(), order.ID, "tx-manual")
	require.NoError(t, err)
	require.Equal(t, models.DeliverySuccess, delivered.DeliveryStatus)
	require.Equal(t, "tx-manual", *delivered.DeliveryTx)
}

func TestRetryDeliveryClearsFailure(t *testing.T) {
	st := newFakeOrderStore()
	svc := newService(st, mapConfig{}, &fakeValidator{})

	order, err := svc.Create(context.Background(), CreateRequest{
		UserID: 1, RecipientHandle: "alice", Product: models.ProductCredits, Qty: 100,
	})
	require.NoError(t, err)

	msg := "provider down"
	require.NoError(t, st.UpdateDelivery(context.Background(), order.ID, models.DeliveryFailed, nil, &msg))

	retried, err := svc.RetryDelivery(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, models.DeliveryPending, retried.DeliveryStatus)
	require.Nil(t, retried.DeliveryError)
}
