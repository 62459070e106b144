package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"giftrelay/internal/gateway"
	"giftrelay/internal/models"
	"giftrelay/internal/provider"
	"giftrelay/internal/settings"
	"giftrelay/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type payUpdate struct {
	id     int64
	status models.PayStatus
}

type deliveryUpdate struct {
	id     int64
	status models.DeliveryStatus
	tx     *string
	errMsg *string
}

type fakeStore struct {
	expired      int64
	expireErr    error
	withGateway  []*models.Order
	needDelivery []*models.Order

	payUpdates      []payUpdate
	deliveryUpdates []deliveryUpdate
}

func (f *fakeStore) ExpirePending(context.Context, int) (int64, error) {
	return f.expired, f.expireErr
}

func (f *fakeStore) ListPendingWithGateway(context.Context, int) ([]*models.Order, error) {
	return f.withGateway, nil
}

func (f *fakeStore) ListNeedingDelivery(context.Context, int) ([]*models.Order, error) {
	return f.needDelivery, nil
}

func (f *fakeStore) UpdatePayStatus(_ context.Context, id int64, status models.PayStatus, _ *time.Time) error {
	f.payUpdates = append(f.payUpdates, payUpdate{id: id, status: status})
	return nil
}

func (f *fakeStore) UpdateDelivery(_ context.Context, id int64, status models.DeliveryStatus, tx, errMsg *string) error {
	f.deliveryUpdates = append(f.deliveryUpdates, deliveryUpdate{id: id, status: status, tx: tx, errMsg: errMsg})
	return nil
}

type fakeGateway struct {
	statuses map[string]gateway.Status
	err      error
}

func (f *fakeGateway) Check(_ context.Context, paymentID string) (gateway.Status, *time.Time, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.statuses[paymentID], nil, nil
}

type fakeProvider struct {
	tx    string
	err   error
	calls []string
}

func (f *fakeProvider) Purchase(_ context.Context, handle string, _ models.Product, _ int64) (string, error) {
	f.calls = append(f.calls, handle)
	if f.err != nil {
		return "", f.err
	}
	return f.tx, nil
}

type fakeNotifier struct {
	sent map[int64][]string
}

func (f *fakeNotifier) Notify(userID int64, text string) {
	if f.sent == nil {
		f.sent = map[int64][]string{}
	}
	f.sent[userID] = append(f.sent[userID], text)
}

type emptyConfig struct{}

func (emptyConfig) GetConfig(context.Context, string) (string, error) {
	return "", store.ErrNotFound
}

func newTestWorker(st *fakeStore, gw *fakeGateway, prov *fakeProvider, nt *fakeNotifier) *Worker {
	w := &Worker{
		Store:        st,
		Settings:     settings.Loader{Store: emptyConfig{}},
		Provider:     prov,
		Notify:       nt,
		Log:          zap.NewNop(),
		ExpireBatch:  100,
		VerifyBatch:  50,
		DeliverBatch: 25,
	}
	if gw != nil {
		w.Gateway = gw
	}
	return w
}

func order(id int64, paymentID string) *models.Order {
	return &models.Order{
		ID:              id,
		UserID:          1000 + id,
		RecipientHandle: "rcpt",
		Product:         models.ProductCredits,
		Qty:             100,
		PaymentID:       paymentID,
		PayStatus:       models.PayPending,
		DeliveryStatus:  models.DeliveryPending,
	}
}

func TestTickIntervalFloor(t *testing.T) {
	w := newTestWorker(&fakeStore{}, nil, &fakeProvider{}, &fakeNotifier{})
	got := w.Tick(context.Background())
	require.Equal(t, 10*time.Second, got)

	short := &Worker{
		Store:    &fakeStore{},
		Settings: settings.Loader{Store: intervalConfig{"1"}},
		Provider: &fakeProvider{},
		Notify:   &fakeNotifier{},
		Log:      zap.NewNop(),
	}
	require.Equal(t, minInterval, short.Tick(context.Background()))
}

type intervalConfig struct{ interval string }

func (c intervalConfig) GetConfig(_ context.Context, key string) (string, error) {
	if key == settings.KeyCheckInterval {
		return c.interval, nil
	}
	return "", store.ErrNotFound
}

func TestVerifyTransitions(t *testing.T) {
	st := &fakeStore{withGateway: []*models.Order{
		order(1, "pay-paid"),
		order(2, "pay-pending"),
		order(3, "pay-cancelled"),
		order(4, "pay-failed"),
	}}
	gw := &fakeGateway{statuses: map[string]gateway.Status{
		"pay-paid":      gateway.StatusPaid,
		"pay-pending":   gateway.StatusPending,
		"pay-cancelled": gateway.StatusCancelled,
		"pay-failed":    gateway.StatusFailed,
	}}
	w := newTestWorker(st, gw, &fakeProvider{}, &fakeNotifier{})

	w.Tick(context.Background())

	require.Equal(t, []payUpdate{
		{id: 1, status: models.PayPaid},
		{id: 3, status: models.PayCancelled},
		{id: 4, status: models.PayFailed},
	}, st.payUpdates)
}

func TestVerifySkippedWithoutGateway(t *testing.T) {
	st := &fakeStore{withGateway: []*models.Order{order(1, "pay-1")}}
	w := newTestWorker(st, nil, &fakeProvider{}, &fakeNotifier{})

	w.Tick(context.Background())
	require.Empty(t, st.payUpdates)
}

func TestDeliverSuccessNotifies(t *testing.T) {
	st := &fakeStore{needDelivery: []*models.Order{order(7, "pay-7")}}
	prov := &fakeProvider{tx: "tx-777"}
	nt := &fakeNotifier{}
	w := newTestWorker(st, nil, prov, nt)

	w.Tick(context.Background())

	require.Len(t, st.deliveryUpdates, 1)
	upd := st.deliveryUpdates[0]
	require.Equal(t, int64(7), upd.id)
	require.Equal(t, models.DeliverySuccess, upd.status)
	require.NotNil(t, upd.tx)
	require.Equal(t, "tx-777", *upd.tx)
	require.Len(t, nt.sent[1007], 1)
}

func TestDeliverTransientFailureLeavesOrderUntouched(t *testing.T) {
	o := order(8, "pay-8")
	st := &fakeStore{needDelivery: []*models.Order{o}}
	prov := &fakeProvider{err: errors.New("connection reset")}
	nt := &fakeNotifier{}
	w := newTestWorker(st, nil, prov, nt)

	w.Tick(context.Background())

	// transport errors say nothing about the order: no state write, no
	// buyer-facing message
	require.Empty(t, st.deliveryUpdates)
	require.Empty(t, nt.sent)

	// the order stays in the retry set, a later tick attempts it again
	w.Tick(context.Background())
	require.Len(t, prov.calls, 2)
}

func TestDeliverNotReadyLeavesOrderPending(t *testing.T) {
	st := &fakeStore{needDelivery: []*models.Order{order(11, "pay-11")}}
	prov := &fakeProvider{err: provider.ErrNotReady}
	nt := &fakeNotifier{}
	w := newTestWorker(st, nil, prov, nt)

	w.Tick(context.Background())

	require.Empty(t, st.deliveryUpdates)
	require.Empty(t, nt.sent)
}

type gatedProvider struct {
	fakeProvider
	enabled bool
}

func (g *gatedProvider) Enabled() bool { return g.enabled }

func TestDeliverSkippedWhileProviderDisabled(t *testing.T) {
	st := &fakeStore{needDelivery: []*models.Order{order(12, "pay-12")}}
	prov := &gatedProvider{}
	w := newTestWorker(st, nil, nil, &fakeNotifier{})
	w.Provider = prov

	w.Tick(context.Background())
	require.Empty(t, prov.calls)
	require.Empty(t, st.deliveryUpdates)

	prov.enabled = true
	prov.tx = "tx-12"
	w.Tick(context.Background())
	require.Len(t, prov.calls, 1)
}

func TestDeliverTerminalFailureRecorded(t *testing.T) {
	o := order(10, "pay-10")
	st := &fakeStore{needDelivery: []*models.Order{o}}
	prov := &fakeProvider{err: provider.ErrBadParams}
	w := newTestWorker(st, nil, prov, &fakeNotifier{})

	w.Tick(context.Background())

	require.Len(t, st.deliveryUpdates, 1)
	upd := st.deliveryUpdates[0]
	require.Equal(t, models.DeliveryFailed, upd.status)
	require.Nil(t, upd.tx)
	require.NotNil(t, upd.errMsg)
	require.Equal(t, provider.ErrBadParams.Error(), *upd.errMsg)
}

func TestDeliverTerminalFailureNotifiesOnce(t *testing.T) {
	o := order(9, "pay-9")
	st := &fakeStore{needDelivery: []*models.Order{o}}
	prov := &fakeProvider{err: provider.ErrNotFound}
	nt := &fakeNotifier{}
	w := newTestWorker(st, nil, prov, nt)

	w.Tick(context.Background())
	require.Len(t, nt.sent[1009], 1)

	// same recorded error suppresses the repeat notification
	msg := provider.ErrNotFound.Error()
	o.DeliveryError = &msg
	w.Tick(context.Background())
	require.Len(t, nt.sent[1009], 1)
}

func TestPhasesIsolated(t *testing.T) {
	st := &fakeStore{
		expireErr:    errors.New("expire broke"),
		needDelivery: []*models.Order{order(5, "pay-5")},
	}
	prov := &fakeProvider{tx: "tx-5"}
	w := newTestWorker(st, nil, prov, &fakeNotifier{})

	w.Tick(context.Background())
	require.Len(t, st.deliveryUpdates, 1)
}
