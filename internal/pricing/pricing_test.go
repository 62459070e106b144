package pricing

import (
	"context"
	"testing"

	"giftrelay/internal/models"
	"giftrelay/internal/settings"

	"github.com/stretchr/testify/require"
)

func testSettings() settings.Settings {
	return settings.Settings{
		Rate:      195,
		Fee:       0,
		Premium3M: 200000,
		Premium6M: 350000,
		RandMin:   1,
		RandMax:   99,
	}
}

func TestPriceCredits(t *testing.T) {
	s := testSettings()
	got, err := Price(models.ProductCredits, 100, s)
	require.NoError(t, err)
	require.Equal(t, int64(19500), got)

	s.Fee = 500
	got, err = Price(models.ProductCredits, 100, s)
	require.NoError(t, err)
	require.Equal(t, int64(20000), got)
}

func TestPriceSubscription(t *testing.T) {
	s := testSettings()
	got, err := Price(models.ProductSubscription, 3, s)
	require.NoError(t, err)
	require.Equal(t, int64(200000), got)

	_, err = Price(models.ProductSubscription, 12, s)
	require.ErrorIs(t, err, ErrUnpricedDuration)
}

func TestPriceUnknownProduct(t *testing.T) {
	_, err := Price(models.Product("stickers"), 10, testSettings())
	require.ErrorIs(t, err, ErrUnsupportedProduct)
}

type fakeChecker struct {
	used  map[int64]bool
	calls int
}

func (f *fakeChecker) AmountInUse(_ context.Context, amount int64) (bool, error) {
	f.calls++
	return f.used[amount], nil
}

func TestAllocateWithinBounds(t *testing.T) {
	checker := &fakeChecker{}
	a := Allocator{Store: checker}
	s := testSettings()

	alloc, err := a.Allocate(context.Background(), 19500, s)
	require.NoError(t, err)
	require.False(t, alloc.CollisionUnresolved)
	require.GreaterOrEqual(t, alloc.Delta, s.RandMin)
	require.LessOrEqual(t, alloc.Delta, s.RandMax)
	require.Equal(t, 19500+alloc.Delta, alloc.PayAmount)
	require.Equal(t, 1, checker.calls)
}

func TestAllocateSkipsCollisions(t *testing.T) {
	checker := &fakeChecker{used: map[int64]bool{19501: true, 19502: true}}
	seq := []int{0, 1, 2}
	i := 0
	a := Allocator{Store: checker, Intn: func(n int) int {
		v := seq[i%len(seq)]
		i++
		return v
	}}

	alloc, err := a.Allocate(context.Background(), 19500, testSettings())
	require.NoError(t, err)
	require.False(t, alloc.CollisionUnresolved)
	require.Equal(t, int64(3), alloc.Delta)
	require.Equal(t, int64(19503), alloc.PayAmount)
	require.Equal(t, 3, checker.calls)
}

func TestAllocateTerminatesWhenAllCollide(t *testing.T) {
	checker := &fakeChecker{used: map[int64]bool{}}
	s := testSettings()
	for d := s.RandMin; d <= s.RandMax; d++ {
		checker.used[19500+d] = true
	}
	a := Allocator{Store: checker}

	alloc, err := a.Allocate(context.Background(), 19500, s)
	require.NoError(t, err)
	require.True(t, alloc.CollisionUnresolved)
	require.GreaterOrEqual(t, alloc.Delta, s.RandMin)
	require.LessOrEqual(t, alloc.Delta, s.RandMax)
	require.Equal(t, MaxAttempts, checker.calls)
}

func TestAllocateDegenerateRange(t *testing.T) {
	checker := &fakeChecker{}
	a := Allocator{Store: checker}
	s := testSettings()
	s.RandMin, s.RandMax = 7, 7

	alloc, err := a.Allocate(context.Background(), 1000, s)
	require.NoError(t, err)
	require.Equal(t, int64(7), alloc.Delta)
	require.Equal(t, int64(1007), alloc.PayAmount)
}
