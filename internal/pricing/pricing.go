package pricing

import (
	"context"
	"errors"
	"math/rand"

	"giftrelay/internal/models"
	"giftrelay/internal/settings"
)

var (
	ErrUnsupportedProduct = errors.New("unsupported product")
	ErrUnpricedDuration   = errors.New("duration has no configured price")
)

// Price computes the pre-randomization amount for an order. Credits are
// priced per unit plus a fixed fee; subscription durations carry their own
// configured price.
func Price(product models.Product, qty int64, s settings.Settings) (int64, error) {
	switch product {
	case models.ProductCredits:
		return qty*s.Rate + s.Fee, nil
	case models.ProductSubscription:
		price := s.PremiumPrice(qty)
		if price <= 0 {
			return 0, ErrUnpricedDuration
		}
		return price, nil
	}
	return 0, ErrUnsupportedProduct
}

// MaxAttempts bounds the allocator's collision search. With fewer live
// amounts than the random range the search succeeds with probability
// approaching 1 well before the bound.
const MaxAttempts = 60

type amountChecker interface {
	AmountInUse(ctx context.Context, payAmount int64) (bool, error)
}

// Allocator computes a per-order payable amount: base price plus a random
// delta inside the configured bounds. The delta is the only signal that
// attributes an amount-only bank transfer to one order, so candidates
// colliding with a live pending order are rejected and resampled.
type Allocator struct {
	Store amountChecker

	// rand source override for tests; nil means math/rand global.
	Intn func(n int) int
}

type Allocation struct {
	PayAmount int64
	Delta     int64
	// CollisionUnresolved is set when every sampled candidate collided and
	// the last one was returned anyway. Known limitation: two live orders
	// may then share an amount.
	CollisionUnresolved bool
}

func (a Allocator) Allocate(ctx context.Context, base int64, s settings.Settings) (Allocation, error) {
	rmin, rmax := s.RandMin, s.RandMax
	if rmin > rmax {
		rmin, rmax = rmax, rmin
	}
	span := int(rmax - rmin + 1)

	var delta int64
	for i := 0; i < MaxAttempts; i++ {
		delta = rmin + int64(a.intn(span))
		used, err := a.Store.AmountInUse(ctx, base+delta)
		if err != nil {
			return Allocation{}, err
		}
		if !used {
			return Allocation{PayAmount: base + delta, Delta: delta}, nil
		}
	}
	delta = rmin + int64(a.intn(span))
	return Allocation{PayAmount: base + delta, Delta: delta, CollisionUnresolved: true}, nil
}

func (a Allocator) intn(n int) int {
	if n <= 1 {
		return 0
	}
	if a.Intn != nil {
		return a.Intn(n)
	}
	return rand.Intn(n)
}
