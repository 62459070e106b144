package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"giftrelay/internal/store"
)

// Keys of the runtime-tunable config entries. Seeded at startup, mutable
// through the admin config endpoint, read on every reconciliation tick.
const (
	KeyRate          = "RATE"
	KeyFee           = "FIXED_FEE"
	KeyPacks         = "PACKS"
	KeyPremium3M     = "PREMIUM_3M"
	KeyPremium6M     = "PREMIUM_6M"
	KeyPremium12M    = "PREMIUM_12M"
	KeyRandMin       = "RAND_MIN"
	KeyRandMax       = "RAND_MAX"
	KeyTTLMinutes    = "ORDER_TTL_MINUTES"
	KeyCheckInterval = "CHECK_INTERVAL_SEC"
	KeyPayCard       = "PAY_CARD"
	KeyPayName       = "PAY_NAME"
	KeyBotEnabled    = "BOT_ENABLED"
	KeySalesEnabled  = "SALES_ENABLED"
)

type Settings struct {
	Rate          int64
	Fee           int64
	Packs         []int64
	Premium3M     int64
	Premium6M     int64
	Premium12M    int64
	RandMin       int64
	RandMax       int64
	TTLMinutes    int
	CheckInterval int64
	PayCard       string
	PayName       string
	BotEnabled    bool
	SalesEnabled  bool
}

// PremiumPrice returns the configured price for a subscription duration,
// or 0 when that duration is not for sale.
func (s Settings) PremiumPrice(months int64) int64 {
	switch months {
	case 3:
		return s.Premium3M
	case 6:
		return s.Premium6M
	case 12:
		return s.Premium12M
	}
	return 0
}

type configReader interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

type Loader struct {
	Store configReader
}

// Load reads the current settings from the config table, falling back to
// baked-in defaults for missing keys and normalizing the random bounds.
func (l Loader) Load(ctx context.Context) (Settings, error) {
	s := Settings{}
	var err error
	if s.Rate, err = l.getInt(ctx, KeyRate, 195); err != nil {
		return s, err
	}
	if s.Fee, err = l.getInt(ctx, KeyFee, 0); err != nil {
		return s, err
	}
	if s.Premium3M, err = l.getInt(ctx, KeyPremium3M, 0); err != nil {
		return s, err
	}
	if s.Premium6M, err = l.getInt(ctx, KeyPremium6M, 0); err != nil {
		return s, err
	}
	if s.Premium12M, err = l.getInt(ctx, KeyPremium12M, 0); err != nil {
		return s, err
	}
	if s.RandMin, err = l.getInt(ctx, KeyRandMin, 1); err != nil {
		return s, err
	}
	if s.RandMax, err = l.getInt(ctx, KeyRandMax, 99); err != nil {
		return s, err
	}
	ttl, err := l.getInt(ctx, KeyTTLMinutes, 30)
	if err != nil {
		return s, err
	}
	s.TTLMinutes = int(ttl)
	if s.CheckInterval, err = l.getInt(ctx, KeyCheckInterval, 10); err != nil {
		return s, err
	}
	if s.PayCard, err = l.getString(ctx, KeyPayCard, ""); err != nil {
		return s, err
	}
	if s.PayName, err = l.getString(ctx, KeyPayName, ""); err != nil {
		return s, err
	}
	botOn, err := l.getInt(ctx, KeyBotEnabled, 1)
	if err != nil {
		return s, err
	}
	s.BotEnabled = botOn == 1
	salesOn, err := l.getInt(ctx, KeySalesEnabled, 1)
	if err != nil {
		return s, err
	}
	s.SalesEnabled = salesOn == 1

	packs, err := l.getString(ctx, KeyPacks, "50,100,500,1000")
	if err != nil {
		return s, err
	}
	s.Packs = ParseIntList(packs)

	if s.RandMin > s.RandMax {
		s.RandMin, s.RandMax = s.RandMax, s.RandMin
	}
	return s, nil
}

func (l Loader) getString(ctx context.Context, key, fallback string) (string, error) {
	v, err := l.Store.GetConfig(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

func (l Loader) getInt(ctx context.Context, key string, fallback int64) (int64, error) {
	v, err := l.getString(ctx, key, "")
	if err != nil {
		return 0, err
	}
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

func ParseIntList(v string) []int64 {
	parts := strings.Split(v, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Defaults produces the startup seed for the config table from file/env
// configuration. Existing persisted values win over these.
func Defaults(rate, fee int64, packs []int64, prem3, prem6, prem12, randMin, randMax int64, ttlMinutes int, intervalSec int64, payCard, payName string) map[string]string {
	packStrs := make([]string, 0, len(packs))
	for _, p := range packs {
		packStrs = append(packStrs, strconv.FormatInt(p, 10))
	}
	return map[string]string{
		KeyRate:          strconv.FormatInt(rate, 10),
		KeyFee:           strconv.FormatInt(fee, 10),
		KeyPacks:         strings.Join(packStrs, ","),
		KeyPremium3M:     strconv.FormatInt(prem3, 10),
		KeyPremium6M:     strconv.FormatInt(prem6, 10),
		KeyPremium12M:    strconv.FormatInt(prem12, 10),
		KeyRandMin:       strconv.FormatInt(randMin, 10),
		KeyRandMax:       strconv.FormatInt(randMax, 10),
		KeyTTLMinutes:    strconv.Itoa(ttlMinutes),
		KeyCheckInterval: strconv.FormatInt(intervalSec, 10),
		KeyPayCard:       payCard,
		KeyPayName:       payName,
		KeyBotEnabled:    "1",
		KeySalesEnabled:  "1",
	}
}
