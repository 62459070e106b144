package models

import (
	"strings"
	"time"
)

type Product string

const (
	ProductCredits      Product = "credits"
	ProductSubscription Product = "subscription"
)

type PayStatus string

const (
	PayPending   PayStatus = "pending"
	PayPaid      PayStatus = "paid"
	PayCancelled PayStatus = "cancelled"
	PayFailed    PayStatus = "failed"
	PayExpired   PayStatus = "expired"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Order is one resale transaction: a buyer pays a randomized unique amount
// by bank transfer and the worker delivers the product on-chain.
type Order struct {
	ID              int64
	UserID          int64
	BuyerHandle     string
	RecipientHandle string
	Product         Product
	Qty             int64
	BaseAmount      int64
	PayAmount       int64
	RandDelta       int64
	PaymentID       string
	PayStatus       PayStatus
	PayCreatedAt    *time.Time
	PayPaidAt       *time.Time
	DeliveryStatus  DeliveryStatus
	DeliveryTx      *string
	DeliveryError   *string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ManualPaymentPrefix marks orders without an external gateway payment;
// those are confirmed only by observed bank transfers.
const ManualPaymentPrefix = "manual_"

func (o *Order) IsManualPayment() bool {
	return strings.HasPrefix(o.PaymentID, ManualPaymentPrefix)
}

// PaymentEvent is the dedup record for one observed incoming transfer,
// keyed by the chat message that reported it.
type PaymentEvent struct {
	ChatID    int64
	MessageID int64
	Amount    int64
	Raw       string
	OrderID   *int64
	CreatedAt time.Time
}
