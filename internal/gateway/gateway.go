package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Status is the normalized payment state reported by the external gateway.
type Status string

const (
	StatusPaid      Status = "paid"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

var ErrBadResponse = errors.New("gateway bad response")

// Client polls an optional external payment-status gateway. When no gateway
// is configured the reconciliation loop skips the verify phase entirely.
type Client struct {
	http   *resty.Client
	apiKey string
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second),
		apiKey: apiKey,
	}
}

type createResponse struct {
	PaymentID string `json:"payment_id"`
	Data      struct {
		PaymentID string `json:"payment_id"`
	} `json:"data"`
}

func (c *Client) Create(ctx context.Context, amount int64) (string, error) {
	data := map[string]string{"amount": strconv.FormatInt(amount, 10)}
	if c.apiKey != "" {
		data["api_key"] = c.apiKey
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("method", "create").
		SetFormData(data).
		Post("")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("gateway create status: %d", resp.StatusCode())
	}
	var out createResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	pid := out.PaymentID
	if pid == "" {
		pid = out.Data.PaymentID
	}
	if pid == "" {
		return "", fmt.Errorf("%w: missing payment_id", ErrBadResponse)
	}
	return pid, nil
}

type checkResponse struct {
	Status    string `json:"status"`
	PayStatus string `json:"pay_status"`
	Data      struct {
		Status string `json:"status"`
		Date   string `json:"date"`
		PaidAt string `json:"paid_at"`
	} `json:"data"`
}

// Check maps the gateway's status vocabulary onto the four normalized
// states. Unknown values read as pending so the order is left untouched.
func (c *Client) Check(ctx context.Context, paymentID string) (Status, *time.Time, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("method", "check").
		SetQueryParam("payment_id", paymentID)
	if c.apiKey != "" {
		req.SetQueryParam("api_key", c.apiKey)
	}
	resp, err := req.Get("")
	if err != nil {
		return "", nil, err
	}
	if resp.IsError() {
		return "", nil, fmt.Errorf("gateway check status: %d", resp.StatusCode())
	}
	var out checkResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	raw := out.Data.Status
	if raw == "" {
		raw = out.Status
	}
	if raw == "" {
		raw = out.PayStatus
	}

	var paidAt *time.Time
	if ts := firstNonEmpty(out.Data.Date, out.Data.PaidAt); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			paidAt = &t
		}
	}
	return normalize(raw), paidAt, nil
}

func normalize(raw string) Status {
	switch raw {
	case "paid", "success", "ok", "done":
		return StatusPaid
	case "cancelled", "canceled":
		return StatusCancelled
	case "failed", "error":
		return StatusFailed
	case "pending", "wait", "created", "processing":
		return StatusPending
	}
	return StatusPending
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
