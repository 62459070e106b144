package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"giftrelay/internal/wallet"
)

var ErrRejected = errors.New("broadcast rejected")

// Client talks to the chain HTTP endpoint used to broadcast signed transfer
// messages and read account balances. Calls carry a conservative timeout so
// a stalled endpoint fails with a transport error instead of hanging the
// reconciliation loop.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type broadcastResponse struct {
	Result struct {
		Hash string `json:"hash"`
	} `json:"result"`
	Error string `json:"error"`
}

// Broadcast submits a signed message and returns the resulting transaction
// reference.
func (c *Client) Broadcast(ctx context.Context, msg *wallet.SignedMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	var resp broadcastResponse
	if err := c.postJSON(ctx, c.baseURL+"/messages", body, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	if resp.Result.Hash == "" {
		return "", fmt.Errorf("%w: empty tx hash", ErrRejected)
	}
	return resp.Result.Hash, nil
}

type accountResponse struct {
	Result struct {
		Balance string `json:"balance"`
	} `json:"result"`
}

func (c *Client) Balance(ctx context.Context, address string) (string, error) {
	endpoint := c.baseURL + "/accounts/" + url.PathEscape(address)
	var resp accountResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return "", err
	}
	return resp.Result.Balance, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("chain http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("chain http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
