package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"giftrelay/internal/chain"
	"giftrelay/internal/models"
	"giftrelay/internal/wallet"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Classified delivery failures. The worker persists these on the order and
// retries every tick until one attempt succeeds.
var (
	ErrNotReady   = errors.New("provider not ready")
	ErrNotFound   = errors.New("recipient not found")
	ErrBadParams  = errors.New("bad purchase parameters")
	ErrWalletLink = errors.New("wallet link failed")
	ErrTxFailed   = errors.New("transaction failed")
)

const (
	creditsPage      = "/credits/buy"
	subscriptionPage = "/extend/gift"
	apiPath          = "/api"

	// Provider-side chain id, fixed by the wire protocol.
	chainID = "-239"
)

var tokenRe = regexp.MustCompile(`/api\?hash=([a-f0-9]+)`)

type Config struct {
	BaseURL string
	Cookies string
	// Token overrides the scraped per-page signing token when set.
	Token  string
	Device string
}

type txBroadcaster interface {
	Broadcast(ctx context.Context, msg *wallet.SignedMessage) (string, error)
}

// Client drives the unofficial delivery API: a cookie-authenticated web
// session, a per-page signing token scraped from HTML, and an on-chain
// transfer signed with the local wallet. The provider's session model
// allows one logical conversation at a time, so every operation serializes
// through a single lock.
type Client struct {
	cfg    Config
	http   *resty.Client
	wallet *wallet.Wallet
	chain  txBroadcaster
	log    *zap.Logger

	mu      sync.Mutex
	enabled bool
	cookies []*http.Cookie
	tokens  map[string]string
}

func New(cfg Config, w *wallet.Wallet, ch txBroadcaster, log *zap.Logger) *Client {
	if cfg.Device == "" {
		cfg.Device = "iPhone15,2"
	}
	return &Client{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(30 * time.Second),
		wallet: w,
		chain:  ch,
		log:    log,
		tokens: map[string]string{},
	}
}

// Start validates credentials and flips the client into the ready state.
// Missing credentials leave it disabled: every operation then short-circuits
// with ErrNotReady instead of attempting network calls.
func (c *Client) Start() {
	if strings.TrimSpace(c.cfg.Cookies) == "" || !c.wallet.Configured() || c.cfg.BaseURL == "" {
		c.log.Warn("delivery provider disabled: missing cookies, wallet mnemonic or base url")
		return
	}
	c.cookies = parseCookieHeader(c.cfg.Cookies)
	c.enabled = true
	c.log.Info("delivery provider enabled", zap.String("base_url", c.cfg.BaseURL))
}

func (c *Client) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// ValidateRecipient is the read-only existence check run before an order is
// accepted.
func (c *Client) ValidateRecipient(ctx context.Context, handle string, product models.Product, qty int64) error {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return ErrBadParams
	}
	if err := checkQty(product, qty); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return ErrNotReady
	}

	resp, err := c.search(ctx, handle, product, qty)
	if err != nil {
		return err
	}
	if resp.Found == nil || resp.Found.Recipient == "" {
		return ErrNotFound
	}
	return nil
}

// Purchase runs the full delivery flow for one paid order and returns the
// on-chain transaction reference.
func (c *Client) Purchase(ctx context.Context, handle string, product models.Product, qty int64) (string, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return "", ErrBadParams
	}
	if err := checkQty(product, qty); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return "", ErrNotReady
	}

	page := pagePath(product)
	token, err := c.signingToken(ctx, page)
	if err != nil {
		return "", err
	}
	account, err := c.accountInfo()
	if err != nil {
		return "", err
	}

	search, err := c.search(ctx, handle, product, qty)
	if err != nil {
		return "", err
	}
	if search.Found == nil || search.Found.Recipient == "" {
		return "", ErrNotFound
	}
	recipient := search.Found.Recipient

	var init *apiResponse
	switch product {
	case models.ProductSubscription:
		// The provider requires a state refresh before a subscription
		// request; failures here are non-fatal.
		_, _ = c.apiPost(ctx, token, page, map[string]string{
			"method": "updateExtendState",
			"mode":   "new",
			"lv":     "false",
			"dh":     strconv.FormatInt(time.Now().Unix(), 10),
		})
		init, err = c.apiPost(ctx, token, page, map[string]string{
			"method":    "initExtendRequest",
			"recipient": recipient,
			"months":    strconv.FormatInt(qty, 10),
		})
	default:
		init, err = c.apiPost(ctx, token, page, map[string]string{
			"method":    "initBuyCreditsRequest",
			"recipient": recipient,
			"quantity":  strconv.FormatInt(qty, 10),
		})
	}
	if err != nil {
		return "", err
	}
	if init.ReqID == "" {
		return "", fmt.Errorf("%w: init request returned no req_id", ErrTxFailed)
	}

	linkForm := c.descriptorForm(product, init.ReqID, account)
	desc, err := c.apiPost(ctx, token, page, linkForm)
	if err != nil {
		return "", err
	}
	if desc.NeedVerify {
		if err := c.linkWallet(ctx, token, page, account); err != nil {
			return "", err
		}
		desc, err = c.apiPost(ctx, token, page, linkForm)
		if err != nil {
			return "", err
		}
	}

	return c.executeDescriptor(ctx, desc)
}

// descriptorForm builds the transaction-descriptor request. Subscription
// purchases carry a random ref and announce the sender, per the provider
// protocol.
func (c *Client) descriptorForm(product models.Product, reqID, account string) map[string]string {
	form := map[string]string{
		"account":     account,
		"device":      c.cfg.Device,
		"transaction": "1",
		"id":          reqID,
	}
	if product == models.ProductSubscription {
		form["method"] = "getExtendLink"
		form["show_sender"] = "1"
		form["ref"] = randomRef(9)
	} else {
		form["method"] = "getBuyCreditsLink"
		form["show_sender"] = "0"
	}
	return form
}

// linkWallet completes the one-time wallet-linking challenge. The challenge
// may itself demand an on-chain acknowledgement before the provider accepts
// the wallet.
func (c *Client) linkWallet(ctx context.Context, token, page, account string) error {
	resp, err := c.apiPost(ctx, token, page, map[string]string{
		"method":  "linkWallet",
		"account": account,
		"device":  c.cfg.Device,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWalletLink, err)
	}
	if resp.OK {
		return nil
	}
	if resp.Transaction != nil {
		if _, err := c.executeDescriptor(ctx, resp); err != nil {
			return fmt.Errorf("%w: %v", ErrWalletLink, err)
		}
		return nil
	}
	return ErrWalletLink
}

// executeDescriptor signs and broadcasts the first message of a transaction
// descriptor and returns the transaction reference.
func (c *Client) executeDescriptor(ctx context.Context, resp *apiResponse) (string, error) {
	if resp.Transaction == nil || len(resp.Transaction.Messages) == 0 {
		return "", fmt.Errorf("%w: descriptor has no messages", ErrTxFailed)
	}
	msg := resp.Transaction.Messages[0]
	if msg.Address == "" || msg.Amount == "" {
		return "", fmt.Errorf("%w: descriptor missing address or amount", ErrTxFailed)
	}

	signed, err := c.wallet.SignTransfer(wallet.Transfer{
		Destination: msg.Address,
		Amount:      string(msg.Amount),
		Payload:     msg.Payload,
		ValidUntil:  time.Now().Add(5 * time.Minute).Unix(),
	})
	if err != nil {
		return "", err
	}
	tx, err := c.chain.Broadcast(ctx, signed)
	if err != nil {
		if errors.Is(err, chain.ErrRejected) {
			return "", fmt.Errorf("%w: %v", ErrTxFailed, err)
		}
		return "", err
	}
	c.log.Info("descriptor executed",
		zap.String("destination", msg.Address),
		zap.String("amount", string(msg.Amount)),
		zap.String("tx", tx))
	return tx, nil
}

func (c *Client) search(ctx context.Context, handle string, product models.Product, qty int64) (*apiResponse, error) {
	page := pagePath(product)
	token, err := c.signingToken(ctx, page)
	if err != nil {
		return nil, err
	}
	form := map[string]string{"query": handle}
	if product == models.ProductSubscription {
		form["method"] = "searchExtendRecipient"
		form["months"] = strconv.FormatInt(qty, 10)
	} else {
		form["method"] = "searchCreditsRecipient"
		form["quantity"] = strconv.FormatInt(qty, 10)
	}
	return c.apiPost(ctx, token, page, form)
}

// signingToken returns the per-page request-signing token: the configured
// override, a cached value, or one freshly scraped from the page HTML.
func (c *Client) signingToken(ctx context.Context, page string) (string, error) {
	if c.cfg.Token != "" {
		return c.cfg.Token, nil
	}
	if tok, ok := c.tokens[page]; ok {
		return tok, nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetCookies(c.cookies).
		Get(page)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("token page status %d", resp.StatusCode())
	}
	m := tokenRe.FindStringSubmatch(string(resp.Body()))
	if m == nil {
		return "", errors.New("signing token not found in page")
	}
	c.tokens[page] = m[1]
	return m[1], nil
}

type apiResponse struct {
	OK    bool `json:"ok"`
	Found *struct {
		Recipient string `json:"recipient"`
	} `json:"found"`
	ReqID       string `json:"req_id"`
	NeedVerify  bool   `json:"need_verify"`
	Error       string `json:"error"`
	Transaction *struct {
		Messages []struct {
			Address string      `json:"address"`
			Amount  json.Number `json:"amount"`
			Payload string      `json:"payload"`
		} `json:"messages"`
	} `json:"transaction"`
}

func (c *Client) apiPost(ctx context.Context, token, referer string, form map[string]string) (*apiResponse, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json, text/javascript, */*; q=0.01").
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Referer", c.cfg.BaseURL+referer).
		SetCookies(c.cookies).
		SetQueryParam("hash", token).
		SetFormData(form).
		Post(apiPath)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("provider api status %d", resp.StatusCode())
	}
	var out apiResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("provider api decode: %w", err)
	}
	return &out, nil
}

// accountInfo renders the wallet identity blob sent with descriptor and
// link requests.
func (c *Client) accountInfo() (string, error) {
	addr, err := c.wallet.Address()
	if err != nil {
		return "", err
	}
	pub, err := c.wallet.PublicKeyHex()
	if err != nil {
		return "", err
	}
	stateInit, err := c.wallet.StateInit()
	if err != nil {
		return "", err
	}
	account := map[string]string{
		"address":         addr,
		"publicKey":       pub,
		"chain":           chainID,
		"walletStateInit": stateInit,
	}
	b, err := json.Marshal(account)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func pagePath(product models.Product) string {
	if product == models.ProductSubscription {
		return subscriptionPage
	}
	return creditsPage
}

func checkQty(product models.Product, qty int64) error {
	switch product {
	case models.ProductSubscription:
		if qty != 3 && qty != 6 && qty != 12 {
			return ErrBadParams
		}
	default:
		if qty < 50 {
			return ErrBadParams
		}
	}
	return nil
}

var handleRe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// NormalizeHandle strips the @ prefix and any characters the provider
// rejects.
func NormalizeHandle(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.TrimPrefix(t, "@")
	return handleRe.ReplaceAllString(t, "")
}

const refAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomRef(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = refAlphabet[rand.Intn(len(refAlphabet))]
	}
	return string(b)
}

func parseCookieHeader(header string) []*http.Cookie {
	var out []*http.Cookie
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
	}
	return out
}
