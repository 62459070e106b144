package chain

import (
	"context"
	"errors"
	"strings"
	"sync"

	"giftrelay/internal/wallet"
)

var ErrNoEndpoints = errors.New("no chain endpoints configured")

// MultiClient fans requests over several chain endpoints. It sticks to one
// endpoint until it accumulates failThreshold consecutive transport errors,
// then rotates to the next. A broadcast rejection is an answer, not an
// endpoint failure, and never triggers rotation.
type MultiClient struct {
	clients       []*Client
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewMulti(endpoints []string, apiKey string, failThreshold int) *MultiClient {
	if failThreshold <= 0 {
		failThreshold = 3
	}
	list := sanitizeEndpoints(endpoints)
	clients := make([]*Client, 0, len(list))
	for _, ep := range list {
		clients = append(clients, NewClient(ep, apiKey))
	}
	return &MultiClient{clients: clients, failThreshold: failThreshold}
}

func (m *MultiClient) Broadcast(ctx context.Context, msg *wallet.SignedMessage) (string, error) {
	var out string
	err := m.withFailover(func(c *Client) error {
		var err error
		out, err = c.Broadcast(ctx, msg)
		return err
	})
	return out, err
}

func (m *MultiClient) Balance(ctx context.Context, address string) (string, error) {
	var out string
	err := m.withFailover(func(c *Client) error {
		var err error
		out, err = c.Balance(ctx, address)
		return err
	})
	return out, err
}

func (m *MultiClient) withFailover(call func(*Client) error) error {
	if len(m.clients) == 0 {
		return ErrNoEndpoints
	}
	var lastErr error
	for attempts := 0; attempts < len(m.clients); attempts++ {
		client, idx := m.current()
		err := call(client)
		if err == nil {
			m.resetFailures(idx)
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrRejected) {
			m.resetFailures(idx)
			return err
		}
		if m.noteFailure(idx) {
			m.rotate()
		}
	}
	return lastErr
}

func (m *MultiClient) current() (*Client, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index], m.index
}

func (m *MultiClient) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *MultiClient) noteFailure(idx int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index != idx {
		return false
	}
	m.failCount++
	return m.failCount >= m.failThreshold || len(m.clients) > 1
}

func (m *MultiClient) rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = (m.index + 1) % len(m.clients)
	m.failCount = 0
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
