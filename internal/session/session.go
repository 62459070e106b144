package session

import (
	"sync"
	"time"

	"giftrelay/internal/models"
)

// State is one step of the purchase wizard.
type State string

const (
	StateChoosingProduct  State = "choosing_product"
	StateAwaitingQuantity State = "awaiting_quantity"
	StateAwaitingHandle   State = "awaiting_recipient"
	StateAwaitingPayment  State = "awaiting_payment_confirmation"
)

// Session is the in-progress purchase dialog for one user. Fields fill in
// as the wizard advances; OrderID is set once the order is created.
type Session struct {
	UserID    int64          `json:"user_id"`
	State     State          `json:"state"`
	Product   models.Product `json:"product,omitempty"`
	Qty       int64          `json:"qty,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
	OrderID   int64          `json:"order_id,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

const ttl = time.Hour

// Store keeps wizard sessions in memory. Sessions are disposable dialog
// state; losing them on restart only restarts the dialog, never an order.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewStore() *Store {
	return &Store{sessions: map[int64]*Session{}}
}

// Get returns the user's live session, or nil if none exists or it has
// gone stale.
func (s *Store) Get(userID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil
	}
	if time.Since(sess.UpdatedAt) > ttl {
		delete(s.sessions, userID)
		return nil
	}
	copied := *sess
	return &copied
}

// Start resets the user's dialog to the first step.
func (s *Store) Start(userID int64) *Session {
	sess := &Session{
		UserID:    userID,
		State:     StateChoosingProduct,
		UpdatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.sessions[userID] = sess
	s.mu.Unlock()
	copied := *sess
	return &copied
}

// Update applies fn to the user's session under the lock.
func (s *Store) Update(userID int64, fn func(*Session)) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil
	}
	fn(sess)
	sess.UpdatedAt = time.Now().UTC()
	copied := *sess
	return &copied
}

func (s *Store) End(userID int64) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}
