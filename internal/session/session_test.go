package session

import (
	"testing"
	"time"

	"giftrelay/internal/models"

	"github.com/stretchr/testify/require"
)

func TestStartAndGet(t *testing.T) {
	st := NewStore()
	require.Nil(t, st.Get(1))

	sess := st.Start(1)
	require.Equal(t, StateChoosingProduct, sess.State)

	got := st.Get(1)
	require.NotNil(t, got)
	require.Equal(t, int64(1), got.UserID)
}

func TestUpdateAdvancesState(t *testing.T) {
	st := NewStore()
	st.Start(2)

	sess := st.Update(2, func(s *Session) {
		s.Product = models.ProductCredits
		s.State = StateAwaitingQuantity
	})
	require.Equal(t, StateAwaitingQuantity, sess.State)
	require.Equal(t, models.ProductCredits, st.Get(2).Product)
}

func TestUpdateUnknownUser(t *testing.T) {
	st := NewStore()
	require.Nil(t, st.Update(3, func(s *Session) { s.Qty = 1 }))
}

func TestGetReturnsCopy(t *testing.T) {
	st := NewStore()
	st.Start(4)

	got := st.Get(4)
	got.Qty = 500
	require.Zero(t, st.Get(4).Qty)
}

func TestEnd(t *testing.T) {
	st := NewStore()
	st.Start(5)
	st.End(5)
	require.Nil(t, st.Get(5))
}

func TestStaleSessionDropped(t *testing.T) {
	st := NewStore()
	st.Start(6)
	st.sessions[6].UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.Nil(t, st.Get(6))
}

func TestStartResetsDialog(t *testing.T) {
	st := NewStore()
	st.Start(7)
	st.Update(7, func(s *Session) {
		s.State = StateAwaitingPayment
		s.OrderID = 99
	})

	sess := st.Start(7)
	require.Equal(t, StateChoosingProduct, sess.State)
	require.Zero(t, sess.OrderID)
}
