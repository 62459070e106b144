package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "create", r.URL.Query().Get("method"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "19507", r.FormValue("amount"))
		require.Equal(t, "secret", r.FormValue("api_key"))
		fmt.Fprint(w, `{"data":{"payment_id":"pay-123"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	pid, err := c.Create(context.Background(), 19507)
	require.NoError(t, err)
	require.Equal(t, "pay-123", pid)
}

func TestCreateMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Create(context.Background(), 100)
	require.ErrorIs(t, err, ErrBadResponse)
}

func TestCheckStatusVocabulary(t *testing.T) {
	cases := map[string]Status{
		"paid":       StatusPaid,
		"success":    StatusPaid,
		"ok":         StatusPaid,
		"done":       StatusPaid,
		"cancelled":  StatusCancelled,
		"canceled":   StatusCancelled,
		"failed":     StatusFailed,
		"error":      StatusFailed,
		"pending":    StatusPending,
		"wait":       StatusPending,
		"processing": StatusPending,
		"who-knows":  StatusPending,
	}
	for raw, want := range cases {
		require.Equal(t, want, normalize(raw), raw)
	}
}

func TestCheckPaidWithTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "check", r.URL.Query().Get("method"))
		require.Equal(t, "pay-123", r.URL.Query().Get("payment_id"))
		fmt.Fprint(w, `{"data":{"status":"success","date":"2026-08-28T10:00:00Z"}}`)
	}))
	defer srv.Close()

	status, paidAt, err := New(srv.URL, "").Check(context.Background(), "pay-123")
	require.NoError(t, err)
	require.Equal(t, StatusPaid, status)
	require.NotNil(t, paidAt)
	require.Equal(t, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC), paidAt.UTC())
}

func TestCheckServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, _, err := New(srv.URL, "").Check(context.Background(), "pay-123")
	require.Error(t, err)
}
