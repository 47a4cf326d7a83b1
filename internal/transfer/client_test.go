package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "release-e1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(100000), req.Amount)

		json.NewEncoder(w).Encode(transferResponse{
			Ref:         "cust-001",
			Outcome:     OutcomeSucceeded,
			SubmittedAt: time.Now().UTC(),
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", time.Second)
	receipt, err := c.Transfer(context.Background(), Request{
		FromAccount:    "holding",
		Recipient:      "seller-1",
		Amount:         100000,
		IdempotencyKey: "release-e1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cust-001", receipt.Ref)
	assert.Equal(t, OutcomeSucceeded, receipt.Outcome)
}

func TestHTTPClientFailedOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(transferResponse{
			Outcome: OutcomeFailed,
			Error:   "account frozen",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.Transfer(context.Background(), Request{Amount: 1, IdempotencyKey: "k"})
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Reason, "frozen")
}

func TestHTTPClientTimeoutIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 20*time.Millisecond)
	_, err := c.Transfer(context.Background(), Request{Amount: 1, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestHTTPClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.Transfer(context.Background(), Request{Amount: 1, IdempotencyKey: "k"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}
