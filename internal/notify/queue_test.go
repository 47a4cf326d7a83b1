package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClementSutjiatma/niche/internal/escrow"
)

func testEscrow() *escrow.Escrow {
	return &escrow.Escrow{
		ID:         uuid.New(),
		ListingID:  uuid.New(),
		BuyerID:    uuid.New(),
		SellerID:   uuid.New(),
		TotalPrice: 100000,
		Status:     escrow.StatusAccepted,
	}
}

func TestQueueDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	q := NewQueue(func(_ context.Context, p Payload) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p.Event)
		return nil
	}, 8)
	q.Start()

	e := testEscrow()
	q.EscrowEvent(e, EventDeposited)
	q.EscrowEvent(e, EventAccepted)
	q.EscrowEvent(e, EventReleased)
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Event{EventDeposited, EventAccepted, EventReleased}, got)
}

func TestQueueDropsWhenFull(t *testing.T) {
	// No worker started, so the buffer never drains.
	delivered := 0
	q := NewQueue(func(_ context.Context, p Payload) error {
		delivered++
		return nil
	}, 2)

	e := testEscrow()
	for i := 0; i < 5; i++ {
		q.EscrowEvent(e, EventDeposited)
	}

	// Drain what was buffered; the overflow was dropped without blocking.
	q.Start()
	q.Close()
	assert.Equal(t, 2, delivered)
}

func TestQueueSurvivesSinkErrors(t *testing.T) {
	calls := 0
	q := NewQueue(func(_ context.Context, p Payload) error {
		calls++
		return assert.AnError
	}, 8)
	q.Start()

	q.EscrowEvent(testEscrow(), EventRejected)
	q.EscrowEvent(testEscrow(), EventCancelled)
	q.Close()

	assert.Equal(t, 2, calls)
}

func TestQueueIgnoresNilEscrow(t *testing.T) {
	q := NewQueue(func(_ context.Context, p Payload) error {
		t.Fatal("nothing should be delivered")
		return nil
	}, 2)
	q.Start()
	q.EscrowEvent(nil, EventDeposited)
	q.Close()
}

func TestWebhookSink(t *testing.T) {
	var mu sync.Mutex
	var received []Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var p Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := WebhookSink(srv.URL)
	e := testEscrow()
	p := Payload{
		Event:      EventReleased,
		EscrowID:   e.ID,
		Status:     string(escrow.StatusReleased),
		TotalPrice: e.TotalPrice,
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, sink(context.Background(), p))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, EventReleased, received[0].Event)
	assert.Equal(t, e.ID, received[0].EscrowID)
}

func TestWebhookSinkRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := WebhookSink(srv.URL)
	err := sink(context.Background(), Payload{Event: EventExpired})
	assert.Error(t, err)
}
