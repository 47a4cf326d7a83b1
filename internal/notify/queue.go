package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ClementSutjiatma/niche/internal/escrow"
)

var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "niche_notifications_total",
		Help: "Escrow event notifications, labeled by event and delivery result",
	}, []string{"event", "result"})

	notificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "niche_notifications_dropped_total",
		Help: "Notifications dropped because the queue was full",
	})
)

const (
	defaultQueueCapacity  = 1024
	defaultDeliveryWindow = 10 * time.Second
)

// Sink delivers one payload. Errors are logged by the queue, never returned
// to the producer.
type Sink func(ctx context.Context, p Payload) error

// Queue is a bounded asynchronous notifier. Enqueueing never blocks; when the
// buffer is full the event is dropped and counted, since notifications must
// not back-pressure transitions.
type Queue struct {
	events chan Payload
	sink   Sink
	nowFn  func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewQueue builds a queue draining into sink. capacity <= 0 selects the
// default.
func NewQueue(sink Sink, capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Queue{
		events:  make(chan Payload, capacity),
		sink:    sink,
		nowFn:   time.Now,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the delivery worker. Safe to call once.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		go q.run()
	})
}

// Close stops the worker after draining whatever is already queued.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		close(q.done)
	})
	<-q.stopped
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		select {
		case p := <-q.events:
			q.deliver(p)
		case <-q.done:
			for {
				select {
				case p := <-q.events:
					q.deliver(p)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(p Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDeliveryWindow)
	defer cancel()
	if err := q.sink(ctx, p); err != nil {
		notificationsTotal.WithLabelValues(string(p.Event), "error").Inc()
		log.Printf("notify: delivery of %s for escrow %s failed: %v", p.Event, p.EscrowID, err)
		return
	}
	notificationsTotal.WithLabelValues(string(p.Event), "ok").Inc()
}

// EscrowEvent implements Notifier.
func (q *Queue) EscrowEvent(e *escrow.Escrow, ev Event) {
	if e == nil {
		return
	}
	p := Payload{
		Event:      ev,
		EscrowID:   e.ID,
		ListingID:  e.ListingID,
		BuyerID:    e.BuyerID,
		SellerID:   e.SellerID,
		Status:     string(e.Status),
		TotalPrice: e.TotalPrice,
		OccurredAt: q.nowFn(),
	}
	select {
	case q.events <- p:
	default:
		notificationsDropped.Inc()
		log.Printf("notify: queue full, dropping %s for escrow %s", ev, e.ID)
	}
}

// WebhookSink posts payloads as JSON to url.
func WebhookSink(url string) Sink {
	client := &http.Client{Timeout: defaultDeliveryWindow}
	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil
	}
}

// LogSink writes events to the process log. Default when no webhook URL is
// configured.
func LogSink() Sink {
	return func(_ context.Context, p Payload) error {
		log.Printf("notify: %s escrow=%s status=%s", p.Event, p.EscrowID, p.Status)
		return nil
	}
}
