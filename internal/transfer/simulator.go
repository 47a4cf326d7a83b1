package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator is an in-process custody service for development and tests. It
// honors idempotency keys: repeating a key returns the original receipt
// without moving funds again.
type Simulator struct {
	mu       sync.Mutex
	seq      int
	receipts map[string]*Receipt
	nowFn    func() time.Time

	// FailWith, when set, makes every new submission fail with the given
	// reason. Replays of already-submitted keys still succeed.
	FailWith string
}

func NewSimulator() *Simulator {
	return &Simulator{
		receipts: make(map[string]*Receipt),
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the receipt clock, for deterministic tests.
func (s *Simulator) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

func (s *Simulator) Transfer(_ context.Context, req Request) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.IdempotencyKey == "" {
		return nil, &FailedError{Reason: "idempotency key required"}
	}
	if req.Amount <= 0 {
		return nil, &FailedError{Reason: "amount must be positive"}
	}
	if prior, ok := s.receipts[req.IdempotencyKey]; ok {
		copied := *prior
		return &copied, nil
	}
	if s.FailWith != "" {
		return nil, &FailedError{Reason: s.FailWith}
	}
	s.seq++
	receipt := &Receipt{
		Ref:         fmt.Sprintf("sim-%06d", s.seq),
		Outcome:     OutcomeSucceeded,
		SubmittedAt: s.nowFn(),
	}
	s.receipts[req.IdempotencyKey] = receipt
	copied := *receipt
	return &copied, nil
}

// Submissions reports how many distinct transfers have been executed.
func (s *Simulator) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}
