// Package transfer defines the contract the escrow engine expects from the
// value-transfer collaborator: move an amount from the pooled holding account
// to a party, asynchronously under the hood, idempotent under a supplied key.
// The engine never touches balances directly.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome is the tri-state result of a transfer submission. Pending means
// the transfer was accepted but has not reached finality; callers may treat
// it as submitted for receipt-recording purposes.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePending   Outcome = "pending"
	OutcomeFailed    Outcome = "failed"
)

// Receipt is the opaque proof that a specific transfer was submitted.
type Receipt struct {
	Ref         string    `json:"ref"`
	Outcome     Outcome   `json:"outcome"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Request describes one movement out of the holding account. Recipient is an
// opaque party identity; the custody service resolves it to an address
// server-side so clients can never redirect funds.
type Request struct {
	FromAccount    string `json:"from_account"`
	Recipient      string `json:"recipient"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Client submits transfers. Implementations must honor the idempotency key:
// retrying a request with the same key must not move funds twice.
type Client interface {
	Transfer(ctx context.Context, req Request) (*Receipt, error)
}

// ErrTimeout means the transfer's status is unknown. Callers must not treat
// this as a failure: no auto-refund, no auto-progress, retry with the same
// idempotency key or reconcile out of band.
var ErrTimeout = errors.New("transfer status unknown: request timed out")

// FailedError is a definitive rejection from the custody service. Safe to
// retry for release-class transitions; refund-class transitions must not
// commit when they see it.
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("transfer failed: %s", e.Reason)
}
