// Package notify delivers escrow event notifications to an external
// collaborator. Delivery is fire-and-forget: failures are logged and counted,
// never surfaced to the transition that produced the event.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/ClementSutjiatma/niche/internal/escrow"
)

// Event names the lifecycle moments worth notifying about.
type Event string

const (
	EventDeposited      Event = "escrow.deposited"
	EventAccepted       Event = "escrow.accepted"
	EventRejected       Event = "escrow.rejected"
	EventCancelled      Event = "escrow.cancelled"
	EventExpired        Event = "escrow.expired"
	EventBuyerConfirmed Event = "escrow.buyer_confirmed"
	EventReleased       Event = "escrow.released"
	EventDisputed       Event = "escrow.disputed"
)

// Payload is the wire form handed to sinks.
type Payload struct {
	Event      Event     `json:"event"`
	EscrowID   uuid.UUID `json:"escrow_id"`
	ListingID  uuid.UUID `json:"listing_id"`
	BuyerID    uuid.UUID `json:"buyer_id"`
	SellerID   uuid.UUID `json:"seller_id"`
	Status     string    `json:"status"`
	TotalPrice int64     `json:"total_price"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier accepts escrow events. Implementations must never block the
// caller beyond a buffered enqueue and must swallow delivery errors.
type Notifier interface {
	EscrowEvent(e *escrow.Escrow, ev Event)
}

// Noop discards all events. Useful default so the executor never needs a nil
// check.
type Noop struct{}

func (Noop) EscrowEvent(*escrow.Escrow, Event) {}
