package escrow

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an escrow.
type Status string

const (
	StatusDeposited      Status = "deposited"
	StatusAccepted       Status = "accepted"
	StatusBuyerConfirmed Status = "buyer_confirmed"
	StatusReleased       Status = "released"
	StatusDisputed       Status = "disputed"
	StatusCancelled      Status = "cancelled"
	StatusRejected       Status = "rejected"
	StatusExpired        Status = "expired"
)

// Valid reports whether the status is one of the defined lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDeposited, StatusAccepted, StatusBuyerConfirmed, StatusReleased,
		StatusDisputed, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// InFlight reports whether the escrow still holds funds pending an outcome.
func (s Status) InFlight() bool {
	switch s {
	case StatusDeposited, StatusAccepted, StatusBuyerConfirmed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are permitted. Disputed is
// terminal here; resolution is a manual, administrative concern.
func (s Status) Terminal() bool {
	return s.Valid() && !s.InFlight()
}

// Role identifies which party is acting on an escrow.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleSystem Role = "system"
)

// SellerActionWindow is how long the seller has to accept or reject a fresh
// deposit before it expires and the buyer is refunded.
const SellerActionWindow = 48 * time.Hour

// Escrow is the holding contract between one buyer and one seller for one
// listing. Amounts are in the smallest currency unit. RemainingAmount is
// fixed at creation and never recomputed.
type Escrow struct {
	ID        uuid.UUID `json:"id"`
	ListingID uuid.UUID `json:"listing_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	SellerID  uuid.UUID `json:"seller_id"`

	DepositAmount   int64 `json:"deposit_amount"`
	TotalPrice      int64 `json:"total_price"`
	RemainingAmount int64 `json:"remaining_amount"`

	Status          Status `json:"status"`
	BuyerConfirmed  bool   `json:"buyer_confirmed"`
	SellerConfirmed bool   `json:"seller_confirmed"`

	// Opaque transfer receipt references. ReleaseRef also records the refund
	// receipt for cancelled, rejected and expired escrows, since both move
	// funds out of the holding account.
	DepositRef          string `json:"deposit_ref,omitempty"`
	RemainingPaymentRef string `json:"remaining_payment_ref,omitempty"`
	ReleaseRef          string `json:"release_ref,omitempty"`

	ExpiresAt                   time.Time  `json:"expires_at"`
	CreatedAt                   time.Time  `json:"created_at"`
	AcceptedAt                  *time.Time `json:"accepted_at,omitempty"`
	RemainingPaymentConfirmedAt *time.Time `json:"remaining_payment_confirmed_at,omitempty"`
	ConfirmedAt                 *time.Time `json:"confirmed_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate freely without affecting
// the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.AcceptedAt = cloneTime(e.AcceptedAt)
	clone.RemainingPaymentConfirmedAt = cloneTime(e.RemainingPaymentConfirmedAt)
	clone.ConfirmedAt = cloneTime(e.ConfirmedAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// RoleOf resolves the caller's role on this escrow. The second return is
// false for callers that are neither buyer nor seller.
func (e *Escrow) RoleOf(userID uuid.UUID) (Role, bool) {
	switch userID {
	case e.BuyerID:
		return RoleBuyer, true
	case e.SellerID:
		return RoleSeller, true
	default:
		return "", false
	}
}

// DepositLapsed reports whether the seller action window has passed without
// the seller acting. Only deposited escrows carry a live deadline.
func (e *Escrow) DepositLapsed(now time.Time) bool {
	return e.Status == StatusDeposited && !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
