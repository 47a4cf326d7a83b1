package escrow

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ClementSutjiatma/niche/internal/listing"
)

// Action is a typed transition request. The closed set below replaces ad hoc
// per-route field checking: every mutation goes through Decide.
type Action interface {
	Name() string
}

// Accept is the seller taking the deposit and opening the handoff.
type Accept struct{}

// Reject is the seller declining the deposit, refunding the buyer.
type Reject struct{}

// Cancel is the buyer withdrawing before paying the remainder.
type Cancel struct{}

// BuyerConfirm records the buyer's remaining payment. PaymentRef is the
// receipt for the remaining-amount transfer the buyer already made.
type BuyerConfirm struct {
	PaymentRef string
}

// SellerConfirm is the seller confirming handoff, triggering release.
type SellerConfirm struct{}

// Dispute freezes the escrow for manual resolution.
type Dispute struct {
	Reason string
}

// Expire is the system transition for a lapsed seller action window.
type Expire struct{}

func (Accept) Name() string        { return "accept" }
func (Reject) Name() string        { return "reject" }
func (Cancel) Name() string        { return "cancel deposit" }
func (BuyerConfirm) Name() string  { return "confirm payment" }
func (SellerConfirm) Name() string { return "confirm handoff" }
func (Dispute) Name() string       { return "dispute" }
func (Expire) Name() string        { return "expire" }

// Effect describes the fund movement a transition requires before it may
// commit. Buyer-initiated payments carry their own receipts instead.
type Effect int

const (
	EffectNone Effect = iota
	EffectRefundDeposit
	EffectReleaseTotal
)

// Transition is the outcome of a legal Decide call.
type Transition struct {
	To     Status
	Effect Effect
}

// Decide is the pure state machine: given the escrow's current state, the
// acting party's role and an action, it returns the next status and required
// side effect, or a typed error. It never mutates the escrow and performs no
// I/O; expiry is the executor's concern and must be applied before calling.
func Decide(e *Escrow, role Role, act Action) (Transition, error) {
	switch a := act.(type) {
	case Accept:
		if role != RoleSeller {
			return Transition{}, &RoleError{Required: RoleSeller, Action: "accept this deposit"}
		}
		if e.Status != StatusDeposited {
			return Transition{}, &InvalidStateError{Current: e.Status, Action: a.Name()}
		}
		return Transition{To: StatusAccepted}, nil

	case Reject:
		if role != RoleSeller {
			return Transition{}, &RoleError{Required: RoleSeller, Action: "reject this deposit"}
		}
		if e.Status != StatusDeposited {
			return Transition{}, &InvalidStateError{Current: e.Status, Action: a.Name()}
		}
		return Transition{To: StatusRejected, Effect: EffectRefundDeposit}, nil

	case Cancel:
		if role != RoleBuyer {
			return Transition{}, &RoleError{Required: RoleBuyer, Action: "cancel the deposit"}
		}
		// Legal until the buyer has paid the remainder; after that more than
		// the deposit has moved and cancellation is off the table.
		if e.Status != StatusDeposited && e.Status != StatusAccepted {
			return Transition{}, &InvalidStateError{Current: e.Status, Action: a.Name()}
		}
		return Transition{To: StatusCancelled, Effect: EffectRefundDeposit}, nil

	case BuyerConfirm:
		if role != RoleBuyer {
			return Transition{}, &RoleError{Required: RoleBuyer, Action: "confirm payment"}
		}
		if e.Status != StatusAccepted {
			return Transition{}, &InvalidStateError{Current: e.Status, Action: a.Name()}
		}
		if strings.TrimSpace(a.PaymentRef) == "" {
			return Transition{}, &ValidationError{Reason: "remaining payment receipt is required to confirm"}
		}
		return Transition{To: StatusBuyerConfirmed}, nil

	case SellerConfirm:
		if role != RoleSeller {
			return Transition{}, &RoleError{Required: RoleSeller, Action: "confirm handoff"}
		}
		if e.Status != StatusBuyerConfirmed {
			return Transition{}, &InvalidStateError{Current: e.Status, Action: a.Name()}
		}
		return Transition{To: StatusReleased, Effect: EffectReleaseTotal}, nil

	case Dispute:
		if role != RoleBuyer && role != RoleSeller {
			return Transition{}, ErrNotParty
		}
		if !e.Status.InFlight() {
			return Transition{}, &InvalidStateError{Current: e.Status, Action: a.Name()}
		}
		return Transition{To: StatusDisputed}, nil

	case Expire:
		if role != RoleSystem {
			return Transition{}, &RoleError{Required: RoleSystem, Action: "expire the escrow"}
		}
		if e.Status != StatusDeposited {
			return Transition{}, &InvalidStateError{Current: e.Status, Action: a.Name()}
		}
		return Transition{To: StatusExpired, Effect: EffectRefundDeposit}, nil

	default:
		return Transition{}, &ValidationError{Reason: "unknown escrow action"}
	}
}

// NewDeposited validates an open-deposit request against the listing and
// builds the escrow in its initial state. The deposit must already be in the
// holding account; depositRef is the receipt proving it.
func NewDeposited(l *listing.Listing, buyerID uuid.UUID, depositAmount, totalPrice int64, depositRef string, now time.Time) (*Escrow, error) {
	if l == nil {
		return nil, &ValidationError{Reason: "listing not found"}
	}
	if l.Status != listing.StatusActive {
		return nil, &ValidationError{Reason: "listing is not active (current status: " + string(l.Status) + ")"}
	}
	if buyerID == l.SellerID {
		return nil, &ValidationError{Reason: "you cannot deposit on your own listing"}
	}
	if depositAmount <= 0 {
		return nil, &ValidationError{Reason: "deposit amount must be positive"}
	}
	if depositAmount < l.MinDeposit {
		return nil, &ValidationError{Reason: "deposit is below the listing minimum"}
	}
	if depositAmount > totalPrice {
		return nil, &ValidationError{Reason: "deposit cannot exceed the total price"}
	}
	if totalPrice != l.Price {
		return nil, &ValidationError{Reason: "total price does not match the listing"}
	}
	if strings.TrimSpace(depositRef) == "" {
		return nil, &ValidationError{Reason: "deposit receipt is required"}
	}
	return &Escrow{
		ID:              uuid.New(),
		ListingID:       l.ID,
		BuyerID:         buyerID,
		SellerID:        l.SellerID,
		DepositAmount:   depositAmount,
		TotalPrice:      totalPrice,
		RemainingAmount: totalPrice - depositAmount,
		Status:          StatusDeposited,
		DepositRef:      strings.TrimSpace(depositRef),
		ExpiresAt:       now.Add(SellerActionWindow),
		CreatedAt:       now,
	}, nil
}
