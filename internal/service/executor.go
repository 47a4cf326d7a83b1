package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ClementSutjiatma/niche/internal/escrow"
	"github.com/ClementSutjiatma/niche/internal/listing"
	"github.com/ClementSutjiatma/niche/internal/notify"
	"github.com/ClementSutjiatma/niche/internal/transfer"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "niche_escrow_transitions_total",
		Help: "Escrow transitions attempted, labeled by action and result",
	}, []string{"action", "result"})

	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "niche_escrow_expired_total",
		Help: "Deposits auto-expired after the seller action window lapsed",
	})
)

// Executor loads an escrow, authorizes the caller, re-validates expiry,
// applies a validated transition atomically and coordinates the transfer and
// notification collaborators. It is the single writer for any escrow during
// a transition; the conditional write in the store settles races.
type Executor struct {
	store          Store
	transfers      transfer.Client
	notifier       notify.Notifier
	holdingAccount string
	nowFn          func() time.Time
}

// NewExecutor wires the executor. A nil notifier is replaced with a no-op.
func NewExecutor(store Store, transfers transfer.Client, notifier notify.Notifier, holdingAccount string) *Executor {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Executor{
		store:          store,
		transfers:      transfers,
		notifier:       notifier,
		holdingAccount: holdingAccount,
		nowFn:          time.Now,
	}
}

// SetNowFunc overrides the time source, for deterministic tests.
func (x *Executor) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	x.nowFn = now
}

// OpenDepositRequest carries the buyer's deposit intent. The deposit must
// already sit in the holding account; DepositRef is the receipt proving it.
type OpenDepositRequest struct {
	ListingID     uuid.UUID
	DepositAmount int64
	TotalPrice    int64
	DepositRef    string
}

// OpenDeposit creates an escrow in the deposited state and flips the listing
// to pending. The uniqueness of the in-flight escrow per listing is enforced
// by the store's conditional insert, not by locking the listing.
func (x *Executor) OpenDeposit(ctx context.Context, buyerID uuid.UUID, req OpenDepositRequest) (*escrow.Escrow, error) {
	l, err := x.store.GetListing(ctx, req.ListingID)
	if err != nil {
		transitionsTotal.WithLabelValues("open_deposit", "rejected").Inc()
		return nil, err
	}
	e, err := escrow.NewDeposited(l, buyerID, req.DepositAmount, req.TotalPrice, req.DepositRef, x.nowFn())
	if err != nil {
		transitionsTotal.WithLabelValues("open_deposit", "rejected").Inc()
		return nil, err
	}
	if err := x.store.CreateEscrow(ctx, e); err != nil {
		transitionsTotal.WithLabelValues("open_deposit", "conflict").Inc()
		return nil, err
	}
	transitionsTotal.WithLabelValues("open_deposit", "ok").Inc()
	x.notifier.EscrowEvent(e, notify.EventDeposited)
	return e, nil
}

// Get returns the escrow after authorizing the caller and applying lazy
// expiry. Unrelated callers learn nothing beyond ErrNotParty.
func (x *Executor) Get(ctx context.Context, escrowID, callerID uuid.UUID) (*escrow.Escrow, error) {
	e, err := x.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if _, ok := e.RoleOf(callerID); !ok {
		return nil, escrow.ErrNotParty
	}
	return x.expireIfLapsed(ctx, e), nil
}

// ListForUser returns every escrow where the caller is buyer or seller,
// applying lazy expiry to any lapsed deposit.
func (x *Executor) ListForUser(ctx context.Context, callerID uuid.UUID) ([]escrow.Escrow, error) {
	rows, err := x.store.ListEscrowsForUser(ctx, callerID)
	if err != nil {
		return nil, err
	}
	now := x.nowFn()
	out := make([]escrow.Escrow, 0, len(rows))
	for i := range rows {
		e := &rows[i]
		if e.DepositLapsed(now) {
			e = x.expireIfLapsed(ctx, e)
		}
		out = append(out, *e)
	}
	return out, nil
}

// ActiveForListing returns the in-flight escrow on a listing, if the caller
// is a party to it.
func (x *Executor) ActiveForListing(ctx context.Context, listingID, callerID uuid.UUID) (*escrow.Escrow, error) {
	e, err := x.store.ActiveEscrowForListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if _, ok := e.RoleOf(callerID); !ok {
		return nil, escrow.ErrNotParty
	}
	return x.expireIfLapsed(ctx, e), nil
}

// Apply runs one transition on behalf of a verified caller. The action is
// validated by the pure state machine; fund movements happen before the
// commit; the commit is a conditional write; notifications fire after.
func (x *Executor) Apply(ctx context.Context, escrowID, callerID uuid.UUID, act escrow.Action) (*escrow.Escrow, error) {
	e, err := x.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	role, ok := e.RoleOf(callerID)
	if !ok {
		transitionsTotal.WithLabelValues(metricAction(act), "unauthorized").Inc()
		return nil, escrow.ErrNotParty
	}

	// Expiry runs before the requested action. If the deadline has passed,
	// the caller's action is evaluated against the now-terminal escrow.
	e = x.expireIfLapsed(ctx, e)
	if e.DepositLapsed(x.nowFn()) {
		// The refund could not be issued, so the expire transition has not
		// committed, but the deadline still bars the action.
		transitionsTotal.WithLabelValues(metricAction(act), "rejected").Inc()
		return nil, &escrow.InvalidStateError{Current: escrow.StatusExpired, Action: act.Name()}
	}

	tr, err := escrow.Decide(e, role, act)
	if err != nil {
		transitionsTotal.WithLabelValues(metricAction(act), "rejected").Inc()
		return nil, err
	}

	next, err := x.execute(ctx, e, act, tr)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			transitionsTotal.WithLabelValues(metricAction(act), "conflict").Inc()
			return nil, x.conflictToInvalidState(ctx, escrowID, act)
		}
		transitionsTotal.WithLabelValues(metricAction(act), "error").Inc()
		return nil, err
	}
	transitionsTotal.WithLabelValues(metricAction(act), "ok").Inc()
	x.notifier.EscrowEvent(next, eventFor(next.Status))
	return next, nil
}

// execute performs the side effects and the conditional commit for an
// already-validated transition.
func (x *Executor) execute(ctx context.Context, e *escrow.Escrow, act escrow.Action, tr escrow.Transition) (*escrow.Escrow, error) {
	now := x.nowFn()
	from := e.Status
	next := e.Clone()
	next.Status = tr.To

	switch a := act.(type) {
	case escrow.Accept:
		t := now
		next.AcceptedAt = &t
	case escrow.BuyerConfirm:
		t := now
		next.BuyerConfirmed = true
		next.RemainingPaymentRef = a.PaymentRef
		next.RemainingPaymentConfirmedAt = &t
	}

	switch tr.Effect {
	case escrow.EffectRefundDeposit:
		receipt, err := x.refundDeposit(ctx, e)
		if err != nil {
			// Refund-class transitions never commit on transfer failure; the
			// escrow stays in its prior state and the caller may retry.
			return nil, err
		}
		next.ReleaseRef = receipt.Ref
		return next, x.store.CommitTransition(ctx, next, from, listing.StatusActive)

	case escrow.EffectReleaseTotal:
		return x.release(ctx, e, now)

	default:
		return next, x.store.CommitTransition(ctx, next, from, "")
	}
}

// release handles seller confirmation. The seller_confirmed flag is committed
// before the transfer so a failed release leaves a durable, retryable record;
// the escrow stays buyer_confirmed until the release transfer goes through.
func (x *Executor) release(ctx context.Context, e *escrow.Escrow, now time.Time) (*escrow.Escrow, error) {
	if !e.SellerConfirmed {
		marked := e.Clone()
		marked.SellerConfirmed = true
		if err := x.store.CommitTransition(ctx, marked, escrow.StatusBuyerConfirmed, ""); err != nil {
			return nil, err
		}
		e = marked
	}

	receipt, err := x.transfers.Transfer(ctx, transfer.Request{
		FromAccount:    x.holdingAccount,
		Recipient:      e.SellerID.String(),
		Amount:         e.TotalPrice,
		IdempotencyKey: "release-" + e.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("release transfer for escrow %s: %w", e.ID, err)
	}

	next := e.Clone()
	next.Status = escrow.StatusReleased
	next.ReleaseRef = receipt.Ref
	t := now
	next.ConfirmedAt = &t
	if err := x.store.CommitTransition(ctx, next, escrow.StatusBuyerConfirmed, listing.StatusSold); err != nil {
		return nil, err
	}
	return next, nil
}

func (x *Executor) refundDeposit(ctx context.Context, e *escrow.Escrow) (*transfer.Receipt, error) {
	// One refund key per escrow: cancel, reject and expire race safely
	// because the custody service executes the key at most once.
	receipt, err := x.transfers.Transfer(ctx, transfer.Request{
		FromAccount:    x.holdingAccount,
		Recipient:      e.BuyerID.String(),
		Amount:         e.DepositAmount,
		IdempotencyKey: "refund-" + e.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("refund transfer for escrow %s: %w", e.ID, err)
	}
	return receipt, nil
}

// expireIfLapsed applies the expire transition when the seller action window
// has passed. On refund failure the escrow is returned unchanged; the
// deadline check on action paths still bars progress and the sweep retries.
func (x *Executor) expireIfLapsed(ctx context.Context, e *escrow.Escrow) *escrow.Escrow {
	if !e.DepositLapsed(x.nowFn()) {
		return e
	}
	expired, err := x.expire(ctx, e)
	if err != nil {
		log.Printf("escrow: expiry of %s deferred: %v", e.ID, err)
		return e
	}
	return expired
}

func (x *Executor) expire(ctx context.Context, e *escrow.Escrow) (*escrow.Escrow, error) {
	tr, err := escrow.Decide(e, escrow.RoleSystem, escrow.Expire{})
	if err != nil {
		return nil, err
	}
	receipt, err := x.refundDeposit(ctx, e)
	if err != nil {
		return nil, err
	}
	next := e.Clone()
	next.Status = tr.To
	next.ReleaseRef = receipt.Ref
	err = x.store.CommitTransition(ctx, next, escrow.StatusDeposited, listing.StatusActive)
	if errors.Is(err, ErrConflict) {
		// Someone else transitioned first; their outcome stands.
		return x.store.GetEscrow(ctx, e.ID)
	}
	if err != nil {
		return nil, err
	}
	expiredTotal.Inc()
	x.notifier.EscrowEvent(next, notify.EventExpired)
	return next, nil
}

// ExpireDue sweeps deposited escrows past their deadline. Reads already
// expire lazily, so the sweep is an optimization that keeps refunds timely
// for escrows nobody is looking at.
func (x *Executor) ExpireDue(ctx context.Context, limit int) (int, error) {
	ids, err := x.store.ListLapsedDeposits(ctx, x.nowFn(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	var lastErr error
	for _, id := range ids {
		e, err := x.store.GetEscrow(ctx, id)
		if err != nil {
			lastErr = err
			continue
		}
		if !e.DepositLapsed(x.nowFn()) {
			continue
		}
		if _, err := x.expire(ctx, e); err != nil {
			lastErr = err
			continue
		}
		expired++
	}
	return expired, lastErr
}

// conflictToInvalidState re-reads after a lost race so the caller sees the
// winner's status instead of a bare conflict.
func (x *Executor) conflictToInvalidState(ctx context.Context, escrowID uuid.UUID, act escrow.Action) error {
	current, err := x.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return ErrConflict
	}
	return &escrow.InvalidStateError{Current: current.Status, Action: act.Name()}
}

func eventFor(s escrow.Status) notify.Event {
	switch s {
	case escrow.StatusDeposited:
		return notify.EventDeposited
	case escrow.StatusAccepted:
		return notify.EventAccepted
	case escrow.StatusRejected:
		return notify.EventRejected
	case escrow.StatusCancelled:
		return notify.EventCancelled
	case escrow.StatusExpired:
		return notify.EventExpired
	case escrow.StatusBuyerConfirmed:
		return notify.EventBuyerConfirmed
	case escrow.StatusReleased:
		return notify.EventReleased
	case escrow.StatusDisputed:
		return notify.EventDisputed
	default:
		return notify.Event("escrow." + string(s))
	}
}

func metricAction(act escrow.Action) string {
	switch act.(type) {
	case escrow.Accept:
		return "accept"
	case escrow.Reject:
		return "reject"
	case escrow.Cancel:
		return "cancel"
	case escrow.BuyerConfirm:
		return "buyer_confirm"
	case escrow.SellerConfirm:
		return "seller_confirm"
	case escrow.Dispute:
		return "dispute"
	case escrow.Expire:
		return "expire"
	default:
		return "unknown"
	}
}
