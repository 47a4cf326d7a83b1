package escrow

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClementSutjiatma/niche/internal/listing"
)

func activeListing() *listing.Listing {
	return &listing.Listing{
		ID:         uuid.New(),
		SellerID:   uuid.New(),
		ItemName:   "vintage chronograph",
		Category:   "watches",
		Price:      500000,
		MinDeposit: 50000,
		Status:     listing.StatusActive,
		CreatedAt:  time.Now(),
	}
}

func depositedEscrow(status Status) *Escrow {
	return &Escrow{
		ID:              uuid.New(),
		ListingID:       uuid.New(),
		BuyerID:         uuid.New(),
		SellerID:        uuid.New(),
		DepositAmount:   50000,
		TotalPrice:      500000,
		RemainingAmount: 450000,
		Status:          status,
		DepositRef:      "dep-1",
		ExpiresAt:       time.Now().Add(SellerActionWindow),
		CreatedAt:       time.Now(),
	}
}

func TestDecideTransitions(t *testing.T) {
	tests := []struct {
		name       string
		status     Status
		role       Role
		act        Action
		wantTo     Status
		wantEffect Effect
	}{
		{"seller accepts deposit", StatusDeposited, RoleSeller, Accept{}, StatusAccepted, EffectNone},
		{"seller rejects deposit", StatusDeposited, RoleSeller, Reject{}, StatusRejected, EffectRefundDeposit},
		{"buyer cancels before acceptance", StatusDeposited, RoleBuyer, Cancel{}, StatusCancelled, EffectRefundDeposit},
		{"buyer cancels after acceptance", StatusAccepted, RoleBuyer, Cancel{}, StatusCancelled, EffectRefundDeposit},
		{"buyer confirms remaining payment", StatusAccepted, RoleBuyer, BuyerConfirm{PaymentRef: "pay-2"}, StatusBuyerConfirmed, EffectNone},
		{"seller confirms handoff", StatusBuyerConfirmed, RoleSeller, SellerConfirm{}, StatusReleased, EffectReleaseTotal},
		{"buyer disputes while deposited", StatusDeposited, RoleBuyer, Dispute{Reason: "no contact"}, StatusDisputed, EffectNone},
		{"seller disputes after buyer confirm", StatusBuyerConfirmed, RoleSeller, Dispute{}, StatusDisputed, EffectNone},
		{"system expires lapsed deposit", StatusDeposited, RoleSystem, Expire{}, StatusExpired, EffectRefundDeposit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := depositedEscrow(tt.status)
			tr, err := Decide(e, tt.role, tt.act)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTo, tr.To)
			assert.Equal(t, tt.wantEffect, tr.Effect)
		})
	}
}

func TestDecideRejectsWrongRole(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		role   Role
		act    Action
	}{
		{"buyer cannot accept", StatusDeposited, RoleBuyer, Accept{}},
		{"buyer cannot reject", StatusDeposited, RoleBuyer, Reject{}},
		{"seller cannot cancel", StatusDeposited, RoleSeller, Cancel{}},
		{"seller cannot confirm payment", StatusAccepted, RoleSeller, BuyerConfirm{PaymentRef: "x"}},
		{"buyer cannot confirm handoff", StatusBuyerConfirmed, RoleBuyer, SellerConfirm{}},
		{"buyer cannot expire", StatusDeposited, RoleBuyer, Expire{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decide(depositedEscrow(tt.status), tt.role, tt.act)
			var roleErr *RoleError
			require.ErrorAs(t, err, &roleErr)
		})
	}
}

func TestDecideRejectsWrongState(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		role   Role
		act    Action
	}{
		{"accept twice", StatusAccepted, RoleSeller, Accept{}},
		{"accept after release", StatusReleased, RoleSeller, Accept{}},
		{"reject after acceptance", StatusAccepted, RoleSeller, Reject{}},
		{"cancel after buyer confirmed", StatusBuyerConfirmed, RoleBuyer, Cancel{}},
		{"cancel after release", StatusReleased, RoleBuyer, Cancel{}},
		{"buyer confirm before acceptance", StatusDeposited, RoleBuyer, BuyerConfirm{PaymentRef: "x"}},
		{"seller confirm before buyer", StatusAccepted, RoleSeller, SellerConfirm{}},
		{"dispute a released escrow", StatusReleased, RoleBuyer, Dispute{}},
		{"dispute a cancelled escrow", StatusCancelled, RoleSeller, Dispute{}},
		{"expire an accepted escrow", StatusAccepted, RoleSystem, Expire{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decide(depositedEscrow(tt.status), tt.role, tt.act)
			var stateErr *InvalidStateError
			require.ErrorAs(t, err, &stateErr)
			assert.Equal(t, tt.status, stateErr.Current)
		})
	}
}

func TestDecideBuyerConfirmRequiresReceipt(t *testing.T) {
	_, err := Decide(depositedEscrow(StatusAccepted), RoleBuyer, BuyerConfirm{PaymentRef: "   "})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestNewDeposited(t *testing.T) {
	l := activeListing()
	buyer := uuid.New()
	now := time.Now()

	e, err := NewDeposited(l, buyer, 50000, 500000, "dep-abc", now)
	require.NoError(t, err)

	assert.Equal(t, l.ID, e.ListingID)
	assert.Equal(t, l.SellerID, e.SellerID)
	assert.Equal(t, buyer, e.BuyerID)
	assert.Equal(t, StatusDeposited, e.Status)
	assert.Equal(t, int64(450000), e.RemainingAmount)
	assert.Equal(t, "dep-abc", e.DepositRef)
	assert.Equal(t, now.Add(SellerActionWindow), e.ExpiresAt)
	assert.False(t, e.BuyerConfirmed)
	assert.False(t, e.SellerConfirmed)
}

func TestNewDepositedValidation(t *testing.T) {
	l := activeListing()
	buyer := uuid.New()
	now := time.Now()

	t.Run("inactive listing", func(t *testing.T) {
		pending := activeListing()
		pending.Status = listing.StatusPending
		_, err := NewDeposited(pending, buyer, 50000, pending.Price, "dep", now)
		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("seller cannot buy own listing", func(t *testing.T) {
		_, err := NewDeposited(l, l.SellerID, 50000, l.Price, "dep", now)
		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("deposit below minimum", func(t *testing.T) {
		_, err := NewDeposited(l, buyer, l.MinDeposit-1, l.Price, "dep", now)
		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("deposit above total", func(t *testing.T) {
		_, err := NewDeposited(l, buyer, l.Price+1, l.Price, "dep", now)
		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("full deposit is allowed", func(t *testing.T) {
		e, err := NewDeposited(l, buyer, l.Price, l.Price, "dep", now)
		require.NoError(t, err)
		assert.Zero(t, e.RemainingAmount)
	})

	t.Run("price mismatch", func(t *testing.T) {
		_, err := NewDeposited(l, buyer, 50000, l.Price-1, "dep", now)
		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("missing deposit receipt", func(t *testing.T) {
		_, err := NewDeposited(l, buyer, 50000, l.Price, "  ", now)
		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
	})
}

func TestDepositLapsed(t *testing.T) {
	e := depositedEscrow(StatusDeposited)
	e.ExpiresAt = time.Now().Add(-time.Minute)
	assert.True(t, e.DepositLapsed(time.Now()))

	// Only a live deposit carries the deadline.
	e.Status = StatusAccepted
	assert.False(t, e.DepositLapsed(time.Now()))
}

func TestRoleOf(t *testing.T) {
	e := depositedEscrow(StatusDeposited)

	role, ok := e.RoleOf(e.BuyerID)
	require.True(t, ok)
	assert.Equal(t, RoleBuyer, role)

	role, ok = e.RoleOf(e.SellerID)
	require.True(t, ok)
	assert.Equal(t, RoleSeller, role)

	_, ok = e.RoleOf(uuid.New())
	assert.False(t, ok)
}
