package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ClementSutjiatma/niche/internal/escrow"
	"github.com/ClementSutjiatma/niche/internal/listing"
	"github.com/ClementSutjiatma/niche/internal/message"
)

var (
	// ErrListingNotFound indicates the referenced listing does not exist.
	ErrListingNotFound = errors.New("listing not found")
	// ErrActiveEscrowExists rejects a deposit against a listing that already
	// has an escrow in flight.
	ErrActiveEscrowExists = errors.New("an escrow already exists for this listing")
	// ErrConflict is returned by a conditional write whose expected prior
	// status no longer holds; the caller lost a race and must re-read.
	ErrConflict = errors.New("escrow was modified concurrently")
)

// Store is the durable state the executor runs against. Implementations must
// make CommitTransition a conditional write on the escrow's status and
// CreateEscrow a conditional insert, so transitions are linearizable even
// across processes. Cross-escrow operations must not block each other.
type Store interface {
	GetListing(ctx context.Context, id uuid.UUID) (*listing.Listing, error)

	GetEscrow(ctx context.Context, id uuid.UUID) (*escrow.Escrow, error)
	// ActiveEscrowForListing returns the in-flight escrow for a listing, or
	// escrow.ErrNotFound when there is none.
	ActiveEscrowForListing(ctx context.Context, listingID uuid.UUID) (*escrow.Escrow, error)
	// CreateEscrow inserts a deposited escrow and flips its listing from
	// active to pending, atomically. Fails with ErrActiveEscrowExists when a
	// non-terminal escrow already references the listing.
	CreateEscrow(ctx context.Context, e *escrow.Escrow) error
	// CommitTransition persists the escrow only if its stored status still
	// equals from, returning ErrConflict otherwise. A non-empty listingStatus
	// updates the listing in the same atomic step.
	CommitTransition(ctx context.Context, e *escrow.Escrow, from escrow.Status, listingStatus listing.Status) error
	ListEscrowsForUser(ctx context.Context, userID uuid.UUID) ([]escrow.Escrow, error)
	// ListLapsedDeposits returns ids of deposited escrows whose deadline has
	// passed, for the periodic sweep.
	ListLapsedDeposits(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	InsertMessage(ctx context.Context, m *message.Message) error
	ListMessages(ctx context.Context, escrowID uuid.UUID) ([]message.Message, error)
}
