// Package listing models the item a seller puts up for sale. Creation and
// search belong to the wider marketplace; the escrow engine only reads price
// and minimum deposit and flips status at transition boundaries.
package listing

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks whether a listing can take a new deposit.
type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusSold      Status = "sold"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether the status is one of the defined values.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusSold, StatusCancelled:
		return true
	default:
		return false
	}
}

// Listing is an item for sale. Price and MinDeposit are in the smallest
// currency unit, with 0 < MinDeposit <= Price.
type Listing struct {
	ID         uuid.UUID `json:"id"`
	SellerID   uuid.UUID `json:"seller_id"`
	ItemName   string    `json:"item_name"`
	Category   string    `json:"category"`
	Price      int64     `json:"price"`
	MinDeposit int64     `json:"min_deposit"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
