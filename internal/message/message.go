// Package message holds the chat aggregate scoped to one escrow. It shares
// the escrow's identity space but is a separate table; the executor consults
// escrow status only to gate inserts.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Message is one chat line between buyer and seller. Append-only, ordered by
// creation time.
type Message struct {
	ID        uuid.UUID `json:"id"`
	EscrowID  uuid.UUID `json:"escrow_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
