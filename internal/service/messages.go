package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ClementSutjiatma/niche/internal/escrow"
	"github.com/ClementSutjiatma/niche/internal/message"
)

const maxMessageLength = 4000

// PostMessage appends a chat line to an escrow. Only the buyer or seller may
// write, and only while the escrow is accepted or buyer_confirmed.
func (x *Executor) PostMessage(ctx context.Context, escrowID, senderID uuid.UUID, body string) (*message.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &escrow.ValidationError{Reason: "message body is required"}
	}
	if len(body) > maxMessageLength {
		return nil, &escrow.ValidationError{Reason: "message body is too long"}
	}
	e, err := x.Get(ctx, escrowID, senderID)
	if err != nil {
		return nil, err
	}
	if e.Status != escrow.StatusAccepted && e.Status != escrow.StatusBuyerConfirmed {
		return nil, &escrow.InvalidStateError{Current: e.Status, Action: "send messages"}
	}
	m := &message.Message{
		ID:        uuid.New(),
		EscrowID:  escrowID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: x.nowFn(),
	}
	if err := x.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Messages returns the escrow's chat history, oldest first. Reading stays
// open in terminal states so parties keep their record of the exchange.
func (x *Executor) Messages(ctx context.Context, escrowID, callerID uuid.UUID) ([]message.Message, error) {
	if _, err := x.Get(ctx, escrowID, callerID); err != nil {
		return nil, err
	}
	return x.store.ListMessages(ctx, escrowID)
}
