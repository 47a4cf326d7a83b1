package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrIdempotencyMismatch is returned when a key is reused with a different
// request body.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

// StoredResponse is a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

// LookupIdempotency returns the stored response for (user, key), nil when the
// key is unseen, or ErrIdempotencyMismatch when the request hash differs.
func (s *Store) LookupIdempotency(ctx context.Context, userID uuid.UUID, key, requestHash string) (*StoredResponse, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT response_status, response_body, request_hash
         FROM idempotency_keys WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key)
	var status int
	var body []byte
	var storedHash string
	err := row.Scan(&status, &body, &storedHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

// SaveIdempotency records the response for a key. A concurrent first-writer
// wins; later saves are no-ops so the stored response stays stable.
func (s *Store) SaveIdempotency(ctx context.Context, userID uuid.UUID, key, requestHash string, status int, body []byte) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO idempotency_keys (user_id, idempotency_key, request_hash, response_status, response_body)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (user_id, idempotency_key) DO NOTHING`,
		userID, key, requestHash, status, body)
	return err
}
