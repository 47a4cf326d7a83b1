package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ClementSutjiatma/niche/internal/escrow"
	"github.com/ClementSutjiatma/niche/internal/listing"
	"github.com/ClementSutjiatma/niche/internal/message"
	"github.com/ClementSutjiatma/niche/internal/service"
)

// ErrListingUnavailable rejects a deposit against a listing that is pending,
// sold or cancelled.
var ErrListingUnavailable = errors.New("listing is not available for deposit")

const uniqueViolation = "23505"

// Store is the Postgres implementation of the executor's state. All status
// transitions are conditional updates enforced by the database, so the
// linearizability guarantee holds across concurrent processes.
type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Init creates the schema. Statements are idempotent so every binary can run
// it at startup.
func (s *Store) Init(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS listings (
            id UUID PRIMARY KEY,
            seller_id UUID NOT NULL,
            item_name TEXT NOT NULL,
            category TEXT NOT NULL DEFAULT '',
            price BIGINT NOT NULL CHECK (price > 0),
            min_deposit BIGINT NOT NULL CHECK (min_deposit > 0 AND min_deposit <= price),
            status TEXT NOT NULL DEFAULT 'active',
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`,
		`CREATE TABLE IF NOT EXISTS escrows (
            id UUID PRIMARY KEY,
            listing_id UUID NOT NULL REFERENCES listings(id),
            buyer_id UUID NOT NULL,
            seller_id UUID NOT NULL,
            deposit_amount BIGINT NOT NULL CHECK (deposit_amount > 0),
            total_price BIGINT NOT NULL CHECK (total_price > 0),
            remaining_amount BIGINT NOT NULL CHECK (remaining_amount >= 0),
            status TEXT NOT NULL,
            buyer_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
            seller_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
            deposit_ref TEXT NOT NULL DEFAULT '',
            remaining_payment_ref TEXT NOT NULL DEFAULT '',
            release_ref TEXT NOT NULL DEFAULT '',
            expires_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL,
            accepted_at TIMESTAMPTZ,
            remaining_payment_confirmed_at TIMESTAMPTZ,
            confirmed_at TIMESTAMPTZ
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS escrows_one_active_per_listing
            ON escrows (listing_id)
            WHERE status IN ('deposited', 'accepted', 'buyer_confirmed');`,
		`CREATE INDEX IF NOT EXISTS escrows_deposit_deadline
            ON escrows (expires_at)
            WHERE status = 'deposited';`,
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            escrow_id UUID NOT NULL REFERENCES escrows(id),
            sender_id UUID NOT NULL,
            body TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS messages_by_escrow ON messages (escrow_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            user_id UUID NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BYTEA NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (user_id, idempotency_key)
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}

// --- Listings ---

func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (*listing.Listing, error) {
	var l listing.Listing
	err := s.Db.QueryRow(ctx,
		`SELECT id, seller_id, item_name, category, price, min_deposit, status, created_at
         FROM listings WHERE id = $1`, id,
	).Scan(&l.ID, &l.SellerID, &l.ItemName, &l.Category, &l.Price, &l.MinDeposit, &l.Status, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrListingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateListing inserts a listing. Listing CRUD belongs to the wider
// marketplace; this exists for the seeder and benchmark tooling.
func (s *Store) CreateListing(ctx context.Context, l *listing.Listing) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO listings (id, seller_id, item_name, category, price, min_deposit, status, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.SellerID, l.ItemName, l.Category, l.Price, l.MinDeposit, l.Status, l.CreatedAt)
	return err
}

// --- Escrows ---

const escrowColumns = `id, listing_id, buyer_id, seller_id, deposit_amount, total_price,
    remaining_amount, status, buyer_confirmed, seller_confirmed, deposit_ref,
    remaining_payment_ref, release_ref, expires_at, created_at, accepted_at,
    remaining_payment_confirmed_at, confirmed_at`

type escrowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row escrowScanner) (*escrow.Escrow, error) {
	var e escrow.Escrow
	var expiresAt *time.Time
	err := row.Scan(&e.ID, &e.ListingID, &e.BuyerID, &e.SellerID, &e.DepositAmount,
		&e.TotalPrice, &e.RemainingAmount, &e.Status, &e.BuyerConfirmed, &e.SellerConfirmed,
		&e.DepositRef, &e.RemainingPaymentRef, &e.ReleaseRef, &expiresAt, &e.CreatedAt,
		&e.AcceptedAt, &e.RemainingPaymentConfirmedAt, &e.ConfirmedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt != nil {
		e.ExpiresAt = *expiresAt
	}
	return &e, nil
}

func (s *Store) GetEscrow(ctx context.Context, id uuid.UUID) (*escrow.Escrow, error) {
	row := s.Db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	e, err := scanEscrow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, escrow.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) ActiveEscrowForListing(ctx context.Context, listingID uuid.UUID) (*escrow.Escrow, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT `+escrowColumns+` FROM escrows
         WHERE listing_id = $1 AND status IN ('deposited', 'accepted', 'buyer_confirmed')`,
		listingID)
	e, err := scanEscrow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, escrow.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CreateEscrow inserts a deposited escrow and flips its listing from active
// to pending in one transaction. The partial unique index backs the
// one-in-flight-escrow-per-listing invariant without locking the listing.
func (s *Store) CreateEscrow(ctx context.Context, e *escrow.Escrow) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO escrows (`+escrowColumns+`)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		e.ID, e.ListingID, e.BuyerID, e.SellerID, e.DepositAmount, e.TotalPrice,
		e.RemainingAmount, e.Status, e.BuyerConfirmed, e.SellerConfirmed, e.DepositRef,
		e.RemainingPaymentRef, e.ReleaseRef, e.ExpiresAt, e.CreatedAt, e.AcceptedAt,
		e.RemainingPaymentConfirmedAt, e.ConfirmedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return service.ErrActiveEscrowExists
		}
		return fmt.Errorf("escrow insert failed: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE listings SET status = 'pending' WHERE id = $1 AND status = 'active'`,
		e.ListingID)
	if err != nil {
		return fmt.Errorf("listing flip failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrListingUnavailable
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// CommitTransition writes the escrow's mutable fields only if the stored
// status still equals from. The losing side of a race sees
// service.ErrConflict, never a silent overwrite.
func (s *Store) CommitTransition(ctx context.Context, e *escrow.Escrow, from escrow.Status, listingStatus listing.Status) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE escrows SET
            status = $1,
            buyer_confirmed = $2,
            seller_confirmed = $3,
            remaining_payment_ref = $4,
            release_ref = $5,
            accepted_at = $6,
            remaining_payment_confirmed_at = $7,
            confirmed_at = $8
         WHERE id = $9 AND status = $10`,
		e.Status, e.BuyerConfirmed, e.SellerConfirmed, e.RemainingPaymentRef,
		e.ReleaseRef, e.AcceptedAt, e.RemainingPaymentConfirmedAt, e.ConfirmedAt,
		e.ID, from)
	if err != nil {
		return fmt.Errorf("escrow update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrConflict
	}

	if listingStatus != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE listings SET status = $1 WHERE id = $2`,
			listingStatus, e.ListingID); err != nil {
			return fmt.Errorf("listing update failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Store) ListEscrowsForUser(ctx context.Context, userID uuid.UUID) ([]escrow.Escrow, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+escrowColumns+` FROM escrows
         WHERE buyer_id = $1 OR seller_id = $1
         ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []escrow.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) ListLapsedDeposits(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id FROM escrows
         WHERE status = 'deposited' AND expires_at <= $1
         ORDER BY expires_at
         LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Messages ---

func (s *Store) InsertMessage(ctx context.Context, m *message.Message) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO messages (id, escrow_id, sender_id, body, created_at)
         VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.EscrowID, m.SenderID, m.Body, m.CreatedAt)
	return err
}

func (s *Store) ListMessages(ctx context.Context, escrowID uuid.UUID) ([]message.Message, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, escrow_id, sender_id, body, created_at
         FROM messages WHERE escrow_id = $1
         ORDER BY created_at`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var m message.Message
		if err := rows.Scan(&m.ID, &m.EscrowID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
