// Package pgstore implements refresh.Store on PostgreSQL with pgx.
//
// Consume is a single conditional UPDATE on consumed_at IS NULL; the row
// count decides the winner. Rotate runs the same UPDATE and the INSERT of the
// successor in one transaction. Schema lives in the migrations package.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/abctrading/tradeauth/refresh"
)

const (
	uniqueViolation    = "23505"
	defaultSweepBatch  = 1000
	selectRecordColumn = `token_id, secret_hash, user_id, family_id, issued_at, expires_at,
		absolute_expires_at, consumed_at, predecessor_id, revoked`
)

// DBTX is satisfied by *pgxpool.Pool and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL-backed refresh.Store and refresh.Rotator.
type Store struct {
	db         DBTX
	now        func() time.Time
	sweepBatch int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSweepBatch bounds the rows deleted per sweep statement.
func WithSweepBatch(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

func New(db DBTX, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, sweepBatch: defaultSweepBatch}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Save(ctx context.Context, rec *refresh.Record) error {
	return insert(ctx, s.db, rec)
}

func insert(ctx context.Context, db execer, rec *refresh.Record) error {
	const query = `INSERT INTO refresh_tokens
		(token_id, secret_hash, user_id, family_id, issued_at, expires_at,
		 absolute_expires_at, predecessor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db.Exec(ctx, query,
		rec.TokenID, rec.SecretHash[:], rec.UserID, rec.FamilyID,
		rec.IssuedAt, rec.ExpiresAt, rec.AbsoluteExpiresAt, rec.PredecessorID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return refresh.ErrConflict
		}
		return fmt.Errorf("%w: insert refresh token: %v", refresh.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) FindLive(ctx context.Context, tokenID string) (*refresh.Record, error) {
	query := `SELECT ` + selectRecordColumn + ` FROM refresh_tokens WHERE token_id = $1`

	var (
		rec        refresh.Record
		secretHash []byte
	)
	err := s.db.QueryRow(ctx, query, tokenID).Scan(
		&rec.TokenID, &secretHash, &rec.UserID, &rec.FamilyID, &rec.IssuedAt, &rec.ExpiresAt,
		&rec.AbsoluteExpiresAt, &rec.ConsumedAt, &rec.PredecessorID, &rec.Revoked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, refresh.ErrNotFound
		}
		return nil, fmt.Errorf("%w: select refresh token: %v", refresh.ErrUnavailable, err)
	}
	if len(secretHash) != len(rec.SecretHash) {
		return nil, fmt.Errorf("%w: corrupt secret hash for %s", refresh.ErrUnavailable, tokenID)
	}
	copy(rec.SecretHash[:], secretHash)

	switch rec.State(s.now()) {
	case refresh.StateConsumed, refresh.StateRevoked:
		return &rec, refresh.ErrAlreadyConsumed
	case refresh.StateExpired:
		return &rec, refresh.ErrExpired
	}
	return &rec, nil
}

func (s *Store) Consume(ctx context.Context, tokenID string) error {
	return consume(ctx, s.db, tokenID, s.now())
}

// consume is the compare-and-set. When no row changes, a follow-up read
// classifies the miss.
func consume(ctx context.Context, db execer, tokenID string, now time.Time) error {
	const update = `UPDATE refresh_tokens SET consumed_at = $2
		WHERE token_id = $1 AND consumed_at IS NULL AND expires_at >= $2`

	tag, err := db.Exec(ctx, update, tokenID, now)
	if err != nil {
		return fmt.Errorf("%w: consume refresh token: %v", refresh.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	const classify = `SELECT consumed_at IS NOT NULL FROM refresh_tokens WHERE token_id = $1`
	var consumed bool
	if err := db.QueryRow(ctx, classify, tokenID).Scan(&consumed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return refresh.ErrNotFound
		}
		return fmt.Errorf("%w: classify refresh token: %v", refresh.ErrUnavailable, err)
	}
	if consumed {
		return refresh.ErrAlreadyConsumed
	}
	return refresh.ErrExpired
}

func (s *Store) Rotate(ctx context.Context, oldTokenID string, next *refresh.Record) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin rotate: %v", refresh.ErrUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = consume(ctx, tx, oldTokenID, s.now()); err != nil {
		return err
	}
	if err = insert(ctx, tx, next); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit rotate: %v", refresh.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	const query = `UPDATE refresh_tokens SET consumed_at = $2, revoked = TRUE
		WHERE family_id = $1 AND consumed_at IS NULL`

	tag, err := s.db.Exec(ctx, query, familyID, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: revoke family: %v", refresh.ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) SweepExpired(ctx context.Context, retention time.Duration) (int, error) {
	const query = `DELETE FROM refresh_tokens WHERE token_id IN (
		SELECT token_id FROM refresh_tokens WHERE expires_at < $1 LIMIT $2)`

	cutoff := s.now().Add(-retention)
	total := 0
	for {
		tag, err := s.db.Exec(ctx, query, cutoff, s.sweepBatch)
		if err != nil {
			return total, fmt.Errorf("%w: sweep: %v", refresh.ErrUnavailable, err)
		}
		n := int(tag.RowsAffected())
		total += n
		if n < s.sweepBatch {
			return total, nil
		}
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return nil
}
