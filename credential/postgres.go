package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgxpool.Pool used by PostgresStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads records from the credentials table.
type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LookupByUsername(ctx context.Context, username string) (Record, error) {
	const query = `SELECT user_id, username, password_hash, hash_algorithm
		FROM credentials WHERE username = $1`

	var rec Record
	err := s.db.QueryRow(ctx, query, username).Scan(
		&rec.UserID, &rec.Username, &rec.PasswordHash, &rec.HashAlgorithmVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec, nil
}

// Upsert inserts rec or replaces the hash of an existing username. It is used
// when provisioning bootstrap users.
func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	const query = `INSERT INTO credentials (user_id, username, password_hash, hash_algorithm)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
		    hash_algorithm = EXCLUDED.hash_algorithm,
		    updated_at = now()`

	if _, err := s.db.Exec(ctx, query, rec.UserID, rec.Username, rec.PasswordHash, rec.HashAlgorithmVersion); err != nil {
		return fmt.Errorf("%w: upsert credential: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping reports whether the database answers.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
