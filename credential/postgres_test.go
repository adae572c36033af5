package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_LookupByUsername(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	rows := pgxmock.NewRows([]string{"user_id", "username", "password_hash", "hash_algorithm"}).
		AddRow("u-alice", "alice", "$argon2id$v=19$...", "argon2id")
	mock.ExpectQuery("SELECT user_id, username, password_hash, hash_algorithm").
		WithArgs("alice").
		WillReturnRows(rows)

	rec, err := store.LookupByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "u-alice", rec.UserID)
	assert.Equal(t, "argon2id", rec.HashAlgorithmVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupByUsername_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT user_id").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgresStore(mock).LookupByUsername(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupByUsername_DBError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT user_id").
		WithArgs("alice").
		WillReturnError(errors.New("connection reset"))

	_, err = NewPostgresStore(mock).LookupByUsername(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO credentials").
		WithArgs("u-alice", "alice", "hash", "argon2id").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewPostgresStore(mock).Upsert(context.Background(), Record{
		UserID: "u-alice", Username: "alice", PasswordHash: "hash", HashAlgorithmVersion: "argon2id",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
