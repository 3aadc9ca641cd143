package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPgMock(t *testing.T) (*PgUserRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgUserRepo(mock), mock
}

func TestPgUserRepo_Create(t *testing.T) {
	repo, mock := newPgMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users (id, email, username, password_hash)")).
		WithArgs(pgxmock.AnyArg(), "a@x.com", "alice", "hash").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	u, err := repo.Create(context.Background(), "a@x.com", "alice", "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, now, u.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUserRepo_CreateUniqueViolation(t *testing.T) {
	repo, mock := newPgMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(pgxmock.AnyArg(), "a@x.com", "alice", "hash").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	_, err := repo.Create(context.Background(), "a@x.com", "alice", "hash")
	assert.True(t, errors.Is(err, ErrEmailExists))
}

func TestPgUserRepo_FindByID(t *testing.T) {
	repo, mock := newPgMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("id-1").
		WillReturnRows(pgxmock.NewRows(userCols).AddRow("id-1", "a@x.com", "alice", "hash", "fp", now, now))

	u, err := repo.FindByID(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	require.NotNil(t, u.RefreshTokenHash)
	assert.Equal(t, "fp", *u.RefreshTokenHash)
}

func TestPgUserRepo_FindByEmailNotFound(t *testing.T) {
	repo, mock := newPgMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE email = $1")).
		WithArgs("nobody@x.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindByEmail(context.Background(), "nobody@x.com")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPgUserRepo_Fingerprints(t *testing.T) {
	repo, mock := newPgMock(t)
	mock.ExpectExec(regexp.QuoteMeta("SET refresh_token_hash = $2")).
		WithArgs("id-1", "fp").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND refresh_token_hash = $2")).
		WithArgs("id-1", "fp", "fp2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND refresh_token_hash = $2")).
		WithArgs("id-1", "fp", "fp3").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(regexp.QuoteMeta("SET refresh_token_hash = NULL")).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, repo.UpdateRefreshFingerprint(ctx, "id-1", "fp"))

	ok, err := repo.ReplaceRefreshFingerprint(ctx, "id-1", "fp", "fp2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ReplaceRefreshFingerprint(ctx, "id-1", "fp", "fp3")
	require.NoError(t, err)
	assert.False(t, ok)

	err = repo.ClearRefreshFingerprint(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
