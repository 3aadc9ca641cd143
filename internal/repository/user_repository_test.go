package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userCols = []string{"id", "email", "username", "password_hash", "refresh_token_hash", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (*UserRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewUserRepo(db), mock
}

func TestUserRepo_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (id, email, username, password_hash)")).
		WithArgs(sqlmock.AnyArg(), "a@x.com", "alice", "hash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := repo.Create(context.Background(), "a@x.com", "alice", "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "a@x.com", u.Email)
	assert.Equal(t, "alice", u.Username)
	assert.Nil(t, u.RefreshTokenHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_CreateDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a@x.com' for key 'users.email'"})

	_, err := repo.Create(context.Background(), "a@x.com", "alice", "hash")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmailExists))
}

func TestUserRepo_CreateFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).WillReturnError(sql.ErrConnDone)

	_, err := repo.Create(context.Background(), "a@x.com", "alice", "hash")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEmailExists))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
}

func TestUserRepo_FindByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email=? LIMIT 1")).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("id-1", "a@x.com", "alice", "hash", "fp", now, now))

	u, err := repo.FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "id-1", u.ID)
	require.NotNil(t, u.RefreshTokenHash)
	assert.Equal(t, "fp", *u.RefreshTokenHash)
	assert.True(t, u.HasSession())
}

func TestUserRepo_FindByIDNullFingerprint(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=? LIMIT 1")).
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("id-1", "a@x.com", "alice", "hash", nil, now, now))

	u, err := repo.FindByID(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Nil(t, u.RefreshTokenHash)
	assert.False(t, u.HasSession())
}

func TestUserRepo_FindNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email=?")).
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WillReturnRows(sqlmock.NewRows(userCols))

	_, err := repo.FindByEmail(context.Background(), "nobody@x.com")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUserRepo_UpdateRefreshFingerprint(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET refresh_token_hash=?")).
		WithArgs("fp", "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET refresh_token_hash=?")).
		WithArgs("fp", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateRefreshFingerprint(context.Background(), "id-1", "fp"))
	err := repo.UpdateRefreshFingerprint(context.Background(), "missing", "fp")
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_ReplaceRefreshFingerprint(t *testing.T) {
	repo, mock := newMockRepo(t)
	q := regexp.QuoteMeta("WHERE id=? AND refresh_token_hash=?")
	mock.ExpectExec(q).WithArgs("new", "id-1", "old").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("newer", "id-1", "old").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ReplaceRefreshFingerprint(context.Background(), "id-1", "old", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ReplaceRefreshFingerprint(context.Background(), "id-1", "old", "newer")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_ClearRefreshFingerprint(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("SET refresh_token_hash=NULL")).
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ClearRefreshFingerprint(context.Background(), "id-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
