package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/iliyamo/streaming-auth-service/internal/model"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

const userColumns = "id,email,username,password_hash,refresh_token_hash,created_at,updated_at"

// UserRepo is the MySQL credential store.  The DSN must set
// clientFoundRows=true so that RowsAffected counts matched rows; see
// database.OpenMySQL.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts a user with a fresh UUID and no refresh fingerprint.
func (r *UserRepo) Create(ctx context.Context, email, username, passwordHash string) (model.User, error) {
	id := uuid.NewString()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id, email, username, password_hash) VALUES (?,?,?,?)",
		id, email, username, passwordHash)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return model.User{}, oops.Code("USER_EMAIL_EXISTS").Wrap(ErrEmailExists)
		}
		return model.User{}, oops.Code("USER_CREATE_FAILED").With("operation", "insert user").Wrap(err)
	}
	now := time.Now().UTC()
	return model.User{
		ID:           id,
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// FindByEmail fetches a user by exact email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, oops.Code("USER_NOT_FOUND").Wrap(ErrNotFound)
	}
	if err != nil {
		return model.User{}, oops.Code("USER_GET_FAILED").With("operation", "get user by email").Wrap(err)
	}
	return u, nil
}

// FindByID fetches a user by id.
func (r *UserRepo) FindByID(ctx context.Context, id string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	if err != nil {
		return model.User{}, oops.Code("USER_GET_FAILED").With("operation", "get user by id").With("id", id).Wrap(err)
	}
	return u, nil
}

// UpdateRefreshFingerprint overwrites the stored fingerprint unconditionally.
// Every previously issued refresh token stops matching at once.
func (r *UserRepo) UpdateRefreshFingerprint(ctx context.Context, id, hash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=?, updated_at=CURRENT_TIMESTAMP WHERE id=?",
		hash, id)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", "update refresh fingerprint").With("id", id).Wrap(err)
	}
	return expectOneRow(res, id)
}

// ReplaceRefreshFingerprint swaps expected for next in a single statement and
// reports whether the swap happened.  A false result means another request
// rotated the fingerprint first.
func (r *UserRepo) ReplaceRefreshFingerprint(ctx context.Context, id, expected, next string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=?, updated_at=CURRENT_TIMESTAMP WHERE id=? AND refresh_token_hash=?",
		next, id, expected)
	if err != nil {
		return false, oops.Code("USER_UPDATE_FAILED").With("operation", "replace refresh fingerprint").With("id", id).Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, oops.Code("USER_UPDATE_FAILED").With("operation", "rows affected").With("id", id).Wrap(err)
	}
	return n == 1, nil
}

// ClearRefreshFingerprint ends the user's session.
func (r *UserRepo) ClearRefreshFingerprint(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=NULL, updated_at=CURRENT_TIMESTAMP WHERE id=?", id)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", "clear refresh fingerprint").With("id", id).Wrap(err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", "rows affected").With("id", id).Wrap(err)
	}
	if n == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	return nil
}

func scanUser(row *sql.Row) (model.User, error) {
	var (
		u       model.User
		refresh sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &refresh, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	if refresh.Valid {
		u.RefreshTokenHash = &refresh.String
	}
	return u, nil
}
