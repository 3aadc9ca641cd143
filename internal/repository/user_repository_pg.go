package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/oops"

	"github.com/iliyamo/streaming-auth-service/internal/model"
)

// PgxQuerier is the subset of *pgxpool.Pool the Postgres store uses.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgUserRepo is the Postgres credential store.
type PgUserRepo struct{ db PgxQuerier }

func NewPgUserRepo(db PgxQuerier) *PgUserRepo { return &PgUserRepo{db: db} }

// Create inserts a user with a fresh UUID and no refresh fingerprint.
func (r *PgUserRepo) Create(ctx context.Context, email, username, passwordHash string) (model.User, error) {
	u := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (id, email, username, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.Username, u.PasswordHash).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return model.User{}, oops.Code("USER_EMAIL_EXISTS").Wrap(ErrEmailExists)
		}
		return model.User{}, oops.Code("USER_CREATE_FAILED").With("operation", "insert user").Wrap(err)
	}
	return u, nil
}

// FindByEmail fetches a user by exact email.
func (r *PgUserRepo) FindByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, username, password_hash, refresh_token_hash, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email)
	u, err := scanPgUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, oops.Code("USER_NOT_FOUND").Wrap(ErrNotFound)
	}
	if err != nil {
		return model.User{}, oops.Code("USER_GET_FAILED").With("operation", "get user by email").Wrap(err)
	}
	return u, nil
}

// FindByID fetches a user by id.
func (r *PgUserRepo) FindByID(ctx context.Context, id string) (model.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, username, password_hash, refresh_token_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	u, err := scanPgUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	if err != nil {
		return model.User{}, oops.Code("USER_GET_FAILED").With("operation", "get user by id").With("id", id).Wrap(err)
	}
	return u, nil
}

// UpdateRefreshFingerprint overwrites the stored fingerprint unconditionally.
func (r *PgUserRepo) UpdateRefreshFingerprint(ctx context.Context, id, hash string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET refresh_token_hash = $2, updated_at = now()
		WHERE id = $1
	`, id, hash)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", "update refresh fingerprint").With("id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	return nil
}

// ReplaceRefreshFingerprint swaps expected for next and reports whether the
// row still held expected.
func (r *PgUserRepo) ReplaceRefreshFingerprint(ctx context.Context, id, expected, next string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET refresh_token_hash = $3, updated_at = now()
		WHERE id = $1 AND refresh_token_hash = $2
	`, id, expected, next)
	if err != nil {
		return false, oops.Code("USER_UPDATE_FAILED").With("operation", "replace refresh fingerprint").With("id", id).Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearRefreshFingerprint ends the user's session.
func (r *PgUserRepo) ClearRefreshFingerprint(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET refresh_token_hash = NULL, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", "clear refresh fingerprint").With("id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	return nil
}

func scanPgUser(row pgx.Row) (model.User, error) {
	var (
		u       model.User
		refresh pgtype.Text
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &refresh, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return model.User{}, err
	}
	if refresh.Valid {
		u.RefreshTokenHash = &refresh.String
	}
	return u, nil
}
