package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/iliyamo/streaming-auth-service/internal/model"
)

// MemoryUserRepo is an in-process credential store for local development
// and tests.  A single mutex serializes all access, which makes the
// conditional fingerprint swap atomic in the same way the SQL stores'
// single-statement UPDATE is.
type MemoryUserRepo struct {
	mu      sync.Mutex
	byID    map[string]model.User
	byEmail map[string]string
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:    make(map[string]model.User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUserRepo) Create(_ context.Context, email, username, passwordHash string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[email]; ok {
		return model.User{}, oops.Code("USER_EMAIL_EXISTS").Wrap(ErrEmailExists)
	}
	now := time.Now().UTC()
	u := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byID[u.ID] = u
	r.byEmail[email] = u.ID
	return cloneUser(u), nil
}

func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[email]
	if !ok {
		return model.User{}, oops.Code("USER_NOT_FOUND").Wrap(ErrNotFound)
	}
	return cloneUser(r.byID[id]), nil
}

func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return model.User{}, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	return cloneUser(u), nil
}

func (r *MemoryUserRepo) UpdateRefreshFingerprint(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	u.RefreshTokenHash = &hash
	u.UpdatedAt = time.Now().UTC()
	r.byID[id] = u
	return nil
}

func (r *MemoryUserRepo) ReplaceRefreshFingerprint(_ context.Context, id, expected, next string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || u.RefreshTokenHash == nil || *u.RefreshTokenHash != expected {
		return false, nil
	}
	u.RefreshTokenHash = &next
	u.UpdatedAt = time.Now().UTC()
	r.byID[id] = u
	return true, nil
}

func (r *MemoryUserRepo) ClearRefreshFingerprint(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	u.RefreshTokenHash = nil
	u.UpdatedAt = time.Now().UTC()
	r.byID[id] = u
	return nil
}

// Len returns the number of stored users.
func (r *MemoryUserRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func cloneUser(u model.User) model.User {
	if u.RefreshTokenHash != nil {
		h := *u.RefreshTokenHash
		u.RefreshTokenHash = &h
	}
	return u
}
