package model

import "time"

// User represents a credential record as stored in the `users` table.
// The json tags are omitted here because these structs are used
// internally by the repository and service layers; handlers define
// their own response types.
//
// Fields:
//
//	ID               – opaque identifier (UUID string), immutable.
//	Email            – unique address, compared exactly as stored.
//	Username         – display name chosen at registration.
//	PasswordHash     – salted one-way hash of the password.
//	RefreshTokenHash – salted one-way hash of the only refresh token that
//	                   can currently be redeemed; nil means no session.
//	CreatedAt        – timestamp of creation.
//	UpdatedAt        – timestamp of last update.
type User struct {
	ID               string    // users.id
	Email            string    // users.email
	Username         string    // users.username
	PasswordHash     string    // users.password_hash
	RefreshTokenHash *string   // users.refresh_token_hash (nullable)
	CreatedAt        time.Time // users.created_at
	UpdatedAt        time.Time // users.updated_at
}

// HasSession reports whether a refresh fingerprint is bound to the user.
func (u User) HasSession() bool {
	return u.RefreshTokenHash != nil && *u.RefreshTokenHash != ""
}
