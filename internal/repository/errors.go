// Package repository defines the credential stores and the error values
// they share. The sentinels let the service layer tell a missing record or
// a duplicate email apart from an infrastructure failure, whatever backend
// produced it. They are usually wrapped with oops context; match them with
// errors.Is.
package repository

import "errors"

// ErrNotFound is returned when no user matches the lookup key, or when an
// update targets a user that does not exist.
var ErrNotFound = errors.New("user not found")

// ErrEmailExists is returned by Create when the email is already taken.
// The unique index on users.email is the source of truth; callers that
// pre-check must still handle this for the concurrent case.
var ErrEmailExists = errors.New("email already exists")
