package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// Hasher produces and checks salted one-way digests.  The same hasher
// protects passwords and refresh-token fingerprints.
type Hasher interface {
	// Hash returns a digest with a fresh random salt, so two calls with
	// the same input never return the same string.
	Hash(secret string) (string, error)
	// Verify reports whether secret matches digest.  A mismatch is
	// (false, nil); a malformed digest is an error.
	Verify(secret, digest string) (bool, error)
}

// ErrEmptySecret is returned when hashing an empty input.
var ErrEmptySecret = errors.New("secret cannot be empty")

// BcryptHasher hashes with bcrypt at a fixed cost.
//
// bcrypt only reads the first 72 bytes of its input and refresh tokens are
// JWTs well past that length whose leading bytes (header and subject) are
// identical between rotations.  Inputs are therefore reduced to a
// base64 SHA-256 digest (44 bytes) before bcrypt sees them.
type BcryptHasher struct{ cost int }

// NewBcryptHasher validates cost against bcrypt's bounds.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("HASHER_INVALID_COST").Errorf("bcrypt cost %d outside [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash returns a bcrypt hash of the pre-hashed secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	b, err := bcrypt.GenerateFromPassword(prehash(secret), h.cost)
	if err != nil {
		return "", oops.Code("HASHER_FAILED").Wrap(err)
	}
	return string(b), nil
}

// Verify compares in constant time via bcrypt.
func (h *BcryptHasher) Verify(secret, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), prehash(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("HASHER_INVALID_HASH").Wrap(err)
	}
}

func prehash(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

// NewHasher builds the hasher named by PASSWORD_HASHER.  New digests use that
// algorithm; Verify picks the algorithm from the stored digest's prefix, so
// switching PASSWORD_HASHER keeps existing passwords and sessions valid.
func NewHasher(name string, bcryptCost int) (Hasher, error) {
	argon, err := NewArgon2Hasher(DefaultArgon2Params)
	if err != nil {
		return nil, err
	}
	switch name {
	case "bcrypt", "":
		b, err := NewBcryptHasher(bcryptCost)
		if err != nil {
			return nil, err
		}
		return &digestHasher{primary: b, bcrypt: b, argon2: argon}, nil
	case "argon2id":
		// bcrypt only verifies here and the cost is read from each digest.
		return &digestHasher{primary: argon, bcrypt: &BcryptHasher{cost: bcrypt.DefaultCost}, argon2: argon}, nil
	default:
		return nil, oops.Code("HASHER_UNKNOWN").Errorf("unknown hasher %q", name)
	}
}

// digestHasher hashes with primary and verifies with whichever algorithm
// produced the digest.
type digestHasher struct {
	primary Hasher
	bcrypt  *BcryptHasher
	argon2  *Argon2Hasher
}

func (h *digestHasher) Hash(secret string) (string, error) { return h.primary.Hash(secret) }

func (h *digestHasher) Verify(secret, digest string) (bool, error) {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		return h.argon2.Verify(secret, digest)
	case strings.HasPrefix(digest, "$2a$"), strings.HasPrefix(digest, "$2b$"), strings.HasPrefix(digest, "$2y$"):
		return h.bcrypt.Verify(secret, digest)
	default:
		return false, oops.Code("HASHER_INVALID_HASH").Errorf("unrecognized digest format")
	}
}
