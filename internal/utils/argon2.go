package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follows the OWASP argon2id recommendation.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Time:        1,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// Bounds applied to parameters read back from a stored digest.  A corrupted
// or hostile digest must fail verification, not panic in argon2.IDKey or
// allocate without limit.
const (
	maxArgon2Memory  = 1 << 20 // KiB, 1 GiB
	maxArgon2Time    = 16
	maxArgon2KeyLen  = 1024
	minArgon2SaltLen = 8
)

// Argon2Hasher hashes with argon2id and encodes results in PHC format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2Hasher struct{ params Argon2Params }

func NewArgon2Hasher(p Argon2Params) (*Argon2Hasher, error) {
	if p.Memory < 8 || p.Time < 1 || p.Parallelism < 1 || p.SaltLength < 8 || p.KeyLength < 16 {
		return nil, oops.Code("HASHER_INVALID_PARAMS").Errorf("invalid argon2id parameters")
	}
	return &Argon2Hasher{params: p}, nil
}

func (h *Argon2Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("HASHER_SALT_FAILED").Wrap(err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify re-derives the key with the parameters stored in digest, so
// digests produced under older parameters keep verifying.
func (h *Argon2Hasher) Verify(secret, digest string) (bool, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, oops.Code("HASHER_INVALID_HASH").Errorf("invalid argon2id hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, oops.Code("HASHER_INVALID_HASH").Errorf("unsupported argon2 version")
	}
	var (
		memory, time uint32
		threads      uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, oops.Code("HASHER_INVALID_HASH").Wrap(err)
	}
	if time < 1 || time > maxArgon2Time || threads < 1 || memory < 8*uint32(threads) || memory > maxArgon2Memory {
		return false, oops.Code("HASHER_INVALID_HASH").
			With("m", memory, "t", time, "p", threads).
			Errorf("argon2id parameters out of range")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("HASHER_INVALID_HASH").Wrap(err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("HASHER_INVALID_HASH").Wrap(err)
	}
	if len(salt) < minArgon2SaltLen || len(want) == 0 || len(want) > maxArgon2KeyLen {
		return false, oops.Code("HASHER_INVALID_HASH").Errorf("argon2id salt or key length out of range")
	}
	got := argon2.IDKey([]byte(secret), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
