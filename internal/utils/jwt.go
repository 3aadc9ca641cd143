package utils // package utils provides the token signer and the secret hashers

import (
	"crypto/rand" // entropy source for token IDs
	"errors"      // sentinel errors
	"fmt"         // error wrapping
	"time"        // lifetimes and clock

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
	"github.com/oklog/ulid/v2"     // unique, sortable token IDs (jti)
	"github.com/samber/oops"       // coded construction errors
)

// TokenClass names one of the two independently keyed token families.
type TokenClass string

const (
	ClassAccess  TokenClass = "access"
	ClassRefresh TokenClass = "refresh"
)

// ErrInvalidToken is returned by Verify for any token that fails
// signature, format, algorithm or lifetime checks.  The underlying jwt error
// is wrapped for logging but callers should only branch on this value.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the assertion carried by both token classes.
type Claims struct {
	Subject   string    // user id
	Email     string    // user email at issuance
	ID        string    // jti, unique per token
	IssuedAt  time.Time // iat
	ExpiresAt time.Time // exp
}

// tokenClaims is the JWT payload.  Standard claims carry sub, jti, iat and
// exp; email is the only custom claim.
type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SignerConfig describes one token class.
type SignerConfig struct {
	Class  TokenClass
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// TokenSigner signs and verifies HS256 tokens of a single class.  Access and
// refresh tokens use two TokenSigner values with different secrets; a token
// of one class never verifies under the other class's signer.
type TokenSigner struct {
	class  TokenClass
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// SignerOption customizes a TokenSigner.
type SignerOption func(*TokenSigner)

// WithClock replaces time.Now, for issuing and for expiry checks.
func WithClock(now func() time.Time) SignerOption {
	return func(s *TokenSigner) { s.now = now }
}

// NewTokenSigner validates cfg and returns a signer for that class.
func NewTokenSigner(cfg SignerConfig, opts ...SignerOption) (*TokenSigner, error) {
	if len(cfg.Secret) == 0 {
		return nil, oops.Code("SIGNER_CONFIG_INVALID").With("class", string(cfg.Class)).Errorf("%s token secret is empty", cfg.Class)
	}
	if cfg.TTL <= 0 {
		return nil, oops.Code("SIGNER_CONFIG_INVALID").With("class", string(cfg.Class)).Errorf("%s token ttl must be positive", cfg.Class)
	}
	s := &TokenSigner{
		class:  cfg.Class,
		secret: append([]byte(nil), cfg.Secret...),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewSignerPair builds the access and refresh signers and refuses a shared
// secret, which would let a refresh token pass as an access token.
func NewSignerPair(access, refresh SignerConfig, opts ...SignerOption) (*TokenSigner, *TokenSigner, error) {
	if string(access.Secret) == string(refresh.Secret) {
		return nil, nil, oops.Code("SIGNER_CONFIG_INVALID").Errorf("access and refresh secrets must differ")
	}
	access.Class, refresh.Class = ClassAccess, ClassRefresh
	a, err := NewTokenSigner(access, opts...)
	if err != nil {
		return nil, nil, err
	}
	r, err := NewTokenSigner(refresh, opts...)
	if err != nil {
		return nil, nil, err
	}
	return a, r, nil
}

func (s *TokenSigner) Class() TokenClass { return s.class }

func (s *TokenSigner) TTL() time.Duration { return s.ttl }

// Sign issues a token for subject that expires after the signer's TTL.
// Every token gets a fresh jti, so two tokens issued within the same second
// for the same user still differ.
func (s *TokenSigner) Sign(subject, email string) (string, Claims, error) {
	now := s.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", Claims{}, oops.Code("SIGNER_FAILED").Wrap(err)
	}
	claims := tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			ID:        id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Claims{}, oops.Code("SIGNER_FAILED").With("class", string(s.class)).Wrap(err)
	}
	return signed, toClaims(claims), nil
}

// Verify checks signature, algorithm, issuer and lifetime and returns the
// claims.  Every failure wraps ErrInvalidToken.
func (s *TokenSigner) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	var claims tokenClaims
	tok, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %s: %v", ErrInvalidToken, s.class, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: %s: missing subject", ErrInvalidToken, s.class)
	}
	return toClaims(claims), nil
}

func toClaims(c tokenClaims) Claims {
	out := Claims{Subject: c.Subject, Email: c.Email, ID: c.ID}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
