// Package service implements credential issuance and rotation.
//
// The Engine owns three flows, register, login and refresh, and the shared
// issue-and-bind step behind them.  It holds no per-user state: the
// credential store is the single source of truth, and the refresh
// fingerprint stored there is the only thing that decides whether a refresh
// token can still be redeemed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/streaming-auth-service/internal/metrics"
	"github.com/iliyamo/streaming-auth-service/internal/model"
	"github.com/iliyamo/streaming-auth-service/internal/repository"
	"github.com/iliyamo/streaming-auth-service/internal/utils"
)

const tracerName = "github.com/iliyamo/streaming-auth-service/internal/service"

// dummySecret is hashed once at startup.  Logins for unknown emails verify
// against that digest so they cost the same as a wrong password.
const dummySecret = "streaming-auth/timing-equalizer"

// CredentialStore is what the Engine needs from persistence.
// ReplaceRefreshFingerprint must be atomic: it swaps the fingerprint only if
// the stored value still equals expected.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	Create(ctx context.Context, email, username, passwordHash string) (model.User, error)
	UpdateRefreshFingerprint(ctx context.Context, id, hash string) error
	ReplaceRefreshFingerprint(ctx context.Context, id, expected, next string) (bool, error)
	ClearRefreshFingerprint(ctx context.Context, id string) error
}

// TokenPair is a freshly minted access/refresh pair.  It is never persisted;
// only a hash of RefreshToken is.
type TokenPair struct {
	UserID           string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Options carries the optional collaborators of an Engine.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Auth
}

// Engine orchestrates register, login and refresh.
type Engine struct {
	store     CredentialStore
	hasher    utils.Hasher
	access    *utils.TokenSigner
	refresh   *utils.TokenSigner
	log       *slog.Logger
	metrics   *metrics.Auth
	tracer    trace.Tracer
	dummyHash string
}

// NewEngine wires an Engine.  The two signers must be distinct and of the
// right classes.
func NewEngine(store CredentialStore, hasher utils.Hasher, access, refresh *utils.TokenSigner, opts Options) (*Engine, error) {
	switch {
	case store == nil || hasher == nil:
		return nil, errors.New("service: store and hasher are required")
	case access == nil || refresh == nil:
		return nil, errors.New("service: access and refresh signers are required")
	case access == refresh || access.Class() != utils.ClassAccess || refresh.Class() != utils.ClassRefresh:
		return nil, errors.New("service: signers must be one access and one refresh signer")
	}
	dummy, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, fmt.Errorf("service: prepare dummy hash: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		hasher:    hasher,
		access:    access,
		refresh:   refresh,
		log:       logger.With("component", "auth"),
		metrics:   opts.Metrics,
		tracer:    otel.Tracer(tracerName),
		dummyHash: dummy,
	}, nil
}

// Register creates an identity and opens its first session.
func (e *Engine) Register(ctx context.Context, email, username, password string) (pair TokenPair, err error) {
	ctx, done := e.begin(ctx, "register")
	defer func() { done(err) }()

	if _, err := e.store.FindByEmail(ctx, email); err == nil {
		return TokenPair{}, ErrConflict
	} else if !errors.Is(err, repository.ErrNotFound) {
		return TokenPair{}, storeError("find by email", err)
	}

	hash, err := e.hasher.Hash(password)
	if err != nil {
		return TokenPair{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := e.store.Create(ctx, email, username, hash)
	if errors.Is(err, repository.ErrEmailExists) {
		return TokenPair{}, ErrConflict
	}
	if err != nil {
		return TokenPair{}, storeError("create user", err)
	}
	e.log.InfoContext(ctx, "user registered", "user_id", user.ID)
	return e.issueAndBind(ctx, user)
}

// Login checks email and password and opens a new session, revoking any
// refresh token issued before.  Unknown email and wrong password both return
// ErrInvalidCredentials after the same amount of hashing work.
func (e *Engine) Login(ctx context.Context, email, password string) (pair TokenPair, err error) {
	ctx, done := e.begin(ctx, "login")
	defer func() { done(err) }()

	user, err := e.store.FindByEmail(ctx, email)
	found := err == nil
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return TokenPair{}, storeError("find by email", err)
	}

	digest := e.dummyHash
	if found {
		digest = user.PasswordHash
	}
	ok, verr := e.hasher.Verify(password, digest)
	if verr != nil && found {
		e.log.WarnContext(ctx, "stored password hash unreadable", "user_id", user.ID, "error", verr)
	}
	if !found || verr != nil || !ok {
		return TokenPair{}, ErrInvalidCredentials
	}
	return e.issueAndBind(ctx, user)
}

// Refresh redeems presented for a new pair.  The token must verify under the
// refresh secret, belong to userID and match the stored fingerprint.  The
// fingerprint is then swapped atomically, so the same token can be redeemed
// at most once even under concurrent requests.  Failures never modify the
// stored fingerprint.
func (e *Engine) Refresh(ctx context.Context, userID, presented string) (pair TokenPair, err error) {
	ctx, done := e.begin(ctx, "refresh")
	defer func() { done(err) }()

	claims, err := e.refresh.Verify(presented)
	if err != nil {
		return TokenPair{}, e.deny(ctx, userID, "token failed verification")
	}
	if claims.Subject != userID {
		return TokenPair{}, e.deny(ctx, userID, "token subject mismatch")
	}

	user, err := e.store.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return TokenPair{}, e.deny(ctx, userID, "unknown user")
	}
	if err != nil {
		return TokenPair{}, storeError("find by id", err)
	}
	if !user.HasSession() {
		return TokenPair{}, e.deny(ctx, userID, "no active session")
	}
	current := *user.RefreshTokenHash

	ok, verr := e.hasher.Verify(presented, current)
	if verr != nil || !ok {
		// A correctly signed token that no longer matches is a replay of a
		// rotated token.
		e.log.WarnContext(ctx, "refresh token reuse detected", "user_id", userID)
		return TokenPair{}, e.deny(ctx, userID, "fingerprint mismatch")
	}

	pair, digest, err := e.mint(user)
	if err != nil {
		return TokenPair{}, err
	}
	swapped, err := e.store.ReplaceRefreshFingerprint(ctx, user.ID, current, digest)
	if err != nil {
		return TokenPair{}, storeError("replace refresh fingerprint", err)
	}
	if !swapped {
		return TokenPair{}, e.deny(ctx, userID, "concurrent rotation won by another request")
	}
	return pair, nil
}

// RefreshToken is Refresh for callers that only hold the token: the subject
// is read from the verified token itself.
func (e *Engine) RefreshToken(ctx context.Context, presented string) (TokenPair, error) {
	subject, _ := e.RefreshSubject(ctx, presented)
	return e.Refresh(ctx, subject, presented)
}

// RefreshSubject returns the user id of a refresh token that verifies under
// the refresh secret.  It does not consult the store, so a rotated token
// still yields its subject.
func (e *Engine) RefreshSubject(_ context.Context, presented string) (string, error) {
	claims, err := e.refresh.Verify(presented)
	if err != nil {
		return "", invalidToken(err)
	}
	return claims.Subject, nil
}

// Authenticate verifies an access token.
func (e *Engine) Authenticate(_ context.Context, accessToken string) (utils.Claims, error) {
	claims, err := e.access.Verify(accessToken)
	if err != nil {
		return utils.Claims{}, invalidToken(err)
	}
	return claims, nil
}

// Logout clears the refresh fingerprint; every outstanding refresh token for
// the user stops working.  Access tokens run out on their own.
func (e *Engine) Logout(ctx context.Context, userID string) (err error) {
	ctx, done := e.begin(ctx, "logout")
	defer func() { done(err) }()

	err = e.store.ClearRefreshFingerprint(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAccessDenied
	}
	if err != nil {
		return storeError("clear refresh fingerprint", err)
	}
	return nil
}

// issueAndBind mints a pair and persists its fingerprint before returning.
// If the write fails the pair is dropped: a caller never holds a refresh
// token that the store does not know.
func (e *Engine) issueAndBind(ctx context.Context, user model.User) (TokenPair, error) {
	pair, digest, err := e.mint(user)
	if err != nil {
		return TokenPair{}, err
	}
	if err := e.store.UpdateRefreshFingerprint(ctx, user.ID, digest); err != nil {
		return TokenPair{}, storeError("bind refresh fingerprint", err)
	}
	return pair, nil
}

// mint signs both tokens and hashes the refresh token.
func (e *Engine) mint(user model.User) (TokenPair, string, error) {
	at, ac, err := e.access.Sign(user.ID, user.Email)
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("sign access token: %w", err)
	}
	rt, rc, err := e.refresh.Sign(user.ID, user.Email)
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("sign refresh token: %w", err)
	}
	digest, err := e.hasher.Hash(rt)
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("hash refresh token: %w", err)
	}
	return TokenPair{
		UserID:           user.ID,
		AccessToken:      at,
		RefreshToken:     rt,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: rc.ExpiresAt,
	}, digest, nil
}

func (e *Engine) deny(ctx context.Context, userID, reason string) error {
	e.log.InfoContext(ctx, "refresh denied", "user_id", userID, "reason", reason)
	return ErrAccessDenied
}

// begin opens a span and returns the function that closes it and records
// the outcome.
func (e *Engine) begin(ctx context.Context, op string) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "auth."+op, trace.WithAttributes(attribute.String("auth.operation", op)))
	return ctx, func(err error) {
		outcome := outcomeOf(err)
		e.metrics.Observe(op, outcome, started)
		if err != nil {
			span.SetStatus(codes.Error, outcome)
			if k := KindOf(err); k == KindStore || k == "" {
				span.RecordError(err)
				e.log.ErrorContext(ctx, "auth operation failed", "operation", op, "error", err)
			}
		}
		span.End()
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "internal"
}
