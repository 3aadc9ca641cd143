package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/streaming-auth-service/internal/config"
	"github.com/iliyamo/streaming-auth-service/internal/handler"
	"github.com/iliyamo/streaming-auth-service/internal/middleware"
	"github.com/iliyamo/streaming-auth-service/internal/repository"
	"github.com/iliyamo/streaming-auth-service/internal/service"
	"github.com/iliyamo/streaming-auth-service/internal/utils"
)

type nopAuth struct{}

func (nopAuth) Register(context.Context, string, string, string) (service.TokenPair, error) {
	return service.TokenPair{}, service.ErrConflict
}
func (nopAuth) Login(context.Context, string, string) (service.TokenPair, error) {
	return service.TokenPair{}, service.ErrInvalidCredentials
}
func (nopAuth) RefreshToken(context.Context, string) (service.TokenPair, error) {
	return service.TokenPair{}, service.ErrAccessDenied
}
func (nopAuth) Logout(context.Context, string) error { return nil }

func (nopAuth) Authenticate(_ context.Context, tok string) (utils.Claims, error) {
	if tok == "ok" {
		return utils.Claims{Subject: "u-1"}, nil
	}
	return utils.Claims{}, service.ErrInvalidToken
}

func TestRoutes(t *testing.T) {
	e := echo.New()
	reg := prometheus.NewRegistry()
	RegisterRoutes(e, nil, reg)

	limited := 0
	limiter := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			limited++
			return next(c)
		}
	}
	RegisterAuth(e, handler.NewAuthHandler(nopAuth{}, nil, time.Second, nil), nopAuth{}, limiter)

	cases := []struct {
		method, path, bearer string
		want                 int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/v1/auth/test", "", http.StatusUnauthorized},
		{http.MethodPost, "/v1/auth/test", "ok", http.StatusOK},
		{http.MethodPost, "/v1/auth/logout", "ok", http.StatusNoContent},
		{http.MethodGet, "/v1/me", "bad", http.StatusUnauthorized},
		{http.MethodGet, "/v1/me", "ok", http.StatusOK},
		{http.MethodGet, "/v1/unknown", "", http.StatusNotFound},
		{http.MethodGet, "/v1/unknown", "bad", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.bearer != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+tc.bearer)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}
	require.Equal(t, 3, limited, "only /v1/auth routes pass the limiter")
}

// newLimitedServer wires the real engine, memory store and redis limiter
// through RegisterAuth.
func newLimitedServer(t *testing.T, strategy string, capacity int) *echo.Echo {
	t.Helper()
	access, refresh, err := utils.NewSignerPair(
		utils.SignerConfig{Secret: []byte("access-secret"), TTL: 15 * time.Minute},
		utils.SignerConfig{Secret: []byte("refresh-secret"), TTL: time.Hour},
	)
	require.NoError(t, err)
	hasher, err := utils.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	engine, err := service.NewEngine(repository.NewMemoryUserRepo(), hasher, access, refresh, service.Options{})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       capacity,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		KeyStrategy:    strategy,
		Prefix:         "rl:auth",
	}
	e := echo.New()
	RegisterAuth(e, handler.NewAuthHandler(engine, nil, time.Second, nil), engine, middleware.NewTokenBucket(cfg, rdb, engine))
	return e
}

func send(e *echo.Echo, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:5555"
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func registerUser(t *testing.T, e *echo.Echo, email string) (access, refresh string) {
	t.Helper()
	rec := send(e, "/v1/auth/register", `{"email":"`+email+`","username":"u","password":"Secret123!"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.AccessToken, out.RefreshToken
}

func TestRegisterAuth_LimiterKeysOnAccount(t *testing.T) {
	e := newLimitedServer(t, config.KeyByIPAccount, 2)
	aliceAccess, aliceRefresh := registerUser(t, e, "alice@x.com")
	bobAccess, _ := registerUser(t, e, "bob@x.com")

	wrong := func(email string) int {
		return send(e, "/v1/auth/login", `{"email":"`+email+`","password":"nope"}`, "").Code
	}
	assert.Equal(t, http.StatusUnauthorized, wrong("alice@x.com"))
	assert.Equal(t, http.StatusUnauthorized, wrong("alice@x.com"))
	assert.Equal(t, http.StatusTooManyRequests, wrong("alice@x.com"), "guessing one account is throttled")
	assert.Equal(t, http.StatusUnauthorized, wrong("bob@x.com"), "from the same IP another account is not")

	// Authenticated users on one IP get separate buckets.
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, send(e, "/v1/auth/test", "", aliceAccess).Code)
		assert.Equal(t, http.StatusOK, send(e, "/v1/auth/test", "", bobAccess).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, send(e, "/v1/auth/test", "", aliceAccess).Code)

	assert.Equal(t, http.StatusOK, send(e, "/v1/auth/refresh", "", aliceRefresh).Code)
}
