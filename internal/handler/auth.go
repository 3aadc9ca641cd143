package handler

import (
	"context"  // request-scoped deadlines for store calls
	"errors"   // error kind checks
	"log/slog" // structured logs
	"net/http" // HTTP status codes and primitives
	"strings"  // input trimming
	"time"     // timeouts and event timestamps

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/iliyamo/streaming-auth-service/internal/middleware" // identity helpers
	"github.com/iliyamo/streaming-auth-service/internal/queue"      // auth events
	"github.com/iliyamo/streaming-auth-service/internal/service"    // credential engine
)

// AuthService is the part of *service.Engine the handlers call.
type AuthService interface {
	Register(ctx context.Context, email, username, password string) (service.TokenPair, error)
	Login(ctx context.Context, email, password string) (service.TokenPair, error)
	RefreshToken(ctx context.Context, presented string) (service.TokenPair, error)
	Logout(ctx context.Context, userID string) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth    AuthService
	Events  queue.Publisher
	Timeout time.Duration
	Log     *slog.Logger
}

func NewAuthHandler(auth AuthService, events queue.Publisher, timeout time.Duration, logger *slog.Logger) *AuthHandler {
	if events == nil {
		events = queue.Nop{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{Auth: auth, Events: events, Timeout: timeout, Log: logger}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResp struct {
	UserID           string    `json:"user_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func toResp(p service.TokenPair) tokenResp {
	return tokenResp{
		UserID:           p.UserID,
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// Register: create user and return tokens immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	pair, err := h.Auth.Register(ctx, req.Email, req.Username, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	h.emit(c, queue.EventRegistered, pair.UserID, req.Email)
	return c.JSON(http.StatusCreated, toResp(pair))
}

// Login: verify credentials and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	pair, err := h.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.emit(c, queue.EventLoginFailed, "", req.Email)
		}
		return h.fail(c, err)
	}
	h.emit(c, queue.EventLogin, pair.UserID, req.Email)
	return c.JSON(http.StatusOK, toResp(pair))
}

// Refresh: redeem the presented refresh token for a new pair.  The token is
// read from the Authorization header, falling back to a refresh_token body
// field.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw, ok := middleware.BearerToken(c)
	if !ok {
		var req refreshReq
		if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
		}
		raw = strings.TrimSpace(req.RefreshToken)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	pair, err := h.Auth.RefreshToken(ctx, raw)
	if err != nil {
		if errors.Is(err, service.ErrAccessDenied) {
			h.emit(c, queue.EventRefreshDenied, "", "")
		}
		return h.fail(c, err)
	}
	h.emit(c, queue.EventRefreshed, pair.UserID, "")
	return c.JSON(http.StatusOK, toResp(pair))
}

// Logout: clear the refresh fingerprint of the authenticated user (protected).
func (h *AuthHandler) Logout(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	if err := h.Auth.Logout(ctx, uid); err != nil {
		return h.fail(c, err)
	}
	h.emit(c, queue.EventLogout, uid, middleware.Email(c))
	return c.NoContent(http.StatusNoContent)
}

// Test confirms that the caller holds a valid access token.
func (h *AuthHandler) Test(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"msg": "Access granted!"})
}

// Me returns the identity carried by the access token.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"user_id": middleware.UserID(c),
		"email":   middleware.Email(c),
	})
}

// fail maps a service error to its status.  Store and unknown errors are
// logged and answered with a generic message.
func (h *AuthHandler) fail(c echo.Context, err error) error {
	status, msg := StatusOf(err)
	if status == http.StatusInternalServerError {
		h.Log.ErrorContext(c.Request().Context(), "request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
	}
	return c.JSON(status, echo.Map{"error": msg})
}

// StatusOf returns the HTTP status and client message for err.
func StatusOf(err error) (int, string) {
	switch service.KindOf(err) {
	case service.KindConflict:
		return http.StatusConflict, service.ErrConflict.Message
	case service.KindAuthentication:
		return http.StatusUnauthorized, service.ErrInvalidCredentials.Message
	case service.KindAccessDenied:
		return http.StatusForbidden, service.ErrAccessDenied.Message
	case service.KindInvalidToken:
		return http.StatusUnauthorized, service.ErrInvalidToken.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "request timed out"
	}
	return http.StatusInternalServerError, "internal error"
}

// emit publishes an auth event in the background.  Publishing is
// best-effort: the response is already decided and a broker outage is only
// logged.
func (h *AuthHandler) emit(c echo.Context, typ queue.EventType, userID, email string) {
	ev := queue.AuthEvent{
		Type:       typ,
		UserID:     userID,
		Email:      email,
		RemoteIP:   c.RealIP(),
		RequestID:  c.Response().Header().Get(echo.HeaderXRequestID),
		OccurredAt: time.Now().UTC(),
	}
	ctx := context.WithoutCancel(c.Request().Context())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := h.Events.Publish(ctx, ev); err != nil {
			h.Log.WarnContext(ctx, "auth event dropped", "type", ev.Type, "error", err)
		}
	}()
}
