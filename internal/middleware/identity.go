package middleware

// identity.go holds the context keys JWTAuth sets and the helpers that read
// them back.  Handlers and the rate limiter use these instead of touching the
// token again.

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ContextUserID = "user_id"
	ContextEmail  = "email"
)

// BearerToken returns the token from an "Authorization: Bearer <token>"
// header.
func BearerToken(c echo.Context) (string, bool) {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(auth[7:])
	return tok, tok != ""
}

// UserID returns the authenticated subject, or "" for anonymous requests.
func UserID(c echo.Context) string {
	if v, ok := c.Get(ContextUserID).(string); ok {
		return v
	}
	return ""
}

// Email returns the email claim of the authenticated subject.
func Email(c echo.Context) string {
	if v, ok := c.Get(ContextEmail).(string); ok {
		return v
	}
	return ""
}
