package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"context"  // verifier signature
	"net/http" // HTTP status codes for responses

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/iliyamo/streaming-auth-service/internal/utils" // verified claims
)

// TokenVerifier checks an access token.  *service.Engine implements it.
type TokenVerifier interface {
	Authenticate(ctx context.Context, accessToken string) (utils.Claims, error)
}

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject and email into the request context.  Refresh
// tokens are signed with a different secret and are rejected here.  Handlers
// read the identity back with UserID and Email.
func JWTAuth(v TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := BearerToken(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := v.Authenticate(c.Request().Context(), raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(ContextUserID, claims.Subject)
			c.Set(ContextEmail, claims.Email)
			return next(c)
		}
	}
}
