package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"                             // import the Echo web framework to handle routing
	"github.com/prometheus/client_golang/prometheus"          // metrics registry
	"github.com/prometheus/client_golang/prometheus/promhttp" // /metrics exposition

	"github.com/iliyamo/streaming-auth-service/internal/handler"    // HTTP handlers
	"github.com/iliyamo/streaming-auth-service/internal/middleware" // JWT guard and rate limiting
)

// RegisterRoutes registers routes that do not require authentication: the
// liveness and readiness checks and the Prometheus endpoint.
func RegisterRoutes(e *echo.Echo, ready map[string]handler.Pinger, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// RegisterAuth registers the credential routes.  Register, login and refresh
// live under /v1/auth behind the rate limiter; logout and test also sit there
// but require an access token, as does /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, verifier middleware.TokenVerifier, limiter echo.MiddlewareFunc) {
	requireAccess := middleware.JWTAuth(verifier)

	g := e.Group("/v1/auth")
	if limiter != nil {
		g.Use(limiter)
	}
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Rotates the refresh token; the old one stops working.
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout, requireAccess)
	g.POST("/test", a.Test, requireAccess)

	// Guarded per route so unknown /v1 paths stay 404.
	e.GET("/v1/me", a.Me, requireAccess)
}
