package handler // declare the package name; contains HTTP handlers

import (
	"context"  // bounded readiness check
	"net/http" // net/http provides status codes and response helpers
	"time"     // check timeout

	"github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Health is a simple health-check endpoint used by load balancers and
// monitoring systems to verify that the service is running.  It returns
// a plain text "ok" message with an HTTP 200 status code.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Pinger is anything whose connectivity can be checked: the SQL pool, the pgx
// pool or the redis client adapter.
type Pinger func(ctx context.Context) error

// Ready reports 503 until every named dependency answers its ping.
func Ready(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := make(map[string]string, len(deps))
		for name, ping := range deps {
			if err := ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = "down"
				continue
			}
			out[name] = "up"
		}
		return c.JSON(status, out)
	}
}
