package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/streaming-auth-service/internal/metrics"
)

// Metrics counts every response by method, route template and status.  The
// route template (c.Path) is used instead of the URL to keep label
// cardinality bounded.
func Metrics(m *metrics.HTTP) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.Inc(c.Request().Method, route, strconv.Itoa(status))
			return err
		}
	}
}
