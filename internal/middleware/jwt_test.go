package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/streaming-auth-service/internal/metrics"
	"github.com/iliyamo/streaming-auth-service/internal/utils"
)

type stubVerifier map[string]utils.Claims

func (s stubVerifier) Authenticate(_ context.Context, tok string) (utils.Claims, error) {
	if c, ok := s[tok]; ok {
		return c, nil
	}
	return utils.Claims{}, errors.New("invalid token")
}

func TestJWTAuth(t *testing.T) {
	v := stubVerifier{"good": {Subject: "u-1", Email: "a@x.com"}}
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"id": UserID(c), "email": Email(c)})
	}, JWTAuth(v))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"good token", "Bearer good", http.StatusOK},
		{"lowercase scheme", "bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusOK {
				assert.JSONEq(t, `{"id":"u-1","email":"a@x.com"}`, rec.Body.String())
			}
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := echo.New()
	e.Use(Metrics(metrics.NewHTTP(reg)))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/healthz", "/healthz", "/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	count, err := testutil.GatherAndCount(reg, "http_requests_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count, "one series for /healthz 200 and one for the 404")
}
