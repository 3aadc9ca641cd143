package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/streaming-auth-service/internal/config"
)

// SubjectResolver names the account behind a bearer or refresh token.
// *service.Engine implements it.
type SubjectResolver interface {
	TokenVerifier
	RefreshSubject(ctx context.Context, refreshToken string) (string, error)
}

// maxPeekBytes bounds how much of a JSON body the limiter reads to find the
// targeted email or refresh token.  Larger bodies are keyed as anonymous.
const maxPeekBytes = 64 << 10

// takeScript refills the bucket by whole intervals since the last refill,
// then takes one token if any is left.  It returns {allowed, tokens left,
// ms until the next refill}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now, capacity, refill, interval, ttl =
  tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens, last = tonumber(state[1]), tonumber(state[2])
if tokens == nil or last == nil then
  tokens, last = capacity, now
end

local elapsed = math.max(0, now - last)
local steps = math.floor(elapsed / interval)
if steps > 0 then
  tokens = math.min(capacity, tokens + steps * refill)
  last = last + steps * interval
end

local allowed, wait = 0, 0
if tokens > 0 then
  allowed, tokens = 1, tokens - 1
else
  wait = math.max(0, interval - (now - last))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last)
redis.call('PEXPIRE', key, ttl)
return {allowed, tokens, wait}
`)

type decision struct {
	allowed    bool
	remaining  int64
	retryAfter time.Duration
}

type bucket struct {
	cfg config.RateLimitConfig
	rdb *redis.Client
}

func (b bucket) take(ctx context.Context, key string, now time.Time) (decision, error) {
	vals, err := takeScript.Run(ctx, b.rdb, []string{key},
		now.UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		b.cfg.TTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return decision{}, err
	}
	if len(vals) != 3 {
		return decision{}, redis.Nil
	}
	return decision{
		allowed:    vals[0] == 1,
		remaining:  vals[1],
		retryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// NewTokenBucket throttles the credential routes with a token bucket kept in
// redis, keyed per cfg.KeyStrategy.  The limiter runs before any route guard,
// so it resolves the targeted account itself: the verified subject of a
// bearer or refresh token, or the email of a register/login body.  Requests
// it cannot attribute share the "anon" account of their IP.  Redis errors
// fail open.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, subjects SubjectResolver) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	b := bucket{cfg: cfg, rdb: rdb}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := rateKey(cfg, c, subjects)

			d, err := b.take(ctx, key, time.Now())
			if err != nil {
				if cfg.Debug {
					slog.WarnContext(ctx, "ratelimit: redis error", "key", key, "error", err)
				}
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if d.allowed {
				return next(c)
			}

			secs := int(math.Ceil(d.retryAfter.Seconds()))
			h.Set("Retry-After", strconv.Itoa(secs))
			slog.InfoContext(ctx, "ratelimit: blocked", "route", c.Path(), "strategy", cfg.KeyStrategy, "retry_after", d.retryAfter)
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too_many_requests",
				"message":     "rate limit exceeded",
				"retry_after": secs,
			})
		}
	}
}

func rateKey(cfg config.RateLimitConfig, c echo.Context, subjects SubjectResolver) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch cfg.KeyStrategy {
	case config.KeyByIP:
		parts = append(parts, "ip", ip)
	case config.KeyByAccount:
		parts = append(parts, "acct", targetAccount(c, subjects))
	default:
		parts = append(parts, "ip", ip, "acct", targetAccount(c, subjects))
	}
	parts = append(parts, "route", route)
	return strings.Join(parts, ":")
}

// targetAccount returns "sub:<id>" for a verified token, "email:<address>"
// for a credential body, or "anon".
func targetAccount(c echo.Context, subjects SubjectResolver) string {
	ctx := c.Request().Context()
	if tok, ok := BearerToken(c); ok && subjects != nil {
		if claims, err := subjects.Authenticate(ctx, tok); err == nil {
			return "sub:" + claims.Subject
		}
		if sub, err := subjects.RefreshSubject(ctx, tok); err == nil {
			return "sub:" + sub
		}
	}

	body := peekCredentials(c.Request())
	if body.RefreshToken != "" && subjects != nil {
		if sub, err := subjects.RefreshSubject(ctx, strings.TrimSpace(body.RefreshToken)); err == nil {
			return "sub:" + sub
		}
	}
	if email := strings.ToLower(strings.TrimSpace(body.Email)); email != "" {
		return "email:" + email
	}
	return "anon"
}

type credentialFields struct {
	Email        string `json:"email"`
	RefreshToken string `json:"refresh_token"`
}

// peekCredentials decodes the email and refresh_token fields of a JSON body
// and puts the bytes back so the handler can still bind it.
func peekCredentials(req *http.Request) credentialFields {
	var f credentialFields
	if req.Body == nil || req.Body == http.NoBody ||
		!strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return f
	}
	buf, err := io.ReadAll(io.LimitReader(req.Body, maxPeekBytes))
	req.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buf), req.Body))
	if err != nil || len(buf) == maxPeekBytes {
		return credentialFields{}
	}
	_ = json.Unmarshal(buf, &f)
	return f
}
