package config

import (
	"strings"
	"time"
)

// Rate-limit key strategies.  The account is the one a request targets: the
// submitted email on register and login, the verified subject of the refresh
// or access token otherwise.
const (
	KeyByIP        = "ip"         // client IP and route
	KeyByAccount   = "account"    // targeted account and route, across all IPs
	KeyByIPAccount = "ip_account" // client IP, targeted account and route
)

// RateLimitConfig configures the redis token bucket in front of the
// credential endpoints.  Login and register are the brute-force surface, so
// the default strategy keys on client IP and the targeted account.
type RateLimitConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"true"`
	Capacity       int           `env:"CAPACITY" envDefault:"10"`
	RefillTokens   int           `env:"REFILL_TOKENS" envDefault:"1"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"6s"`
	TTL            time.Duration `env:"TTL" envDefault:"10m"`
	KeyStrategy    string        `env:"KEY_STRATEGY" envDefault:"ip_account"`
	Prefix         string        `env:"PREFIX" envDefault:"rl:auth"`
	Debug          bool          `env:"DEBUG" envDefault:"false"`
	Burst          int           `env:"BURST" envDefault:"-1"`
	RefillEvery    time.Duration `env:"REFILL_EVERY" envDefault:"0s"`
}

func (c RateLimitConfig) normalize() RateLimitConfig {
	if c.Burst > 0 {
		c.Capacity = c.Burst
	}
	if c.RefillEvery > 0 {
		c.RefillTokens = 1
		c.RefillInterval = c.RefillEvery
	}
	switch c.KeyStrategy = strings.ToLower(strings.TrimSpace(c.KeyStrategy)); c.KeyStrategy {
	case KeyByIP, KeyByAccount, KeyByIPAccount:
	default:
		c.KeyStrategy = KeyByIPAccount
	}
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	minTTL := 5 * c.RefillInterval
	if c.TTL < minTTL {
		c.TTL = minTTL
	}
	return c
}
