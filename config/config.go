// Package config loads the service configuration from environment
// variables. Every knob has a default, so a bare `loyalty-server`
// starts with the production reward policy against ./loyalty.db.
package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"

	"github.com/lealtad/loyalty-engine/ledger"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `env:",prefix=SERVER_"`
	Database DatabaseConfig `env:",prefix=DB_"`
	Rewards  RewardsConfig  `env:",prefix=REWARDS_"`
}

// ServerConfig holds the HTTP server knobs.
type ServerConfig struct {
	Host         string `env:"HOST,default=0.0.0.0"`
	Port         int    `env:"PORT,default=8080"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=15"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=15"` // seconds

	// Global request throttle; zero RateLimit disables it.
	RateLimit float64 `env:"RATE_LIMIT,default=0"` // requests per second
	RateBurst int     `env:"RATE_BURST,default=20"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `env:"PATH,default=loyalty.db"` // ":memory:" for in-memory
}

// RewardsConfig holds the reward policy. Defaults match the store's
// historical constants.
type RewardsConfig struct {
	FirstPurchaseBonus   int64 `env:"FIRST_PURCHASE_BONUS,default=20"`
	ReferralBonus        int64 `env:"REFERRAL_BONUS,default=40"`
	CouponThreshold      int64 `env:"COUPON_THRESHOLD,default=50"`
	CouponLifetimeMonths int   `env:"COUPON_LIFETIME_MONTHS,default=3"`
	CodeRetries          int   `env:"CODE_RETRIES,default=5"`

	// Horizon used by the expiring-coupons dashboard endpoint when the
	// caller does not pass one.
	ExpiryHorizonDays int `env:"EXPIRY_HORIZON_DAYS,default=45"`
}

// Load reads configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Policy converts the rewards configuration to an engine policy.
func (c *RewardsConfig) Policy() ledger.Policy {
	p := ledger.DefaultPolicy()
	p.FirstPurchaseBonus = c.FirstPurchaseBonus
	p.ReferralBonus = c.ReferralBonus
	p.CouponThreshold = c.CouponThreshold
	p.CouponLifetimeMonths = c.CouponLifetimeMonths
	p.CodeRetries = c.CodeRetries
	return p
}
