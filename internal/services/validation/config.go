package validation

import (
	"time"

	"offpay/internal/domain"
)

// Config bounds the rules applied by Service. Amounts are minor units.
type Config struct {
	MinAmount          domain.Amount `mapstructure:"min_amount" yaml:"min_amount"`
	MaxAmount          domain.Amount `mapstructure:"max_amount" yaml:"max_amount"`
	WarnAmount         domain.Amount `mapstructure:"warn_amount" yaml:"warn_amount"`
	MaxFutureSkew      time.Duration `mapstructure:"max_future_skew" yaml:"max_future_skew"`
	MaxAge             time.Duration `mapstructure:"max_age" yaml:"max_age"`
	StaleSyncAge       time.Duration `mapstructure:"stale_sync_age" yaml:"stale_sync_age"`
	RequireSignature   bool          `mapstructure:"require_signature" yaml:"require_signature"`
	RequireTrustedPeer bool          `mapstructure:"require_trusted_peer" yaml:"require_trusted_peer"`
}

// DefaultConfig returns the standard limits: 0.01 to 10000.00, a warning
// above 1000.00, 60s of future skew, 5m maximum message age.
func DefaultConfig() Config {
	return Config{
		MinAmount:        1,
		MaxAmount:        1_000_000,
		WarnAmount:       100_000,
		MaxFutureSkew:    60 * time.Second,
		MaxAge:           5 * time.Minute,
		StaleSyncAge:     24 * time.Hour,
		RequireSignature: true,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinAmount <= 0 {
		c.MinAmount = d.MinAmount
	}
	if c.MaxAmount <= 0 {
		c.MaxAmount = d.MaxAmount
	}
	if c.WarnAmount <= 0 {
		c.WarnAmount = d.WarnAmount
	}
	if c.MaxFutureSkew <= 0 {
		c.MaxFutureSkew = d.MaxFutureSkew
	}
	if c.MaxAge <= 0 {
		c.MaxAge = d.MaxAge
	}
	if c.StaleSyncAge <= 0 {
		c.StaleSyncAge = d.StaleSyncAge
	}
	return c
}
