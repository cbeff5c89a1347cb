package sync

import (
	"time"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
)

// Config tunes the synchronizer.
type Config struct {
	Interval      time.Duration         `mapstructure:"interval" yaml:"interval"`
	BatchSize     int                   `mapstructure:"batch_size" yaml:"batch_size"`
	Policy        domain.ConflictPolicy `mapstructure:"conflict_policy" yaml:"conflict_policy"`
	SubmitTimeout time.Duration         `mapstructure:"submit_timeout" yaml:"submit_timeout"`
}

// DefaultConfig syncs every minute in batches of ten and adopts the server
// version on conflict.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Minute,
		BatchSize:     10,
		Policy:        domaintypes.PolicyUseServer,
		SubmitTimeout: 15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if !c.Policy.IsValid() {
		c.Policy = d.Policy
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	return c
}
