package protocol

import "time"

// Config tunes session handling.
type Config struct {
	// RequestTTL is how long a request stays answerable.
	RequestTTL time.Duration `mapstructure:"request_ttl" yaml:"request_ttl"`
	// AutoConfirm sends the confirmation as soon as a valid transaction
	// arrives.
	AutoConfirm bool `mapstructure:"auto_confirm" yaml:"auto_confirm"`
	// SweepInterval is the period of the background expiry sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	// SessionRetention is how long a finished session is kept after its last
	// change.
	SessionRetention time.Duration `mapstructure:"session_retention" yaml:"session_retention"`
	// SendRetries is how many more times a timed out transaction is sent
	// before the call returns.
	SendRetries int `mapstructure:"send_retries" yaml:"send_retries"`
	// SendBackoff is the first wait between those sends; it doubles.
	SendBackoff time.Duration `mapstructure:"send_backoff" yaml:"send_backoff"`
}

// DefaultConfig returns a five minute TTL, auto confirmation, a 30s sweep,
// a one hour retention and two resends starting at 500ms.
func DefaultConfig() Config {
	return Config{
		RequestTTL:       5 * time.Minute,
		AutoConfirm:      true,
		SweepInterval:    30 * time.Second,
		SessionRetention: time.Hour,
		SendRetries:      2,
		SendBackoff:      500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestTTL <= 0 {
		c.RequestTTL = d.RequestTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SessionRetention <= 0 {
		c.SessionRetention = d.SessionRetention
	}
	if c.SendRetries < 0 {
		c.SendRetries = 0
	}
	if c.SendBackoff <= 0 {
		c.SendBackoff = d.SendBackoff
	}
	return c
}
