package queue

import (
	"time"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
)

// RetryPolicy is the backoff applied between sync attempts.
type RetryPolicy struct {
	Initial     time.Duration `mapstructure:"initial" yaml:"initial"`
	Multiplier  int           `mapstructure:"multiplier" yaml:"multiplier"`
	Max         time.Duration `mapstructure:"max" yaml:"max"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// DefaultRetryPolicy is 1s doubling up to 60s, five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: time.Second, Multiplier: 2, Max: time.Minute, MaxAttempts: 5}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// Delay returns min(Initial * Multiplier^(attempts-1), Max). Zero attempts
// need no delay.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := p.Initial
	for i := 1; i < attempts; i++ {
		if d >= p.Max/time.Duration(p.Multiplier) {
			return p.Max
		}
		d *= time.Duration(p.Multiplier)
	}
	return min(d, p.Max)
}

// Reasons returned by ShouldRetry when a retry is not due.
const (
	ReasonSynced      = "already synced"
	ReasonSyncing     = "currently syncing"
	ReasonConflict    = "awaiting conflict resolution"
	ReasonMaxAttempts = "max attempts exceeded"
	ReasonBackoff     = "backoff not elapsed"
)

// ShouldRetry reports whether tx may be submitted at now, and why not.
func (p RetryPolicy) ShouldRetry(tx domain.OfflineTransaction, now time.Time) (bool, string) {
	switch tx.SyncStatus {
	case domaintypes.SyncSynced:
		return false, ReasonSynced
	case domaintypes.SyncSyncing:
		return false, ReasonSyncing
	case domaintypes.SyncConflict:
		return false, ReasonConflict
	}
	if tx.SyncAttempts >= p.MaxAttempts {
		return false, ReasonMaxAttempts
	}
	if tx.SyncAttempts > 0 && !tx.LastSyncAttempt.IsZero() &&
		now.Sub(tx.LastSyncAttempt) < p.Delay(tx.SyncAttempts) {
		return false, ReasonBackoff
	}
	return true, ""
}

// Exhausted reports whether tx has failed its last allowed attempt.
func (p RetryPolicy) Exhausted(tx domain.OfflineTransaction) bool {
	return tx.SyncStatus == domaintypes.SyncFailed && tx.SyncAttempts >= p.MaxAttempts
}
