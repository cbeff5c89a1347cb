package netstatus

import (
	"go.uber.org/zap"

	"offpay/internal/domain"
	"offpay/internal/logging"
)

// Manual is a NetworkMonitor whose state is set by the caller.
type Manual struct {
	*notifier
}

// NewManual returns a Manual starting in the given state.
func NewManual(online bool, log *zap.Logger) *Manual {
	return &Manual{notifier: newNotifier(online, logging.OrNop(log).With(zap.String("component", "netstatus")))}
}

// Set changes the state and notifies subscribers if it differs.
func (m *Manual) Set(online bool) { m.set(online) }

var _ domain.NetworkMonitor = (*Manual)(nil)
