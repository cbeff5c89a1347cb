package protocol

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"offpay/internal/domain"
)

// DefaultFetchLimit caps the envelopes pulled per DrainInbox call.
const DefaultFetchLimit = 50

// DefaultPollInterval is used by Listen when interval is not positive.
const DefaultPollInterval = 2 * time.Second

// DrainInbox fetches pending envelopes for the local device, handles each
// one and acknowledges the batch. Handler errors are logged and do not stop
// the batch; the count of envelopes fetched is returned.
func (s *Service) DrainInbox(ctx context.Context, inbox domain.Inbox) (int, error) {
	envs, err := inbox.Fetch(ctx, s.self, DefaultFetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch inbox: %w", err)
	}
	if len(envs) == 0 {
		return 0, nil
	}
	for _, env := range envs {
		if err := s.HandleMessage(ctx, env); err != nil {
			s.log.Warn("inbound message failed",
				zap.String("kind", string(env.Kind)), zap.String("from", string(env.From)), zap.Error(err))
		}
	}
	if err := inbox.Ack(ctx, s.self, len(envs)); err != nil {
		return len(envs), fmt.Errorf("ack inbox: %w", err)
	}
	return len(envs), nil
}

// Listen drains the inbox every interval until ctx is done.
func (s *Service) Listen(ctx context.Context, inbox domain.Inbox, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.DrainInbox(ctx, inbox); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("inbox poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
