package netstatus

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"offpay/internal/domain"
	"offpay/internal/logging"
)

// DefaultHealthInterval is used when the interval is not positive.
const DefaultHealthInterval = 15 * time.Second

// Checker checks a health URL on an interval. Any 2xx answer means online.
// It starts offline until the first check succeeds.
type Checker struct {
	*notifier
	url      string
	client   *http.Client
	interval time.Duration
	log      *zap.Logger
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) CheckerOption { return func(p *Checker) { p.log = l } }

// WithHTTPClient overrides the client; its Timeout bounds each check.
func WithHTTPClient(c *http.Client) CheckerOption { return func(p *Checker) { p.client = c } }

// NewChecker returns a Checker for url.
func NewChecker(url string, interval time.Duration, opts ...CheckerOption) *Checker {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	p := &Checker{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logging.OrNop(p.log).With(zap.String("component", "netstatus"))
	p.notifier = newNotifier(false, p.log)
	return p
}

// Check performs one check, updates the state and returns it.
func (p *Checker) Check(ctx context.Context) bool {
	online := p.reachable(ctx)
	p.set(online)
	return online
}

func (p *Checker) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.log.Warn("invalid health url", zap.String("url", p.url), zap.Error(err))
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Run checks immediately and then every interval until ctx is done.
func (p *Checker) Run(ctx context.Context) {
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

var _ domain.NetworkMonitor = (*Checker)(nil)
