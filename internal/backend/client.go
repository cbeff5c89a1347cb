package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"offpay/internal/domain"
	"offpay/internal/logging"
)

// BreakerConfig tunes the client's circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests" yaml:"max_requests"`
	Interval            time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures" yaml:"consecutive_failures"`
}

// ClientConfig locates and authenticates against a backend.
type ClientConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// DefaultClientConfig opens the breaker after five consecutive failures and
// tries again after 30s.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: 10 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

// StatusError is a non-2xx answer other than a conflict.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("backend: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

// rejected reports whether err is the backend refusing the request, as
// opposed to the backend being unhealthy.
func rejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

// Client submits ledger entries to a backend over HTTP.
type Client struct {
	base    string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption { return func(c *Client) { c.log = l } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

// NewClient returns a Client for cfg.URL.
func NewClient(cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("backend url is required")
	}
	d := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = d.Breaker.ConsecutiveFailures
	}
	if cfg.Breaker.MaxRequests == 0 {
		cfg.Breaker.MaxRequests = d.Breaker.MaxRequests
	}
	if cfg.Breaker.Timeout <= 0 {
		cfg.Breaker.Timeout = d.Breaker.Timeout
	}

	c := &Client{
		base:  strings.TrimRight(cfg.URL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.OrNop(c.log).With(zap.String("component", "backend"))

	bc := cfg.Breaker
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || rejected(err)
		},
	})
	return c, nil
}

// State returns the breaker state ("closed", "open" or "half-open").
func (c *Client) State() string { return c.breaker.State().String() }

// Submit posts tx. A 409 answer is returned as a conflict result with the
// server's version, not as an error.
func (c *Client) Submit(
	ctx context.Context,
	tx domain.OfflineTransaction,
	opts domain.SubmitOptions,
) (domain.SubmitResult, error) {
	out, err := c.execute(func() (any, error) {
		var res domain.SubmitResult
		code, err := c.do(ctx, http.MethodPost, "/v1/transactions",
			SubmitRequest{Transaction: tx, Force: opts.Force}, &res, http.StatusConflict)
		if err != nil {
			return nil, err
		}
		if code == http.StatusConflict {
			res.Conflict = true
			res.Accepted = false
		}
		return res, nil
	})
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return out.(domain.SubmitResult), nil
}

// Get fetches the backend's version of transaction id as seen by the
// authenticated device.
func (c *Client) Get(ctx context.Context, id string) (domain.OfflineTransaction, error) {
	out, err := c.execute(func() (any, error) {
		var tx domain.OfflineTransaction
		if _, err := c.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(id), nil, &tx); err != nil {
			return nil, err
		}
		return tx, nil
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return domain.OfflineTransaction{}, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
		}
		return domain.OfflineTransaction{}, err
	}
	return out.(domain.OfflineTransaction), nil
}

func (c *Client) execute(fn func() (any, error)) (any, error) {
	out, err := c.breaker.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return nil, fmt.Errorf("backend unavailable (circuit breaker open): %w", err)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("backend recovering (too many requests): %w", err)
	}
	return out, err
}

// do sends one request and decodes a 2xx (or an allowed) answer into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any, allow ...int) (int, error) {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return 0, err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, wrapTimeout(err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode/100 == 2
	for _, code := range allow {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		var eb struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&eb)
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Message: eb.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func wrapTimeout(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrTransportTimeout, err)
	}
	return err
}

var _ domain.Backend = (*Client)(nil)
