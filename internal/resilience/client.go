package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Resilient download errors.
var (
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrUnexpectedStatus   = errors.New("unexpected response status")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// ClientConfig holds configuration for a Client.
type ClientConfig struct {
	Name   string
	Logger zerolog.Logger

	// Timeout covers the whole response including the body. Large network
	// files need generous values. Default: 10 minutes
	Timeout time.Duration

	// MaxRetries after the first attempt. Default: 3
	MaxRetries uint64

	// InitialInterval of the exponential backoff. Default: 500ms
	InitialInterval time.Duration

	// MaxInterval of the exponential backoff. Default: 30 seconds
	MaxInterval time.Duration

	Breaker *BreakerConfig

	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper

	// CheckRedirect vets redirects. Nil follows up to ten.
	CheckRedirect func(req *http.Request, via []*http.Request) error
}

// Client downloads inputs over HTTP with retries and a circuit breaker.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	config  ClientConfig
	logger  zerolog.Logger
}

// NewClient creates a Client, filling in defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	breakerCfg := DefaultBreakerConfig(cfg.Name)
	if cfg.Breaker != nil {
		breakerCfg = *cfg.Breaker
	}

	return &Client{
		http: &http.Client{
			Timeout:       cfg.Timeout,
			Transport:     cfg.Transport,
			CheckRedirect: cfg.CheckRedirect,
		},
		breaker: newBreaker[*http.Response](breakerCfg), //nolint:bodyclose // type param, not response
		config:  cfg,
		logger:  cfg.Logger.With().Str("client", cfg.Name).Logger(),
	}
}

// Get fetches url. Network errors and 5xx responses are retried with
// exponential backoff; any other non-2xx status fails immediately. The caller
// closes the returned body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var resp *http.Response
	attempt := func() error {
		r, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // closed below or by caller
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			r, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 {
				r.Body.Close()
				return nil, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(ErrCircuitOpen)
		case err != nil:
			return err
		}

		if r.StatusCode < 200 || r.StatusCode > 299 {
			r.Body.Close()
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrUnexpectedStatus, r.Status))
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("url", url).Dur("retry_in", wait).Msg("download failed, retrying")
	}

	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		var se *ServerError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, err)
		}
		return nil, err
	}
	return resp, nil
}

// ServerError is a 5xx response.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Counts returns the breaker counters.
func (c *Client) Counts() gobreaker.Counts {
	return c.breaker.Counts()
}
