// Package remote is the HTTP plumbing shared by the market data providers: a JSON getter
// behind a rate limiter, a circuit breaker and a retry loop with exponential backoff.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// StatusError is returned for any non 200 response.
type StatusError struct {
	Code   int
	Status string
	Host   string
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot http GET %v%v: %v", e.Host, e.Path, e.Status)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client gets JSON documents from a remote API.
type Client struct {
	name       string
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint
	backoff    time.Duration
	failures   uint32
	openFor    time.Duration
	cacheDir   string
	header     http.Header
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http client, mostly for tests.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithRateLimit caps the request rate to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithRetries sets how many times a failed request is retried, and the first wait.
func WithRetries(n uint, initial time.Duration) Option {
	return func(c *Client) { c.maxRetries, c.backoff = n, initial }
}

// WithBreaker opens the circuit after failures consecutive failures, for openFor.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(c *Client) { c.failures, c.openFor = failures, openFor }
}

// WithDiskCache keeps successful responses in dir for the rest of the day.
func WithDiskCache(dir string) Option { return func(c *Client) { c.cacheDir = dir } }

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option { return func(c *Client) { c.header.Add(key, value) } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

// New returns a client named after the API it talks to.
func New(name string, opts ...Option) *Client {
	c := &Client{
		name:       name,
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: 3,
		backoff:    2 * time.Second,
		failures:   5,
		openFor:    30 * time.Second,
		header:     make(http.Header),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheDir != "" {
		if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
			c.logger.Warn().Err(err).Str("dir", c.cacheDir).Msg("disk cache disabled")
		} else {
			base := c.http.Transport
			if base == nil {
				base = http.DefaultTransport
			}
			h := *c.http
			h.Transport = &diskCache{base: base, dir: c.cacheDir, logger: c.logger}
			c.http = &h
		}
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     c.openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.failures
		},
		// a rejected request says nothing about the health of the API
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && !se.Temporary())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c
}

// GetJSON performs an HTTP GET request to addr and unmarshals the JSON response body into data.
// Temporary failures are retried with an exponential backoff.
func (c *Client) GetJSON(ctx context.Context, addr string, data any) error {
	operation := func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, jwget(ctx, c.http, c.header, addr, data)
		})
		var se *StatusError
		switch {
		case err == nil:
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return struct{}{}, backoff.Permanent(fmt.Errorf("%s: %w", c.name, err))
		case errors.As(err, &se) && !se.Temporary():
			return struct{}{}, backoff.Permanent(err)
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxRetries+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn().Err(err).Str("api", c.name).Dur("wait", wait).Msg("request failed, will retry")
		}),
	)
	return err
}

// jwget performs an HTTP GET request to the given address and unmarshals the
// JSON response body into the provided data structure. It uses the provided
// http.Client for the request.
func jwget(ctx context.Context, client *http.Client, header http.Header, addr string, data any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Host: req.URL.Host, Path: req.URL.Path}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, data); err != nil {
		return fmt.Errorf("cannot decode %v%v: %w", req.URL.Host, req.URL.Path, err)
	}
	return nil
}
