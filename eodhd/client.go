// Package eodhd implements a backtest.Provider over the EOD Historical Data API.
package eodhd

import (
	"context"
	"fmt"
	"strings"

	"github.com/etnz/backtest"
	"github.com/etnz/backtest/remote"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the address of the EODHD API.
const DefaultBaseURL = "https://eodhd.com"

// Client fetches end of day prices and dividends.
type Client struct {
	apiKey   string
	baseURL  string
	exchange string // appended to symbols without one
	remote   *remote.Client
	logger   zerolog.Logger

	remoteOpts []remote.Option
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client to another server.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

// WithExchange sets the EODHD exchange code used for plain symbols, "US" by default.
func WithExchange(code string) Option { return func(c *Client) { c.exchange = code } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithRemote sets the rate limit, retries, circuit breaker or disk cache of the HTTP client.
func WithRemote(opts ...remote.Option) Option {
	return func(c *Client) { c.remoteOpts = append(c.remoteOpts, opts...) }
}

// New returns a client using apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		baseURL:  DefaultBaseURL,
		exchange: "US",
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.remote = remote.New("eodhd", append([]remote.Option{remote.WithLogger(c.logger)}, c.remoteOpts...)...)
	return c
}

// Ticker returns the EODHD ticker of symbol: "SPY" becomes "SPY.US".
func (c *Client) Ticker(symbol string) string {
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + "." + c.exchange
}

// Fetch implements backtest.Provider. A symbol without any close in r is a DataError.
func (c *Client) Fetch(ctx context.Context, symbols []string, r backtest.Range) (*backtest.MarketData, error) {
	data := backtest.NewMarketData()
	for _, symbol := range symbols {
		ticker := c.Ticker(symbol)
		prices, err := c.fetchPrices(ctx, ticker, r)
		if err != nil {
			return nil, &backtest.DataError{Symbol: symbol, Range: r, Err: err}
		}
		if len(prices) == 0 {
			return nil, &backtest.DataError{Symbol: symbol, Range: r}
		}
		dividends, err := c.fetchDividends(ctx, ticker, r)
		if err != nil {
			return nil, fmt.Errorf("cannot fetch dividends of %s: %w", symbol, err)
		}
		data.AddSeries(backtest.Series{Symbol: symbol, Prices: prices, Dividends: dividends})
		c.logger.Debug().Str("symbol", symbol).Int("prices", len(prices)).Int("dividends", len(dividends)).Msg("fetched")
	}
	return data, nil
}
