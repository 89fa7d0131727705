// Package yahoo implements a backtest.Provider over the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/backtest"
	"github.com/etnz/backtest/remote"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the address of the chart API.
const DefaultBaseURL = "https://query1.finance.yahoo.com"

// closes are sent as float32 noise, like 472.6499938964844.
const closePlaces = 4

// Client fetches daily closes and dividends from the chart API.
type Client struct {
	baseURL string
	remote  *remote.Client
	logger  zerolog.Logger
}

// New returns a client. The remote options set the rate limit, retries, circuit breaker and
// disk cache of the underlying HTTP client.
func New(baseURL string, logger zerolog.Logger, opts ...remote.Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	opts = append([]remote.Option{
		remote.WithLogger(logger),
		// the API rejects clients that do not look like a browser
		remote.WithHeader("User-Agent", "Mozilla/5.0 (compatible; etfbt)"),
	}, opts...)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		remote:  remote.New("yahoo", opts...),
		logger:  logger,
	}
}

/*
	{
	  "chart": {
	    "result": [{
	      "meta": {"currency": "USD", "symbol": "SPY", "gmtoffset": -18000, ...},
	      "timestamp": [1704205800, 1704292200],
	      "events": {"dividends": {"1702650600": {"amount": 1.906, "date": 1702650600}}},
	      "indicators": {"quote": [{"close": [472.6499938964844, null], ...}]}
	    }],
	    "error": null
	  }
	}
*/
func (c *Client) chart(ctx context.Context, symbol string, r backtest.Range) (backtest.Series, error) {
	// period2 is exclusive
	addr := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d&events=div",
		c.baseURL, url.PathEscape(symbol), r.From.Time().Unix(), r.To.Add(1).Time().Unix())

	var jobj any
	if err := c.remote.GetJSON(ctx, addr, &jobj); err != nil {
		return backtest.Series{}, err
	}
	if msg, err := jsonpath.Get("$.chart.error.description", jobj); err == nil {
		if s, ok := msg.(string); ok && s != "" {
			return backtest.Series{}, fmt.Errorf("chart %s: %s", symbol, s)
		}
	}

	offset := time.Duration(0)
	if v, err := jsonpath.Get("$.chart.result[0].meta.gmtoffset", jobj); err == nil {
		if f, ok := v.(float64); ok {
			offset = time.Duration(f) * time.Second
		}
	}
	// a timestamp is the market open, in UTC: shift it to the exchange day
	dayOf := func(ts float64) backtest.Date {
		return backtest.DateOf(time.Unix(int64(ts), 0).UTC().Add(offset))
	}

	s := backtest.Series{Symbol: symbol}
	timestamps, err := list(jobj, "$.chart.result[0].timestamp")
	if err != nil {
		// no trading day in range
		return s, nil
	}
	closes, err := list(jobj, "$.chart.result[0].indicators.quote[0].close")
	if err != nil {
		return s, fmt.Errorf("chart %s: %w", symbol, err)
	}
	for i, ts := range timestamps {
		if i >= len(closes) {
			break
		}
		t, ok1 := ts.(float64)
		v, ok2 := closes[i].(float64)
		if !ok1 || !ok2 || v <= 0 {
			continue // null close on halted days
		}
		on := dayOf(t)
		if !r.Contains(on) {
			continue
		}
		s.Prices = append(s.Prices, backtest.Point{Date: on, Value: decimal.NewFromFloat(v).Round(closePlaces)})
	}

	if divs, err := jsonpath.Get("$.chart.result[0].events.dividends", jobj); err == nil {
		if m, ok := divs.(map[string]any); ok {
			for _, d := range m {
				amount, err1 := jsonpath.Get("$.amount", d)
				date, err2 := jsonpath.Get("$.date", d)
				a, ok1 := amount.(float64)
				t, ok2 := date.(float64)
				if err1 != nil || err2 != nil || !ok1 || !ok2 || a <= 0 {
					continue
				}
				on := dayOf(t)
				if r.Contains(on) {
					s.Dividends = append(s.Dividends, backtest.Point{Date: on, Value: decimal.NewFromFloat(a)})
				}
			}
			sort.Slice(s.Dividends, func(i, j int) bool { return s.Dividends[i].Date.Before(s.Dividends[j].Date) })
		}
	}
	return s, nil
}

// list returns the JSON array at path.
func list(jobj any, path string) ([]any, error) {
	v, err := jsonpath.Get(path, jobj)
	if err != nil {
		return nil, err
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s is not a list: %T", path, v)
	}
	return l, nil
}

// Fetch implements backtest.Provider.
func (c *Client) Fetch(ctx context.Context, symbols []string, r backtest.Range) (*backtest.MarketData, error) {
	data := backtest.NewMarketData()
	for _, symbol := range symbols {
		s, err := c.chart(ctx, symbol, r)
		if err != nil {
			return nil, &backtest.DataError{Symbol: symbol, Range: r, Err: err}
		}
		if len(s.Prices) == 0 {
			return nil, &backtest.DataError{Symbol: symbol, Range: r}
		}
		data.AddSeries(s)
		c.logger.Debug().Str("symbol", symbol).Int("prices", len(s.Prices)).Int("dividends", len(s.Dividends)).Msg("fetched")
	}
	return data, nil
}
