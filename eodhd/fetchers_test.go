package eodhd

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/etnz/backtest"
	"github.com/etnz/backtest/remote"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	c := New("TEST", WithRemote(
		remote.WithHTTPClient(&http.Client{Transport: transport}),
		remote.WithRetries(1, time.Millisecond),
	))
	return c, transport
}

var window = backtest.NewRange(backtest.NewDate(2024, 1, 1), backtest.NewDate(2024, 1, 31))

func TestClient_Fetch(t *testing.T) {
	c, transport := newMockClient(t)
	transport.RegisterResponder(http.MethodGet,
		"https://eodhd.com/api/eod/SPY.US?fmt=json&api_token=TEST&from=2024-01-01&to=2024-01-31",
		httpmock.NewStringResponder(200, `[
			{"date": "2024-01-02", "open": 472.16, "close": 472.65, "adjusted_close": 466.1, "volume": 123},
			{"date": "2024-01-03", "open": 470.43, "close": 468.79, "adjusted_close": 462.3, "volume": 456}
		]`))
	transport.RegisterResponder(http.MethodGet,
		"https://eodhd.com/api/div/SPY.US?fmt=json&api_token=TEST&from=2024-01-01&to=2024-01-31",
		httpmock.NewStringResponder(200, `[{"date": "2024-01-02", "value": 1.9, "currency": "USD"}]`))

	data, err := c.Fetch(context.Background(), []string{"SPY"}, window)
	require.NoError(t, err)

	days := data.TradingDays("SPY", window)
	assert.Equal(t, []backtest.Date{backtest.NewDate(2024, 1, 2), backtest.NewDate(2024, 1, 3)}, days)
	price, ok := data.PriceOn("SPY", backtest.NewDate(2024, 1, 3))
	require.True(t, ok)
	assert.Equal(t, "468.79", price.String())

	divs := data.DividendsIn("SPY", window)
	require.Len(t, divs, 1)
	assert.Equal(t, "1.90", divs[0].PerShare.String())
}

func TestClient_FetchEmptySeries(t *testing.T) {
	c, transport := newMockClient(t)
	transport.RegisterRegexpResponder(http.MethodGet, regexp.MustCompile(`/api/eod/`), httpmock.NewStringResponder(200, `[]`))

	_, err := c.Fetch(context.Background(), []string{"NOPE"}, window)
	assert.True(t, errors.Is(err, backtest.ErrDataUnavailable), "got %v", err)
	var de *backtest.DataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "NOPE", de.Symbol)
}

func TestClient_FetchUnknownTicker(t *testing.T) {
	c, transport := newMockClient(t)
	transport.RegisterRegexpResponder(http.MethodGet, regexp.MustCompile(`/api/eod/`), httpmock.NewStringResponder(404, `Ticker Not Found.`))

	_, err := c.Fetch(context.Background(), []string{"NOPE"}, window)
	assert.ErrorIs(t, err, backtest.ErrDataUnavailable)
	assert.Equal(t, 1, transport.GetTotalCallCount(), "a 404 is not retried")
}

func TestClient_Ticker(t *testing.T) {
	c := New("TEST", WithExchange("XETRA"))
	assert.Equal(t, "EUNL.XETRA", c.Ticker("EUNL"))
	assert.Equal(t, "SPY.US", c.Ticker("SPY.US"))
}
