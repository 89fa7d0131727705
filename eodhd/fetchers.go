package eodhd

import (
	"context"
	"fmt"
	"net/url"

	"github.com/etnz/backtest"
	"github.com/shopspring/decimal"
)

// This file contains functions to access the EODHD API.

// fetchPrices returns the daily closes of an EODHD ticker within r.
// The EODHD ticker format is typically "SYMBOL.EXCHANGECODE".
func (c *Client) fetchPrices(ctx context.Context, ticker string, r backtest.Range) ([]backtest.Point, error) {
	// https://eodhd.com/api/eod/MCD.US?api_token=demo&fmt=json
	// [
	//	{
	//		"date": "2024-02-13",
	//		"open": 675.066,
	//		"high": 684.219,
	//		"low": 648.659,
	//		"close": 668.445,
	//		"adjusted_close": 67.705,
	//		"volume": 0
	//	  },
	//
	// bounds are included in the response.
	addr := fmt.Sprintf("%s/api/eod/%s?fmt=json&api_token=%s&from=%s&to=%s", c.baseURL, url.PathEscape(ticker), c.apiKey, r.From, r.To)
	type Info struct {
		Date  backtest.Date   `json:"date"`
		Close decimal.Decimal `json:"close"`
	}

	// that's the payload
	content := make([]Info, 0)
	if err := c.remote.GetJSON(ctx, addr, &content); err != nil {
		return nil, err
	}

	points := make([]backtest.Point, 0, len(content))
	for _, info := range content {
		if info.Date.IsZero() || !info.Close.IsPositive() {
			continue
		}
		points = append(points, backtest.Point{Date: info.Date, Value: info.Close})
	}
	return points, nil
}

// fetchDividends returns the dividend history of an EODHD ticker within r.
func (c *Client) fetchDividends(ctx context.Context, ticker string, r backtest.Range) ([]backtest.Point, error) {
	addr := fmt.Sprintf("%s/api/div/%s?fmt=json&api_token=%s&from=%s&to=%s", c.baseURL, url.PathEscape(ticker), c.apiKey, r.From, r.To)

	type apiDividend struct {
		Date     backtest.Date   `json:"date"` // ex-dividend date, see https://eodhd.com/financial-apis/api-splits-dividends
		Value    decimal.Decimal `json:"value"`
		Currency string          `json:"currency"`
	}

	content := make([]apiDividend, 0)
	if err := c.remote.GetJSON(ctx, addr, &content); err != nil {
		return nil, err
	}

	points := make([]backtest.Point, 0, len(content))
	for _, d := range content {
		if d.Date.IsZero() || !d.Value.IsPositive() {
			continue
		}
		points = append(points, backtest.Point{Date: d.Date, Value: d.Value})
	}
	return points, nil
}
