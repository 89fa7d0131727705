package backtest

import (
	"context"
)

// Provider supplies the closing prices and dividends of symbols over a window.
//
// Implementations must return a DataError (see ErrDataUnavailable) when a requested symbol
// has no price at all within r. Retries, caching and rate limiting are the provider's business:
// the engine calls Fetch once per run and never retries.
type Provider interface {
	Fetch(ctx context.Context, symbols []string, r Range) (*MarketData, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, symbols []string, r Range) (*MarketData, error)

func (f ProviderFunc) Fetch(ctx context.Context, symbols []string, r Range) (*MarketData, error) {
	return f(ctx, symbols, r)
}

// StaticProvider serves market data already in memory.
type StaticProvider struct {
	Data *MarketData
}

func (p StaticProvider) Fetch(ctx context.Context, symbols []string, r Range) (*MarketData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := p.Data
	if data == nil {
		data = NewMarketData()
	}
	res := NewMarketData()
	for _, s := range symbols {
		res.AddSeries(data.Series(s, r))
	}
	if err := res.Check(symbols, r); err != nil {
		return nil, err
	}
	return res, nil
}
