package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runEngine(t *testing.T, market *MarketData, cfg Config) *Result {
	t.Helper()
	res, err := NewEngine(StaticProvider{Data: market}).Run(context.Background(), cfg)
	require.NoError(t, err)
	return res
}

func TestEngine_FlatMarket(t *testing.T) {
	r := Range{day(2023, time.January, 1), day(2023, time.December, 31)}
	market := flatMarket(r, map[string]float64{"A": 100, "B": 50})
	cfg := zeroCostConfig(Allocation{{"A", 0.5}, {"B", 0.5}}, r.From, r.To)

	res := runEngine(t, market, cfg)

	assert.True(t, res.Final.Equal(USD(100_000)), "Final = %v, want $100,000.00", res.Final)
	assert.Zero(t, res.TotalReturn)
	assert.Zero(t, res.Volatility)
	assert.Zero(t, res.Sharpe)
	assert.Zero(t, res.MaxDrawdown)

	var initial, others []RebalanceEvent
	for _, e := range res.Rebalances {
		if e.InitialPurchase {
			initial = append(initial, e)
		} else {
			others = append(others, e)
		}
	}
	require.Len(t, initial, 1)
	assert.Equal(t, day(2023, time.January, 2), initial[0].Date)
	require.Len(t, initial[0].Trades, 2)
	assert.True(t, initial[0].Trades[0].Shares.Equal(Q(500)))
	assert.True(t, initial[0].Trades[1].Shares.Equal(Q(1000)))

	wantDates := []Date{day(2023, time.January, 2), day(2023, time.April, 3), day(2023, time.July, 3), day(2023, time.October, 2)}
	var gotDates []Date
	for _, e := range others {
		gotDates = append(gotDates, e.Date)
		assert.Empty(t, e.Trades, "nothing to trade on %s", e.Date)
	}
	assert.Equal(t, wantDates, gotDates)

	require.NotEmpty(t, res.Snapshots)
	assert.Equal(t, r.From, res.Snapshots[0].Date, "first snapshot at start")
	assert.Equal(t, r.To, res.Snapshots[len(res.Snapshots)-1].Date, "last snapshot at end")
}

func TestEngine_NoBoundaryDoesNotFetch(t *testing.T) {
	provider := ProviderFunc(func(context.Context, []string, Range) (*MarketData, error) {
		assert.Fail(t, "the provider must not be called")
		return nil, errors.New("unexpected")
	})
	d := day(2023, time.February, 15)
	cfg := zeroCostConfig(Allocation{{"A", 1}}, d, d)

	res, err := NewEngine(provider).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Snapshots)
	assert.Empty(t, res.Rebalances)
	assert.True(t, res.Final.Equal(USD(100_000)))
	assert.Zero(t, res.CAGR)
}

func TestEngine_Dividend(t *testing.T) {
	r := Range{day(2023, time.January, 1), day(2023, time.December, 31)}
	market := flatMarket(r, map[string]float64{"A": 100})
	market.AddDividend("A", day(2023, time.May, 15), decimal.RequireFromString("0.10"))
	cfg := zeroCostConfig(Allocation{{"A", 1}}, r.From, r.To)
	cfg.DividendTaxRate = 0.15

	res := runEngine(t, market, cfg)

	require.Len(t, res.Dividends, 1)
	d := res.Dividends[0]
	assert.Equal(t, day(2023, time.May, 15), d.Date)
	assert.True(t, d.Gross.Equal(USD(100)), "gross = %v", d.Gross)
	assert.True(t, d.Tax.Equal(USD(15)), "tax = %v", d.Tax)
	assert.True(t, d.Net.Equal(USD(85)), "net = %v", d.Net)

	var july *RebalanceEvent
	for i, e := range res.Rebalances {
		if e.Date == day(2023, time.July, 3) {
			july = &res.Rebalances[i]
		}
	}
	require.NotNil(t, july, "no rebalance on the first trading day of July")
	assert.True(t, july.ValueBefore.Equal(USD(100_085)), "value before = %v", july.ValueBefore)
	require.Len(t, july.Trades, 1)
	assert.True(t, july.Trades[0].Value.Equal(USD(85)), "reinvested = %v", july.Trades[0].Value)

	assert.True(t, res.Final.Equal(USD(100_085)))
	assert.True(t, res.TotalDividendTax.Equal(USD(15)))
	assert.True(t, res.TotalDividendNet.Equal(USD(85)))
	assert.True(t, res.Snapshots[len(res.Snapshots)-1].CumulativeTax.Equal(USD(15)))
}

func TestEngine_DividendOnRebalanceDayCountedOnce(t *testing.T) {
	r := Range{day(2023, time.January, 1), day(2023, time.December, 31)}
	market := flatMarket(r, map[string]float64{"A": 100})
	market.AddDividend("A", day(2023, time.April, 3), decimal.RequireFromString("0.10"))
	cfg := zeroCostConfig(Allocation{{"A", 1}}, r.From, r.To)

	res := runEngine(t, market, cfg)

	require.Len(t, res.Dividends, 1)
	assert.True(t, res.TotalDividendNet.Equal(USD(100)))
}

func TestEngine_NoDividendBeforeInitialPurchase(t *testing.T) {
	// the first boundary is Apr 1, a Saturday: the portfolio is bought on Apr 3
	r := Range{day(2023, time.February, 15), day(2023, time.December, 31)}
	market := flatMarket(r, map[string]float64{"A": 100})
	market.AddDividend("A", day(2023, time.March, 1), decimal.NewFromInt(1))
	market.AddDividend("A", day(2023, time.April, 3), decimal.NewFromInt(1))
	market.AddDividend("A", day(2023, time.May, 15), decimal.RequireFromString("0.10"))
	cfg := zeroCostConfig(Allocation{{"A", 1}}, r.From, r.To)

	res := runEngine(t, market, cfg)

	require.NotEmpty(t, res.Rebalances)
	require.True(t, res.Rebalances[0].InitialPurchase)
	assert.Equal(t, day(2023, time.April, 3), res.Rebalances[0].Date)

	require.Len(t, res.Dividends, 1, "only the dividend going ex after the purchase is received")
	d := res.Dividends[0]
	assert.Equal(t, day(2023, time.May, 15), d.Date)
	assert.True(t, d.Shares.Equal(Q(1000)), "shares = %v", d.Shares)
	assert.True(t, d.Gross.Equal(USD(100)), "gross = %v", d.Gross)
	assert.True(t, res.Final.Equal(USD(100_100)), "final = %v", res.Final)
}

func TestEngine_CapitalGainsTaxIsPaidNextYear(t *testing.T) {
	r := Range{day(2023, time.January, 1), day(2024, time.June, 30)}
	market := flatMarket(r, map[string]float64{"A": 100, "B": 100})
	for _, d := range weekdays(Range{day(2023, time.March, 1), r.To}) {
		market.AddPrice("A", d, decimal.NewFromInt(200))
	}
	cfg := zeroCostConfig(Allocation{{"A", 0.5}, {"B", 0.5}}, r.From, r.To)
	cfg.CapitalGainsTaxRate = 0.22
	cfg.CapitalGainsExemption = 2000

	res := runEngine(t, market, cfg)

	// Apr 3 2023: 150,000 split in two, 125 A sold with a 100 gain each
	var april *RebalanceEvent
	for i, e := range res.Rebalances {
		if e.Date == day(2023, time.April, 3) {
			april = &res.Rebalances[i]
		}
	}
	require.NotNil(t, april)
	assert.True(t, april.CapitalGain.Equal(USD(12_500)), "gain = %v", april.CapitalGain)

	var gains []TaxEvent
	for _, e := range res.Taxes {
		if e.Kind == CapitalGainsTax {
			gains = append(gains, e)
		}
	}
	require.Len(t, gains, 1)
	assert.Equal(t, day(2023, time.December, 31), gains[0].Date)
	assert.True(t, gains[0].Tax.Equal(USD(2310)), "tax = %v", gains[0].Tax)

	require.Len(t, res.TaxPayments, 1)
	p := res.TaxPayments[0]
	assert.Equal(t, day(2024, time.January, 1), p.Date)
	assert.Equal(t, 2023, p.Year)
	assert.True(t, p.FromCash.IsZero())
	assert.True(t, p.FromLiquidation.Equal(USD(2310)), "liquidated = %v", p.FromLiquidation)
	assert.True(t, p.Shortfall.IsZero())

	assert.True(t, res.Final.Equal(USD(147_690)), "final = %v", res.Final)
	assert.True(t, res.TotalCapitalGainsTax.Equal(USD(2310)))
	assert.True(t, res.TotalTax.Equal(USD(2310)))

	annual := res.Annual()
	require.Len(t, annual, 2)
	assert.True(t, annual[1].CapitalGainsTax.Equal(USD(2310)), "charged in the payment year")
	assert.True(t, annual[0].CapitalGainsTax.IsZero())
}

func TestEngine_Withdrawal(t *testing.T) {
	r := Range{day(2023, time.January, 1), day(2023, time.December, 31)}
	market := flatMarket(r, map[string]float64{"A": 100, "B": 50})
	cfg := zeroCostConfig(Allocation{{"A", 0.5}, {"B", 0.5}}, r.From, r.To)
	cfg.WithdrawalRate = 0.04

	res := runEngine(t, market, cfg)

	require.Len(t, res.Withdrawals, 4)
	wants := []float64{1000, 990, 980.1, 970.299}
	for i, w := range res.Withdrawals {
		assert.True(t, w.Withdrawn().Equal(USD(wants[i])), "withdrawal %d = %v, want %v", i, w.Withdrawn(), wants[i])
		assert.True(t, w.Shortfall.IsZero())
	}
	assert.True(t, res.TotalWithdrawal.Equal(USD(3940.399)), "total = %v", res.TotalWithdrawal)
	assert.True(t, res.Final.Equal(USD(96_059.601)), "final = %v", res.Final)
	last := res.Snapshots[len(res.Snapshots)-1]
	assert.True(t, last.CumulativeWithdrawal.Equal(USD(3940.399)))
}

func TestEngine_WithdrawalShortfallIsAbsorbed(t *testing.T) {
	r := Range{day(2023, time.January, 1), day(2024, time.March, 29)}
	market := flatMarket(r, map[string]float64{"A": 100, "B": 100})
	for _, d := range weekdays(Range{day(2023, time.June, 1), r.To}) {
		market.AddPrice("A", d, decimal.NewFromInt(200))
	}
	cfg := zeroCostConfig(Allocation{{"A", 0.5}, {"B", 0.5}}, r.From, r.To)
	cfg.Frequency = Yearly
	cfg.WithdrawalRate = 0.9
	cfg.CapitalGainsTaxRate = 0.2

	res := runEngine(t, market, cfg)

	// Jan 2 2023: 90,000 out of 100,000 is paid by selling 450 A and 450 B at cost.
	// Jan 1 2024: 50 A at 200 and 50 B at 100 are worth 15,000. 13,500 is due, half from
	// each symbol: 33.75 A are sold, B would need 67.5 shares and only has 50.
	require.Len(t, res.Withdrawals, 2)
	w := res.Withdrawals[1]
	assert.Equal(t, day(2024, time.January, 1), w.Date)
	assert.True(t, w.Target.Equal(USD(13_500)), "target = %v", w.Target)
	assert.True(t, w.FromCash.IsZero(), "from cash = %v", w.FromCash)
	assert.True(t, w.FromLiquidation.Equal(USD(11_750)), "liquidated = %v", w.FromLiquidation)
	assert.True(t, w.Shortfall.Equal(USD(1_750)), "shortfall = %v", w.Shortfall)
	assert.True(t, w.Withdrawn().Equal(USD(11_750)), "withdrawn = %v", w.Withdrawn())
	assert.True(t, res.TotalWithdrawal.Equal(USD(101_750)), "total = %v", res.TotalWithdrawal)

	var rebalance *RebalanceEvent
	for i, e := range res.Rebalances {
		if e.Date == w.Date {
			rebalance = &res.Rebalances[i]
		}
	}
	require.NotNil(t, rebalance)
	// nothing borrowed: the remaining 16.25 A are the whole portfolio
	assert.True(t, rebalance.ValueBefore.Equal(USD(3250)), "value before = %v", rebalance.ValueBefore)
	require.Len(t, rebalance.Trades, 2)
	a, b := rebalance.Trades[0], rebalance.Trades[1]
	assert.True(t, a.SharesBefore.Equal(Q(16.25)), "A before = %v", a.SharesBefore)
	assert.True(t, b.SharesBefore.IsZero(), "B is sold out, got %v", b.SharesBefore)
	assert.True(t, b.SharesAfter.Equal(Q(16.25)), "B after = %v", b.SharesAfter)
	assert.True(t, rebalance.CapitalGain.Equal(USD(812.5)), "gain = %v", rebalance.CapitalGain)

	// 2024 gains: 33.75 × 100 on the withdrawal, 8.125 × 100 on the rebalance
	var gains []TaxEvent
	for _, e := range res.Taxes {
		if e.Kind == CapitalGainsTax {
			gains = append(gains, e)
		}
	}
	require.Len(t, gains, 1)
	assert.Equal(t, day(2024, time.December, 31), gains[0].Date)
	assert.True(t, gains[0].Gross.Equal(USD(4187.5)), "gains = %v", gains[0].Gross)
	assert.True(t, gains[0].Tax.Equal(USD(837.5)), "tax = %v", gains[0].Tax)

	require.Len(t, res.TaxPayments, 1)
	p := res.TaxPayments[0]
	assert.Equal(t, 2024, p.Year)
	assert.Equal(t, r.To, p.Date)
	assert.True(t, p.FromLiquidation.Equal(USD(837.5)), "liquidated = %v", p.FromLiquidation)
	assert.True(t, p.Shortfall.IsZero())

	for _, s := range res.Snapshots {
		assert.False(t, s.Cash.IsNegative(), "cash = %v on %s", s.Cash, s.Date)
	}
	assert.True(t, res.Final.Equal(USD(2412.5)), "final = %v", res.Final)
}

// trendingMarket prices A on a steady rise and B on a slow decline.
func trendingMarket(r Range) *MarketData {
	m := NewMarketData()
	for i, d := range weekdays(r) {
		m.AddPrice("A", d, decimal.NewFromFloat(100+0.25*float64(i)))
		m.AddPrice("B", d, decimal.NewFromFloat(80-0.02*float64(i)))
		m.AddPrice("C", d, decimal.NewFromFloat(50+5*math.Sin(float64(i)/10)))
	}
	m.AddDividend("A", day(2022, time.June, 15), decimal.RequireFromString("0.5"))
	m.AddDividend("B", day(2023, time.March, 15), decimal.RequireFromString("0.8"))
	return m
}

func TestEngine_Invariants(t *testing.T) {
	r := Range{day(2021, time.January, 1), day(2024, time.March, 31)}
	cfg := DefaultConfig()
	cfg.Allocation = Allocation{{"A", 0.5}, {"B", 0.3}, {"C", 0.2}}
	cfg.Start, cfg.End = r.From, r.To
	cfg.InitialCapital = 100_000

	res := runEngine(t, trendingMarket(r), cfg)
	require.NotEmpty(t, res.Snapshots)

	for _, s := range res.Snapshots {
		sum := s.Cash.Add(s.MarketValue()).Float64()
		total := s.TotalValue.Float64()
		assert.InDelta(t, total, sum, 1e-6*math.Abs(total), "cash conservation on %s", s.Date)
		for symbol, q := range s.Holdings {
			assert.False(t, q.IsNegative(), "%s shares negative on %s", symbol, s.Date)
		}
	}
	for i := 1; i < len(res.Snapshots); i++ {
		prev, cur := res.Snapshots[i-1], res.Snapshots[i]
		assert.False(t, cur.Date.Before(prev.Date), "snapshots out of order")
		assert.False(t, cur.CumulativeWithdrawal.LessThan(prev.CumulativeWithdrawal))
		assert.False(t, cur.CumulativeDividend.LessThan(prev.CumulativeDividend))
		assert.False(t, cur.CumulativeTax.LessThan(prev.CumulativeTax))
	}
	assert.True(t, res.TotalTransactionCost.IsPositive())
	assert.True(t, res.TotalCapitalGainsTax.IsPositive(), "A rises enough to be taxed")
	assert.LessOrEqual(t, res.MaxDrawdown, 0.0)
}

func TestEngine_WeightsConvergeAfterRebalance(t *testing.T) {
	r := Range{day(2022, time.January, 1), day(2023, time.December, 31)}
	a := Allocation{{"A", 0.5}, {"B", 0.3}, {"C", 0.2}}
	cfg := zeroCostConfig(a, r.From, r.To)

	res := runEngine(t, trendingMarket(r), cfg)

	// Jul 1 2023 is a Saturday: the rebalance happens on Monday Jul 3, a sampled day.
	var snap *Snapshot
	for i, s := range res.Snapshots {
		if s.Date == day(2023, time.July, 3) {
			snap = &res.Snapshots[i]
		}
	}
	require.NotNil(t, snap)
	total := snap.TotalValue.Float64()
	for _, w := range a {
		got := snap.PositionValue(w.Symbol).Float64() / total
		assert.InDelta(t, w.Weight, got, 1e-4, "weight of %s", w.Symbol)
	}
}

func TestEngine_Errors(t *testing.T) {
	r := Range{day(2023, time.January, 1), day(2023, time.December, 31)}
	market := flatMarket(r, map[string]float64{"A": 100})
	e := NewEngine(StaticProvider{Data: market})

	_, err := e.Run(context.Background(), zeroCostConfig(nil, r.From, r.To))
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg := zeroCostConfig(Allocation{{"A", 0.5}, {"MISSING", 0.5}}, r.From, r.To)
	_, err = e.Run(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	var de *DataError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "MISSING", de.Symbol)

	cfg = zeroCostConfig(Allocation{{"A", 1}}, r.To, r.From)
	_, err = e.Run(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = zeroCostConfig(Allocation{{"A", 0.5}, {"A", 0.5}}, r.From, r.To)
	_, err = e.Run(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrConfiguration, "a symbol allocated twice")
}

func TestEngine_DefaultWindow(t *testing.T) {
	now := time.Date(2024, time.May, 20, 10, 0, 0, 0, time.UTC)
	r := Range{day(2013, time.December, 1), day(2024, time.May, 31)}
	market := flatMarket(r, map[string]float64{"A": 10})
	cfg := DefaultConfig()
	cfg.Allocation = Allocation{{"A", 1}}

	res, err := NewEngine(StaticProvider{Data: market}, WithClock(func() time.Time { return now })).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, day(2014, time.January, 1), res.Config.Start)
	assert.Equal(t, day(2024, time.April, 1), res.Config.End)
}

func TestEngine_EndOnBoundaryThatIsNotATradingDay(t *testing.T) {
	// Jul 1 2023 is a Saturday.
	r := Range{day(2023, time.January, 1), day(2023, time.July, 1)}
	market := flatMarket(r, map[string]float64{"A": 100, "B": 100})
	cfg := zeroCostConfig(Allocation{{"A", 0.5}, {"B", 0.5}}, r.From, r.To)
	cfg.WithdrawalRate = 0.04

	res := runEngine(t, market, cfg)

	require.Len(t, res.Withdrawals, 3)
	assert.Equal(t, day(2023, time.July, 1), res.Withdrawals[2].Date)
}
