package backtest

import (
	"time"

	"github.com/shopspring/decimal"
)

// USD is a helper for test to create usd money from const
func USD(v float64) Money { return M(v, "USD") }

// NO is a helper for test to create money from const with no currency set
func NO(v float64) Money { return M(v, "") }

func day(y int, m time.Month, d int) Date { return NewDate(y, m, d) }

// weekdays returns Monday to Friday within r. Holidays are trading days in tests.
func weekdays(r Range) []Date {
	var days []Date
	for d := r.From; !d.After(r.To); d = d.Add(1) {
		if wd := d.time().Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, d)
		}
	}
	return days
}

// flatMarket prices every symbol at a constant close on every weekday of r.
func flatMarket(r Range, prices map[string]float64) *MarketData {
	m := NewMarketData()
	for _, d := range weekdays(r) {
		for s, p := range prices {
			m.AddPrice(s, d, decimal.NewFromFloat(p))
		}
	}
	return m
}

// zeroCostConfig is a config without withdrawal, tax or cost.
func zeroCostConfig(a Allocation, from, to Date) Config {
	return Config{
		Allocation:     a,
		InitialCapital: 100_000,
		Frequency:      Quarterly,
		Start:          from,
		End:            to,
		Currency:       "USD",
	}
}
