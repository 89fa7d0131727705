package backtest

import (
	"slices"

	"github.com/shopspring/decimal"
)

// MarketData holds closing prices and dividends per symbol.
// Amounts carry no currency: they take the currency of the run they feed.
type MarketData struct {
	prices    map[string]*History[Money]
	dividends map[string]*History[Money] // per share, indexed by ex-date
}

// NewMarketData returns a new empty market data collection.
func NewMarketData() *MarketData {
	return &MarketData{
		prices:    make(map[string]*History[Money]),
		dividends: make(map[string]*History[Money]),
	}
}

// Dividend is a cash distribution per share, on its ex-date.
type Dividend struct {
	Date     Date
	PerShare Money
}

// AddPrice records the close of symbol on a trading day.
func (m *MarketData) AddPrice(symbol string, on Date, close decimal.Decimal) {
	h, ok := m.prices[symbol]
	if !ok {
		h = new(History[Money])
		m.prices[symbol] = h
	}
	h.Append(on, M(close, ""))
}

// AddDividend records a dividend per share of symbol.
func (m *MarketData) AddDividend(symbol string, on Date, perShare decimal.Decimal) {
	h, ok := m.dividends[symbol]
	if !ok {
		h = new(History[Money])
		m.dividends[symbol] = h
	}
	h.Append(on, M(perShare, ""))
}

// Has reports whether there is at least one price for symbol.
func (m *MarketData) Has(symbol string) bool {
	h, ok := m.prices[symbol]
	return ok && h.Len() > 0
}

// Symbols returns the symbols with prices, sorted.
func (m *MarketData) Symbols() []string {
	symbols := make([]string, 0, len(m.prices))
	for s := range m.prices {
		symbols = append(symbols, s)
	}
	slices.Sort(symbols)
	return symbols
}

// PriceOn returns the close on date if it is a trading day, else the next available close,
// else the most recent close before date. It returns false only if the symbol has no price at all.
func (m *MarketData) PriceOn(symbol string, date Date) (Money, bool) {
	h, ok := m.prices[symbol]
	if !ok {
		return Money{}, false
	}
	if p, ok := h.ValueOnOrAfter(date); ok {
		return p, true
	}
	return h.ValueAsOf(date)
}

// DividendsIn returns the dividends of symbol with an ex-date in r, both ends included.
func (m *MarketData) DividendsIn(symbol string, r Range) []Dividend {
	h, ok := m.dividends[symbol]
	if !ok {
		return nil
	}
	var res []Dividend
	for on, amount := range h.Between(r) {
		res = append(res, Dividend{Date: on, PerShare: amount})
	}
	return res
}

// TradingDays returns the days symbol has a close within r, in ascending order.
func (m *MarketData) TradingDays(symbol string, r Range) []Date {
	h, ok := m.prices[symbol]
	if !ok {
		return nil
	}
	var days []Date
	for on := range h.Between(r) {
		days = append(days, on)
	}
	return days
}

// Check returns a DataError for the first symbol without a single close in r.
func (m *MarketData) Check(symbols []string, r Range) error {
	for _, s := range symbols {
		if len(m.TradingDays(s, r)) == 0 {
			return &DataError{Symbol: s, Range: r}
		}
	}
	return nil
}

// Merge copies every point of o into m. Points of o win on conflicts.
func (m *MarketData) Merge(o *MarketData) {
	for s, h := range o.prices {
		for on, v := range h.Values() {
			m.AddPrice(s, on, v.value)
		}
	}
	for s, h := range o.dividends {
		for on, v := range h.Values() {
			m.AddDividend(s, on, v.value)
		}
	}
}

// Point is a dated decimal value, the unit of storage and transport of market series.
type Point struct {
	Date  Date            `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// Series is the complete data of one symbol, as stored by caches.
type Series struct {
	Symbol    string  `json:"symbol"`
	Prices    []Point `json:"prices"`
	Dividends []Point `json:"dividends,omitempty"`
}

// Series extracts the points of symbol within r.
func (m *MarketData) Series(symbol string, r Range) Series {
	s := Series{Symbol: symbol}
	if h, ok := m.prices[symbol]; ok {
		for on, v := range h.Between(r) {
			s.Prices = append(s.Prices, Point{on, v.value})
		}
	}
	if h, ok := m.dividends[symbol]; ok {
		for on, v := range h.Between(r) {
			s.Dividends = append(s.Dividends, Point{on, v.value})
		}
	}
	return s
}

// AddSeries loads every point of s.
func (m *MarketData) AddSeries(s Series) {
	for _, p := range s.Prices {
		m.AddPrice(s.Symbol, p.Date, p.Value)
	}
	for _, p := range s.Dividends {
		m.AddDividend(s.Symbol, p.Date, p.Value)
	}
}

// Window returns a copy of m restricted to r.
func (m *MarketData) Window(r Range) *MarketData {
	w := NewMarketData()
	for s := range m.prices {
		w.AddSeries(m.Series(s, r))
	}
	for s := range m.dividends {
		if _, ok := m.prices[s]; !ok {
			w.AddSeries(m.Series(s, r))
		}
	}
	return w
}
