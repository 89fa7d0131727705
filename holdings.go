package backtest

import (
	"fmt"
	"maps"
	"slices"
)

// Holdings is the mutable state of a portfolio during a run: cash, shares and
// weighted-average cost basis per symbol.
//
// Shares never go negative. The cost basis changes on buys only.
type Holdings struct {
	symbols []string // in order of first purchase
	shares  map[string]Quantity
	cost    map[string]Money // average cost per share
	cash    Money
}

// NewHoldings returns holdings with cash only.
func NewHoldings(cash Money) *Holdings {
	return &Holdings{
		shares: make(map[string]Quantity),
		cost:   make(map[string]Money),
		cash:   cash,
	}
}

// Cash returns the cash balance.
func (h *Holdings) Cash() Money { return h.cash }

// Credit adds m to the cash balance.
func (h *Holdings) Credit(m Money) { h.cash = h.cash.Add(m) }

// Debit removes m from the cash balance. The balance may become negative.
func (h *Holdings) Debit(m Money) { h.cash = h.cash.Sub(m) }

// Shares returns the number of shares held for symbol.
func (h *Holdings) Shares(symbol string) Quantity { return h.shares[symbol] }

// CostBasis returns the average cost per share of symbol, false if never bought.
func (h *Holdings) CostBasis(symbol string) (Money, bool) {
	c, ok := h.cost[symbol]
	return c, ok
}

// Symbols returns every symbol ever bought, in order of first purchase.
func (h *Holdings) Symbols() []string { return slices.Clone(h.symbols) }

// Positions returns a copy of the share counts.
func (h *Holdings) Positions() map[string]Quantity { return maps.Clone(h.shares) }

// Buy adds q shares at price, paying from cash, and updates the average cost.
func (h *Holdings) Buy(symbol string, q Quantity, price Money) error {
	if q.IsNegative() {
		return fmt.Errorf("cannot buy a negative quantity %s of %s", q, symbol)
	}
	if q.IsZero() {
		return nil
	}
	held, ok := h.shares[symbol]
	if !ok {
		h.symbols = append(h.symbols, symbol)
	}
	after := held.Add(q)
	oldCost := h.cost[symbol].Mul(held)
	h.cost[symbol] = oldCost.Add(price.Mul(q)).Div(after)
	h.shares[symbol] = after
	h.cash = h.cash.Sub(price.Mul(q))
	return nil
}

// Sell removes up to q shares at price and credits the proceeds to cash.
// It returns the quantity actually sold and the gain realized against the average cost.
// Selling more than held sells everything.
func (h *Holdings) Sell(symbol string, q Quantity, price Money) (sold Quantity, gain Money, err error) {
	if q.IsNegative() {
		return Quantity{}, Money{}, fmt.Errorf("cannot sell a negative quantity %s of %s", q, symbol)
	}
	held := h.shares[symbol]
	sold = q.Min(held)
	if !sold.IsPositive() {
		return Quantity{}, Money{}, nil
	}
	cost, ok := h.cost[symbol]
	if !ok {
		cost = price
	}
	gain = price.Sub(cost).Mul(sold)
	h.shares[symbol] = held.Sub(sold)
	h.cash = h.cash.Add(price.Mul(sold))
	return sold, gain, nil
}

// Value returns cash plus the market value of every position on a day.
// A symbol without any price contributes nothing.
func (h *Holdings) Value(on Date, market *MarketData) Money {
	total := h.cash
	for _, s := range h.symbols {
		price, ok := market.PriceOn(s, on)
		if !ok {
			continue
		}
		total = total.Add(price.Mul(h.shares[s]))
	}
	return total
}
