package backtest

// Snapshot is an immutable record of the portfolio on a sampled day.
type Snapshot struct {
	Date                 Date                `json:"date"`
	Holdings             map[string]Quantity `json:"holdings"`
	Prices               map[string]Money    `json:"prices"`
	Cash                 Money               `json:"cash"`
	TotalValue           Money               `json:"total_value"`
	CumulativeWithdrawal Money               `json:"cumulative_withdrawal"`
	CumulativeDividend   Money               `json:"cumulative_dividend"` // net of tax
	CumulativeTax        Money               `json:"cumulative_tax"`
}

// PositionValue returns shares times price for symbol, zero if not held or not priced.
func (s Snapshot) PositionValue(symbol string) Money {
	price, ok := s.Prices[symbol]
	if !ok {
		return Money{}
	}
	return price.Mul(s.Holdings[symbol])
}

// MarketValue returns the total value of positions, excluding cash.
func (s Snapshot) MarketValue() Money {
	var total Money
	for symbol := range s.Holdings {
		total = total.Add(s.PositionValue(symbol))
	}
	return total
}

// takeSnapshot freezes h on day. Prices are looked up for every symbol in symbols.
func takeSnapshot(day Date, symbols []string, h *Holdings, market *MarketData, flows cumulative) Snapshot {
	prices := make(map[string]Money, len(symbols))
	for _, s := range symbols {
		if p, ok := market.PriceOn(s, day); ok {
			prices[s] = p
		}
	}
	return Snapshot{
		Date:                 day,
		Holdings:             h.Positions(),
		Prices:               prices,
		Cash:                 h.Cash(),
		TotalValue:           h.Value(day, market),
		CumulativeWithdrawal: flows.withdrawal,
		CumulativeDividend:   flows.dividend,
		CumulativeTax:        flows.tax,
	}
}

// cumulative holds the running totals of cash flows out of, or into, a run.
type cumulative struct {
	withdrawal Money
	dividend   Money
	tax        Money
}
