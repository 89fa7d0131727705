package backtest

import (
	"slices"
	"strconv"
)

// HistoryRow is one snapshot flattened for charts and exports.
type HistoryRow struct {
	Date                 Date
	TotalValue           Money
	Cash                 Money
	CumulativeWithdrawal Money
	CumulativeDividend   Money
	CumulativeTax        Money
	Shares               map[string]Quantity
	Values               map[string]Money
}

// History returns one row per snapshot.
func (r *Result) History() []HistoryRow {
	rows := make([]HistoryRow, 0, len(r.Snapshots))
	for _, s := range r.Snapshots {
		row := HistoryRow{
			Date:                 s.Date,
			TotalValue:           s.TotalValue,
			Cash:                 s.Cash,
			CumulativeWithdrawal: s.CumulativeWithdrawal,
			CumulativeDividend:   s.CumulativeDividend,
			CumulativeTax:        s.CumulativeTax,
			Shares:               make(map[string]Quantity, len(s.Holdings)),
			Values:               make(map[string]Money, len(s.Holdings)),
		}
		for symbol, q := range s.Holdings {
			row.Shares[symbol] = q
			row.Values[symbol] = s.PositionValue(symbol)
		}
		rows = append(rows, row)
	}
	return rows
}

// HistoryTable returns the history as a header and string rows, with a <SYM>_shares and a
// <SYM>_value column per allocated symbol.
func (r *Result) HistoryTable() (header []string, rows [][]string) {
	symbols := r.Config.Allocation.Symbols()
	header = []string{"date", "total_value", "cash", "cumulative_withdrawal", "cumulative_dividend", "cumulative_tax"}
	for _, s := range symbols {
		header = append(header, s+"_shares", s+"_value")
	}
	for _, h := range r.History() {
		row := []string{
			h.Date.String(),
			h.TotalValue.Decimal().StringFixed(2),
			h.Cash.Decimal().StringFixed(2),
			h.CumulativeWithdrawal.Decimal().StringFixed(2),
			h.CumulativeDividend.Decimal().StringFixed(2),
			h.CumulativeTax.Decimal().StringFixed(2),
		}
		for _, s := range symbols {
			row = append(row, h.Shares[s].value.StringFixed(6), h.Values[s].Decimal().StringFixed(2))
		}
		rows = append(rows, row)
	}
	return header, rows
}

// AnnualRow summarizes one calendar year of a run.
type AnnualRow struct {
	Year               int     `json:"year"`
	StartValue         Money   `json:"start_value"`
	StartValueAfterTax Money   `json:"start_value_after_capital_tax"` // minus the capital-gains tax paid in January
	EndValue           Money   `json:"end_value"`
	Return             float64 `json:"return"`
	Withdrawal         Money   `json:"withdrawal"`
	DividendGross      Money   `json:"dividend_gross"`
	DividendNet        Money   `json:"dividend_net"`
	DividendTax        Money   `json:"tax_dividend"`
	CapitalGainsTax    Money   `json:"tax_capital_gains"` // paid this year, realized the year before
	TransactionCost    Money   `json:"transaction_cost"`
}

// Annual returns one row per calendar year present in the snapshots.
//
// A year starts at its first snapshot. A year with a single snapshot starts at the previous
// year's end; a first year with a single snapshot is skipped.
func (r *Result) Annual() []AnnualRow {
	byYear := make(map[int][]Snapshot)
	var years []int
	for _, s := range r.Snapshots {
		y := s.Date.Year()
		if _, ok := byYear[y]; !ok {
			years = append(years, y)
		}
		byYear[y] = append(byYear[y], s)
	}
	slices.Sort(years)

	dividendTax := make(map[int]Money)
	capitalTax := make(map[int]Money) // keyed by payment year
	for _, e := range r.Taxes {
		switch e.Kind {
		case DividendTax:
			dividendTax[e.Date.Year()] = dividendTax[e.Date.Year()].Add(e.Tax)
		case CapitalGainsTax:
			capitalTax[e.Date.Year()+1] = capitalTax[e.Date.Year()+1].Add(e.Tax)
		}
	}

	var rows []AnnualRow
	var prevEnd Money
	hasPrev := false
	for _, y := range years {
		snaps := byYear[y]
		var start, end Money
		switch {
		case len(snaps) >= 2:
			start, end = snaps[0].TotalValue, snaps[len(snaps)-1].TotalValue
		case hasPrev:
			start, end = prevEnd, snaps[0].TotalValue
		default:
			continue
		}
		prevEnd, hasPrev = end, true

		row := AnnualRow{
			Year:            y,
			StartValue:      start,
			EndValue:        end,
			CapitalGainsTax: capitalTax[y],
			DividendTax:     dividendTax[y],
		}
		row.StartValueAfterTax = start.Sub(row.CapitalGainsTax)
		if !row.StartValueAfterTax.IsZero() {
			row.Return = end.Ratio(row.StartValueAfterTax) - 1
		}
		for _, w := range r.Withdrawals {
			if w.Date.Year() == y {
				row.Withdrawal = row.Withdrawal.Add(w.Withdrawn())
				row.TransactionCost = row.TransactionCost.Add(w.TransactionCost)
			}
		}
		for _, d := range r.Dividends {
			if d.Date.Year() == y {
				row.DividendGross = row.DividendGross.Add(d.Gross)
				row.DividendNet = row.DividendNet.Add(d.Net)
			}
		}
		for _, e := range r.Rebalances {
			if e.Date.Year() == y {
				row.TransactionCost = row.TransactionCost.Add(e.TransactionCost)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// AnnualTable returns the annual summary as a header and string rows.
func (r *Result) AnnualTable() (header []string, rows [][]string) {
	header = []string{"year", "start_value", "start_value_after_capital_tax", "end_value", "return_pct",
		"withdrawal", "dividend_gross", "dividend_net", "tax_dividend", "tax_capital_gains", "transaction_cost"}
	for _, a := range r.Annual() {
		rows = append(rows, []string{
			strconv.Itoa(a.Year),
			a.StartValue.Decimal().StringFixed(2),
			a.StartValueAfterTax.Decimal().StringFixed(2),
			a.EndValue.Decimal().StringFixed(2),
			strconv.FormatFloat(a.Return*100, 'f', 2, 64),
			a.Withdrawal.Decimal().StringFixed(2),
			a.DividendGross.Decimal().StringFixed(2),
			a.DividendNet.Decimal().StringFixed(2),
			a.DividendTax.Decimal().StringFixed(2),
			a.CapitalGainsTax.Decimal().StringFixed(2),
			a.TransactionCost.Decimal().StringFixed(2),
		})
	}
	return header, rows
}
