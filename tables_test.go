package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	snap := func(d Date, v float64) Snapshot {
		return Snapshot{Date: d, TotalValue: USD(v), Holdings: map[string]Quantity{}, Prices: map[string]Money{}}
	}
	return &Result{
		Config: Config{Allocation: Allocation{{"A", 1}}, Currency: "USD"},
		Snapshots: []Snapshot{
			snap(day(2022, time.December, 30), 1000),
			snap(day(2023, time.January, 2), 1000),
			snap(day(2023, time.June, 1), 1050),
			snap(day(2023, time.December, 29), 1100),
			snap(day(2024, time.January, 2), 1080),
		},
		Taxes: []TaxEvent{
			{Date: day(2023, time.May, 1), Kind: DividendTax, Gross: USD(20), Tax: USD(3), Net: USD(17)},
			{Date: day(2023, time.December, 31), Kind: CapitalGainsTax, Gross: USD(2100), Tax: USD(20), Net: USD(2080)},
		},
		Withdrawals: []WithdrawalEvent{
			{Date: day(2023, time.April, 3), Target: USD(15), FromCash: USD(10), FromLiquidation: USD(5), TransactionCost: USD(0.1)},
		},
		Dividends: []DividendEvent{
			{Date: day(2023, time.May, 1), Symbol: "A", Gross: USD(20), Tax: USD(3), Net: USD(17)},
		},
		Rebalances: []RebalanceEvent{
			{Date: day(2023, time.April, 3), TransactionCost: USD(0.5)},
		},
	}
}

func TestResult_Annual(t *testing.T) {
	rows := sampleResult().Annual()
	require.Len(t, rows, 2, "a first year with a single snapshot is skipped")

	y23 := rows[0]
	assert.Equal(t, 2023, y23.Year)
	assert.True(t, y23.StartValue.Equal(USD(1000)))
	assert.True(t, y23.EndValue.Equal(USD(1100)))
	assert.InDelta(t, 0.1, y23.Return, 1e-9)
	assert.True(t, y23.Withdrawal.Equal(USD(15)))
	assert.True(t, y23.DividendGross.Equal(USD(20)))
	assert.True(t, y23.DividendNet.Equal(USD(17)))
	assert.True(t, y23.DividendTax.Equal(USD(3)))
	assert.True(t, y23.CapitalGainsTax.IsZero())
	assert.True(t, y23.TransactionCost.Equal(USD(0.6)), "withdrawal and rebalance costs, got %v", y23.TransactionCost)

	y24 := rows[1]
	assert.Equal(t, 2024, y24.Year)
	assert.True(t, y24.StartValue.Equal(USD(1100)), "a single snapshot year starts at the previous end")
	assert.True(t, y24.CapitalGainsTax.Equal(USD(20)), "capital gains tax is charged to its payment year")
	assert.True(t, y24.StartValueAfterTax.Equal(USD(1080)))
	assert.InDelta(t, 0, y24.Return, 1e-9)
}

func TestResult_AnnualTable(t *testing.T) {
	header, rows := sampleResult().AnnualTable()
	assert.Equal(t, "year", header[0])
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2023", "1000.00", "1000.00", "1100.00", "10.00", "15.00", "20.00", "17.00", "3.00", "0.00", "0.60"}, rows[0])
	assert.Len(t, rows[1], len(header))
}

func TestResult_HistoryTable(t *testing.T) {
	res := &Result{
		Config: Config{Allocation: Allocation{{"A", 0.5}, {"B", 0.5}}},
		Snapshots: []Snapshot{{
			Date:                 day(2023, time.January, 2),
			Holdings:             map[string]Quantity{"A": Q(2.5)},
			Prices:               map[string]Money{"A": NO(40), "B": NO(10)},
			Cash:                 USD(0),
			TotalValue:           USD(100),
			CumulativeWithdrawal: USD(1),
			CumulativeDividend:   USD(2),
			CumulativeTax:        USD(3),
		}},
	}

	header, rows := res.HistoryTable()
	assert.Equal(t, []string{"date", "total_value", "cash", "cumulative_withdrawal", "cumulative_dividend", "cumulative_tax",
		"A_shares", "A_value", "B_shares", "B_value"}, header)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"2023-01-02", "100.00", "0.00", "1.00", "2.00", "3.00", "2.500000", "100.00", "0.000000", "0.00"}, rows[0])
}
