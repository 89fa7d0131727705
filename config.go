package backtest

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every parameter of a run. The engine is a function of a Config and a Provider only.
type Config struct {
	Allocation            Allocation `json:"allocation" yaml:"allocation"`
	InitialCapital        float64    `json:"initial_capital" yaml:"initial_capital"`
	Frequency             Period     `json:"rebalance_frequency" yaml:"rebalance_frequency"`
	WithdrawalRate        float64    `json:"withdrawal_rate" yaml:"withdrawal_rate"` // annual
	DividendTaxRate       float64    `json:"dividend_tax_rate" yaml:"dividend_tax_rate"`
	CapitalGainsTaxRate   float64    `json:"capital_gains_tax_rate" yaml:"capital_gains_tax_rate"`
	CapitalGainsExemption float64    `json:"capital_gains_exemption" yaml:"capital_gains_exemption"`
	TransactionCostRate   float64    `json:"transaction_cost_rate" yaml:"transaction_cost_rate"`
	RiskFreeRate          float64    `json:"risk_free_rate" yaml:"risk_free_rate"`

	Start Date `json:"start_date" yaml:"start_date"` // zero means Jan 1 of End.Year - Years
	End   Date `json:"end_date" yaml:"end_date"`     // zero means the last quarter start
	Years int  `json:"years" yaml:"years"`

	Currency string `json:"currency" yaml:"currency"`
}

// DefaultConfig returns the parameters used when nothing else is specified.
// The allocation is left empty: the engine refuses to guess one.
func DefaultConfig() Config {
	return Config{
		InitialCapital:        1_000_000,
		Frequency:             Quarterly,
		WithdrawalRate:        0.05,
		DividendTaxRate:       0.15,
		CapitalGainsTaxRate:   0.22,
		CapitalGainsExemption: 2000,
		TransactionCostRate:   0.002,
		RiskFreeRate:          0.03,
		Years:                 10,
		Currency:              DefaultCurrency,
	}
}

// DefaultAllocation is the 60/30/10 split offered by the command line.
func DefaultAllocation() Allocation {
	return Allocation{{"SPY", 0.6}, {"QQQ", 0.3}, {"BIL", 0.1}}
}

// Resolve returns a copy of c with the run window filled in, relative to now.
func (c Config) Resolve(now time.Time) Config {
	if c.End.IsZero() {
		c.End = DateOf(now).StartOf(Quarterly)
	}
	if c.Start.IsZero() {
		years := c.Years
		if years <= 0 {
			years = DefaultConfig().Years
		}
		c.Start = NewDate(c.End.Year()-years, time.January, 1)
	}
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	return c
}

// Range returns the run window. Call Resolve first.
func (c Config) Range() Range { return Range{From: c.Start, To: c.End} }

// Validate rejects parameters the engine cannot run with, duplicated symbols included.
// Weights that do not sum to 1 are accepted here; see Allocation.Validate.
func (c Config) Validate() error {
	if len(c.Allocation) == 0 {
		return configErrorf("no allocation weights provided")
	}
	seen := make(map[string]bool, len(c.Allocation))
	for _, w := range c.Allocation {
		if w.Symbol == "" || w.Weight < 0 {
			return configErrorf("invalid allocation entry %s=%v", w.Symbol, w.Weight)
		}
		if seen[w.Symbol] {
			return configErrorf("symbol %s is allocated twice", w.Symbol)
		}
		seen[w.Symbol] = true
	}
	if c.InitialCapital <= 0 {
		return configErrorf("initial capital must be positive, got %v", c.InitialCapital)
	}
	if !c.Frequency.IsRebalanceFrequency() {
		return configErrorf("rebalance frequency must be quarterly or yearly, got %s", c.Frequency)
	}
	rates := []struct {
		name  string
		value float64
	}{
		{"withdrawal rate", c.WithdrawalRate},
		{"dividend tax rate", c.DividendTaxRate},
		{"capital gains tax rate", c.CapitalGainsTaxRate},
		{"transaction cost rate", c.TransactionCostRate},
	}
	for _, r := range rates {
		if r.value < 0 || r.value > 1 {
			return configErrorf("%s must be within [0, 1], got %v", r.name, r.value)
		}
	}
	if c.CapitalGainsExemption < 0 {
		return configErrorf("capital gains exemption must not be negative, got %v", c.CapitalGainsExemption)
	}
	if !c.Start.IsZero() && !c.End.IsZero() && c.Start.After(c.End) {
		return configErrorf("start date %s is after end date %s", c.Start, c.End)
	}
	return nil
}

// periodicWithdrawalRate is the rate applied at each rebalance: a quarter of the
// annual rate on a quarterly schedule, the annual rate otherwise.
func (c Config) periodicWithdrawalRate() decimal.Decimal {
	rate := decimal.NewFromFloat(c.WithdrawalRate)
	if c.Frequency == Quarterly {
		return rate.Div(decimal.NewFromInt(4))
	}
	return rate
}
