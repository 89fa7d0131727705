package cmd

import (
	"flag"
	"fmt"

	"github.com/etnz/backtest"
)

// params are the run parameter flags shared by run and compare.
// Unset flags keep the value of the configuration file.
type params struct {
	allocation string
	start      string
	end        string
	years      int
	capital    float64
	frequency  string
	withdrawal float64
	divTax     float64
	gainsTax   float64
	exemption  float64
	cost       float64
	riskFree   float64
	currency   string
}

func (p *params) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.allocation, "a", "", "Allocation as SYMBOL=weight pairs, e.g. SPY=0.6,QQQ=0.3,BIL=0.1")
	f.StringVar(&p.start, "s", "", "Start date (YYYY-MM-DD). Defaults to Jan 1, -years before the end.")
	f.StringVar(&p.end, "e", "", "End date (YYYY-MM-DD). Defaults to the start of the current quarter.")
	f.IntVar(&p.years, "years", 0, "Number of years when no start date is given")
	f.Float64Var(&p.capital, "capital", 0, "Initial capital")
	f.StringVar(&p.frequency, "f", "", "Rebalancing frequency: quarterly or yearly")
	f.Float64Var(&p.withdrawal, "withdrawal", 0, "Annual withdrawal rate, e.g. 0.05")
	f.Float64Var(&p.divTax, "dividend-tax", 0, "Dividend tax rate")
	f.Float64Var(&p.gainsTax, "gains-tax", 0, "Capital gains tax rate")
	f.Float64Var(&p.exemption, "exemption", 0, "Yearly capital gains exemption")
	f.Float64Var(&p.cost, "cost", 0, "Transaction cost rate")
	f.Float64Var(&p.riskFree, "risk-free", 0, "Annual risk free rate for the Sharpe ratio")
	f.StringVar(&p.currency, "currency", "", "Currency label of amounts")
}

// config applies the flags set on f over defaults.
func (p *params) config(f *flag.FlagSet, defaults BacktestDefaults) (backtest.Config, error) {
	c, err := defaults.Config()
	if err != nil {
		return c, fmt.Errorf("invalid configuration defaults: %w", err)
	}
	f.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "a":
			c.Allocation, err = backtest.ParseAllocation(p.allocation)
		case "s":
			c.Start, err = backtest.ParseDate(p.start)
		case "e":
			c.End, err = backtest.ParseDate(p.end)
		case "years":
			c.Years = p.years
		case "capital":
			c.InitialCapital = p.capital
		case "f":
			c.Frequency, err = backtest.ParsePeriod(p.frequency)
		case "withdrawal":
			c.WithdrawalRate = p.withdrawal
		case "dividend-tax":
			c.DividendTaxRate = p.divTax
		case "gains-tax":
			c.CapitalGainsTaxRate = p.gainsTax
		case "exemption":
			c.CapitalGainsExemption = p.exemption
		case "cost":
			c.TransactionCostRate = p.cost
		case "risk-free":
			c.RiskFreeRate = p.riskFree
		case "currency":
			c.Currency = p.currency
		}
		if err != nil {
			err = fmt.Errorf("invalid -%s: %w", fl.Name, err)
		}
	})
	return c, err
}
