package backtest

// Result is the outcome of a run: every event log, the snapshot series and summary metrics.
// Rates are fractions: 0.05 is 5%.
type Result struct {
	Config Config `json:"config"`

	Snapshots   []Snapshot           `json:"snapshots"`
	Rebalances  []RebalanceEvent     `json:"rebalance_events"`
	Withdrawals []WithdrawalEvent    `json:"withdrawal_events"`
	Dividends   []DividendEvent      `json:"dividend_events"`
	Taxes       []TaxEvent           `json:"tax_events"`
	TaxPayments []DeferredTaxPayment `json:"tax_payments"`

	Initial     Money   `json:"initial_value"`
	Final       Money   `json:"final_value"`
	TotalReturn float64 `json:"total_return"`
	CAGR        float64 `json:"cagr"`
	Volatility  float64 `json:"volatility"`
	Sharpe      float64 `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`

	TotalWithdrawal      Money `json:"total_withdrawal"`
	TotalDividendGross   Money `json:"total_dividend_gross"`
	TotalDividendNet     Money `json:"total_dividend_net"`
	TotalDividendTax     Money `json:"total_dividend_tax"`
	TotalCapitalGainsTax Money `json:"total_capital_gains_tax"`
	TotalTax             Money `json:"total_tax"`
	TotalTransactionCost Money `json:"total_transaction_cost"`
}

// emptyResult is the outcome of a window without any rebalance boundary.
func emptyResult(cfg Config) *Result {
	capital := M(cfg.InitialCapital, cfg.Currency)
	zero := M(0, cfg.Currency)
	return &Result{
		Config:               cfg,
		Initial:              capital,
		Final:                capital,
		TotalWithdrawal:      zero,
		TotalDividendGross:   zero,
		TotalDividendNet:     zero,
		TotalDividendTax:     zero,
		TotalCapitalGainsTax: zero,
		TotalTax:             zero,
		TotalTransactionCost: zero,
	}
}

func (s *simulation) result() *Result {
	res := &Result{
		Config:               s.cfg,
		Snapshots:            s.snapshots,
		Rebalances:           s.rebalances,
		Withdrawals:          s.withdrawals,
		Dividends:            s.dividends,
		Taxes:                s.taxes.Events(),
		TaxPayments:          s.payments,
		Initial:              M(s.cfg.InitialCapital, s.cfg.Currency),
		Final:                s.snapshots[len(s.snapshots)-1].TotalValue,
		TotalWithdrawal:      s.flows.withdrawal,
		TotalDividendGross:   M(0, s.cfg.Currency),
		TotalDividendNet:     M(0, s.cfg.Currency),
		TotalDividendTax:     s.taxes.TotalDividendTax().In(s.cfg.Currency),
		TotalCapitalGainsTax: s.taxes.TotalCapitalGainsTax().In(s.cfg.Currency),
		TotalTax:             s.taxes.TotalTax().In(s.cfg.Currency),
		TotalTransactionCost: s.txCost,
	}
	for _, d := range s.dividends {
		res.TotalDividendGross = res.TotalDividendGross.Add(d.Gross)
		res.TotalDividendNet = res.TotalDividendNet.Add(d.Net)
	}
	res.computeMetrics()
	return res
}

// Values returns the total value of every snapshot.
func (r *Result) Values() []float64 {
	values := make([]float64, len(r.Snapshots))
	for i, s := range r.Snapshots {
		values[i] = s.TotalValue.Float64()
	}
	return values
}

func (r *Result) computeMetrics() {
	initial, final := r.Initial.Float64(), r.Final.Float64()
	if initial != 0 {
		r.TotalReturn = final/initial - 1
	}
	r.CAGR = CAGR(initial, final, r.Config.Range().Years())
	values := r.Values()
	r.Volatility = Volatility(values, Monthly.PerYear())
	r.Sharpe = Sharpe(r.CAGR, r.Config.RiskFreeRate, r.Volatility)
	r.MaxDrawdown = MaxDrawdown(values)
}
