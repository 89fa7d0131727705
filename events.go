package backtest

// Trade is one symbol's leg of a rebalance.
type Trade struct {
	Symbol          string   `json:"symbol"`
	Shares          Quantity `json:"shares_delta"` // positive for a buy
	Price           Money    `json:"price"`
	Value           Money    `json:"value_delta"`
	TransactionCost Money    `json:"transaction_cost"`
	SharesBefore    Quantity `json:"shares_before"`
	SharesAfter     Quantity `json:"shares_after"`
}

// RebalanceEvent records the trades made on a rebalance date.
type RebalanceEvent struct {
	Date            Date    `json:"date"`
	ValueBefore     Money   `json:"portfolio_value"`
	Trades          []Trade `json:"trades"`
	CapitalGain     Money   `json:"capital_gain"`
	TransactionCost Money   `json:"transaction_cost"`
	InitialPurchase bool    `json:"is_initial_purchase,omitempty"`
}

// WithdrawalEvent records a scheduled withdrawal.
//
// Target is what was asked, FromCash and FromLiquidation what was actually paid out.
// Shortfall is the part of Target the clamped sales could not raise.
type WithdrawalEvent struct {
	Date            Date  `json:"date"`
	Target          Money `json:"target_amount"`
	FromCash        Money `json:"amount_from_cash"`
	FromLiquidation Money `json:"amount_from_liquidation"`
	Shortfall       Money `json:"shortfall"`
	TransactionCost Money `json:"transaction_cost"`
}

// Withdrawn returns the amount that left the portfolio.
func (e WithdrawalEvent) Withdrawn() Money { return e.FromCash.Add(e.FromLiquidation) }

// DividendEvent records a dividend received on a position.
type DividendEvent struct {
	Date     Date     `json:"date"` // ex-date
	Symbol   string   `json:"symbol"`
	Shares   Quantity `json:"shares_held"`
	PerShare Money    `json:"per_share_amount"`
	Gross    Money    `json:"gross_amount"`
	Tax      Money    `json:"tax"`
	Net      Money    `json:"net_amount"`
}

// DeferredTaxPayment records the payment of a previous year's capital-gains tax.
type DeferredTaxPayment struct {
	Date            Date  `json:"date"`
	Year            int   `json:"year"` // year the gains were realized
	Amount          Money `json:"amount"`
	FromCash        Money `json:"amount_from_cash"`
	FromLiquidation Money `json:"amount_from_liquidation"`
	Shortfall       Money `json:"shortfall"`
}
