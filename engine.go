package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// tradeThreshold is the smallest rebalance trade value worth executing.
var tradeThreshold = decimal.NewFromInt(1)

// Engine runs backtests against a Provider.
type Engine struct {
	provider Provider
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for run and event traces.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock sets the clock used to resolve default dates.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine returns an engine fetching its market data from p.
func NewEngine(p Provider, opts ...Option) *Engine {
	e := &Engine{provider: p, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run simulates cfg and returns its result. Nothing partial is returned on error.
//
// The error is ErrConfiguration for invalid parameters and ErrDataUnavailable when the
// provider cannot cover every symbol over the run window.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	cfg = cfg.Resolve(e.now())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	window := cfg.Range()
	schedule, err := NewSchedule(cfg.Frequency, window)
	if err != nil {
		return nil, err
	}
	log := e.logger.With().Str("start", window.From.String()).Str("end", window.To.String()).Logger()
	if schedule.Len() == 0 {
		log.Info().Msg("no rebalance boundary in range, nothing to simulate")
		return emptyResult(cfg), nil
	}

	symbols := cfg.Allocation.Symbols()
	data, err := e.provider.Fetch(ctx, symbols, window)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch market data: %w", err)
	}
	data = data.Window(window)
	if err := data.Check(symbols, window); err != nil {
		return nil, err
	}

	log.Info().Strs("symbols", symbols).Str("frequency", cfg.Frequency.String()).Msg("backtest started")
	sim := newSimulation(cfg, data, schedule, log)
	sim.run()
	res := sim.result()
	log.Info().
		Str("final_value", res.Final.String()).
		Float64("cagr", res.CAGR).
		Int("rebalances", len(res.Rebalances)).
		Msg("backtest done")
	return res, nil
}

// simulation is the state of a single run. It is never shared.
type simulation struct {
	cfg      Config
	symbols  []string
	weights  map[string]decimal.Decimal
	costRate decimal.Decimal
	market   *MarketData
	calendar *calendar
	holdings *Holdings
	taxes    *TaxLedger
	log      zerolog.Logger

	flows          cumulative
	dividendCutoff Date // first ex-date not yet collected
	lastYear       int
	txCost         Money

	snapshots   []Snapshot
	rebalances  []RebalanceEvent
	withdrawals []WithdrawalEvent
	dividends   []DividendEvent
	payments    []DeferredTaxPayment
}

func newSimulation(cfg Config, market *MarketData, schedule *Schedule, log zerolog.Logger) *simulation {
	taxes := NewTaxLedger(cfg.DividendTaxRate, cfg.CapitalGainsTaxRate, M(cfg.CapitalGainsExemption, cfg.Currency))
	return &simulation{
		cfg:            cfg,
		symbols:        cfg.Allocation.Symbols(),
		weights:        cfg.Allocation.decimals(),
		costRate:       decimal.NewFromFloat(cfg.TransactionCostRate),
		market:         market,
		calendar:       newCalendar(schedule),
		holdings:       NewHoldings(M(cfg.InitialCapital, cfg.Currency)),
		taxes:          taxes,
		log:            log,
		dividendCutoff: cfg.Start,
		flows: cumulative{
			withdrawal: M(0, cfg.Currency),
			dividend:   M(0, cfg.Currency),
			tax:        M(0, cfg.Currency),
		},
		txCost: M(0, cfg.Currency),
	}
}

func (s *simulation) run() {
	s.snapshot(s.cfg.Start)
	for _, day := range s.market.TradingDays(s.symbols[0], s.cfg.Range()) {
		s.execute(s.calendar.classify(day))
	}

	// A boundary on the end date is missed when the end date is not a trading day.
	end := s.cfg.End
	if s.calendar.schedule.Pending(end) {
		p := s.calendar.classify(end)
		p.Snapshot = false // the final snapshot follows
		s.execute(p)
	}

	s.collectDividends(end)
	if s.lastYear != 0 {
		s.taxes.SettleYear(s.lastYear)
		// that tax would only be due after the window: charge it now
		s.payDeferredTax(s.lastYear+1, end)
	}
	s.flows.tax = s.taxes.TotalTax()
	s.snapshot(end)
}

// execute applies a day plan. Closing the previous year comes first: it only reads gains
// realized in that year, and the payment due today needs it.
func (s *simulation) execute(p dayPlan) {
	if p.SettleYear != 0 {
		tax := s.taxes.SettleYear(p.SettleYear)
		s.log.Debug().Int("year", p.SettleYear).Str("tax", tax.String()).Msg("year settled")
	}
	if p.PayDeferredTax {
		s.payDeferredTax(p.Day.Year(), p.Day)
	}
	if p.Rebalance {
		if p.Initial {
			s.initialPurchase(p.Day)
		}
		s.collectDividends(p.Day)
		s.withdraw(p.Day)
		s.rebalance(p.Day)
	}
	s.lastYear = p.Day.Year()
	if p.Snapshot {
		s.snapshot(p.Day)
	}
}

func (s *simulation) snapshot(day Date) {
	s.snapshots = append(s.snapshots, takeSnapshot(day, s.symbols, s.holdings, s.market, s.flows))
}

func (s *simulation) price(symbol string, day Date) (Money, bool) {
	p, ok := s.market.PriceOn(symbol, day)
	if !ok || !p.IsPositive() {
		return Money{}, false
	}
	return p, true
}

// initialPurchase invests the initial capital at target weights, without cost.
// Shares bought at the close of day are not entitled to dividends going ex on or before day.
func (s *simulation) initialPurchase(day Date) {
	s.dividendCutoff = day.Add(1)
	capital := M(s.cfg.InitialCapital, s.cfg.Currency)
	event := RebalanceEvent{
		Date:            day,
		ValueBefore:     capital,
		CapitalGain:     M(0, s.cfg.Currency),
		TransactionCost: M(0, s.cfg.Currency),
		InitialPurchase: true,
	}
	for _, symbol := range s.symbols {
		price, ok := s.price(symbol, day)
		if !ok {
			continue
		}
		value := capital.MulRate(s.weights[symbol])
		shares := value.DivPrice(price)
		if err := s.holdings.Buy(symbol, shares, price); err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("initial purchase")
			continue
		}
		event.Trades = append(event.Trades, Trade{
			Symbol:          symbol,
			Shares:          shares,
			Price:           price,
			Value:           value,
			TransactionCost: M(0, s.cfg.Currency),
			SharesAfter:     shares,
		})
	}
	s.rebalances = append(s.rebalances, event)
	s.log.Debug().Str("date", day.String()).Int("trades", len(event.Trades)).Msg("initial purchase")
}

// collectDividends credits the net dividends with an ex-date from the cutoff to day.
func (s *simulation) collectDividends(day Date) {
	if day.Before(s.dividendCutoff) {
		return
	}
	window := Range{From: s.dividendCutoff, To: day}
	for _, symbol := range s.holdings.Symbols() {
		shares := s.holdings.Shares(symbol)
		if !shares.IsPositive() {
			continue
		}
		for _, d := range s.market.DividendsIn(symbol, window) {
			gross := d.PerShare.Mul(shares).In(s.cfg.Currency)
			tax := s.taxes.ApplyDividendTax(gross, d.Date)
			s.holdings.Credit(tax.Net)
			s.flows.dividend = s.flows.dividend.Add(tax.Net)
			s.flows.tax = s.flows.tax.Add(tax.Tax)
			s.dividends = append(s.dividends, DividendEvent{
				Date:     d.Date,
				Symbol:   symbol,
				Shares:   shares,
				PerShare: d.PerShare,
				Gross:    gross,
				Tax:      tax.Tax,
				Net:      tax.Net,
			})
			s.log.Debug().Str("date", d.Date.String()).Str("symbol", symbol).Str("net", tax.Net.String()).Msg("dividend")
		}
	}
	s.dividendCutoff = day.Add(1)
}

// liquidate sells amount × target weight worth of each held symbol, clamped to the shares
// held, and returns the proceeds and the gain realized. Proceeds are credited to cash.
func (s *simulation) liquidate(day Date, amount Money) (proceeds, gain Money) {
	proceeds, gain = M(0, s.cfg.Currency), M(0, s.cfg.Currency)
	for _, symbol := range s.symbols {
		held := s.holdings.Shares(symbol)
		if !held.IsPositive() {
			continue
		}
		price, ok := s.price(symbol, day)
		if !ok {
			continue
		}
		want := amount.MulRate(s.weights[symbol]).DivPrice(price)
		sold, g, err := s.holdings.Sell(symbol, want, price)
		if err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("liquidation")
			continue
		}
		proceeds = proceeds.Add(price.Mul(sold))
		gain = gain.Add(g)
	}
	return proceeds, gain
}

// availableCash is the part of the cash balance that can pay something.
func (s *simulation) availableCash(want Money) Money {
	cash := s.holdings.Cash()
	if !cash.IsPositive() {
		return M(0, s.cfg.Currency)
	}
	return cash.Min(want)
}

// payDeferredTax pays the capital-gains tax due in year: from cash first, then by selling
// at target weights. Those sales are not taxable events.
func (s *simulation) payDeferredTax(year int, day Date) {
	tax := s.taxes.DeferredTaxDue(year)
	if !tax.IsPositive() {
		return
	}
	fromCash := s.availableCash(tax)
	s.holdings.Debit(fromCash)
	payment := DeferredTaxPayment{
		Date:            day,
		Year:            year - 1,
		Amount:          tax,
		FromCash:        fromCash,
		FromLiquidation: M(0, s.cfg.Currency),
		Shortfall:       M(0, s.cfg.Currency),
	}
	if remaining := tax.Sub(fromCash); remaining.IsPositive() {
		proceeds, _ := s.liquidate(day, remaining)
		s.holdings.Debit(proceeds)
		payment.FromLiquidation = proceeds
		if short := remaining.Sub(proceeds); short.IsPositive() {
			payment.Shortfall = short
		}
	}
	s.payments = append(s.payments, payment)
	s.flows.tax = s.flows.tax.Add(tax)
	s.log.Debug().Str("date", day.String()).Int("year", year-1).Str("tax", tax.String()).Msg("deferred tax paid")
}

// withdraw pays out the periodic withdrawal: from cash first, then by selling at target weights.
func (s *simulation) withdraw(day Date) {
	target := s.holdings.Value(day, s.market).MulRate(s.cfg.periodicWithdrawalRate())
	if !target.IsPositive() {
		return
	}
	fromCash := s.availableCash(target)
	s.holdings.Debit(fromCash)
	event := WithdrawalEvent{
		Date:            day,
		Target:          target,
		FromCash:        fromCash,
		FromLiquidation: M(0, s.cfg.Currency),
		Shortfall:       M(0, s.cfg.Currency),
		TransactionCost: M(0, s.cfg.Currency),
	}
	if remaining := target.Sub(fromCash); remaining.IsPositive() {
		proceeds, gain := s.liquidate(day, remaining)
		s.taxes.RecordGain(gain, day)
		cost := proceeds.MulRate(s.costRate)
		s.holdings.Debit(proceeds)
		s.holdings.Debit(cost)
		s.txCost = s.txCost.Add(cost)
		event.FromLiquidation = proceeds
		event.TransactionCost = cost
		if short := remaining.Sub(proceeds); short.IsPositive() {
			event.Shortfall = short
		}
	}
	s.withdrawals = append(s.withdrawals, event)
	s.flows.withdrawal = s.flows.withdrawal.Add(event.Withdrawn())
	s.log.Debug().Str("date", day.String()).Str("amount", event.Withdrawn().String()).Msg("withdrawal")
}

// rebalance trades every symbol toward its target weight of the portfolio value.
func (s *simulation) rebalance(day Date) {
	total := s.holdings.Value(day, s.market)
	event := RebalanceEvent{
		Date:            day,
		ValueBefore:     total,
		CapitalGain:     M(0, s.cfg.Currency),
		TransactionCost: M(0, s.cfg.Currency),
	}
	traded := M(0, s.cfg.Currency)
	for _, symbol := range s.symbols {
		price, ok := s.price(symbol, day)
		if !ok {
			continue
		}
		before := s.holdings.Shares(symbol)
		diff := total.MulRate(s.weights[symbol]).Sub(price.Mul(before))
		if diff.Abs().Decimal().LessThanOrEqual(tradeThreshold) {
			continue
		}
		shares := diff.DivPrice(price)
		if shares.IsNegative() {
			sold, gain, err := s.holdings.Sell(symbol, shares.Neg(), price)
			if err != nil {
				s.log.Error().Err(err).Str("symbol", symbol).Msg("rebalance sell")
				continue
			}
			s.taxes.RecordGain(gain, day)
			event.CapitalGain = event.CapitalGain.Add(gain)
			shares = sold.Neg()
		} else if err := s.holdings.Buy(symbol, shares, price); err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("rebalance buy")
			continue
		}
		value := price.Mul(shares)
		cost := value.Abs().MulRate(s.costRate)
		traded = traded.Add(value.Abs())
		event.TransactionCost = event.TransactionCost.Add(cost)
		event.Trades = append(event.Trades, Trade{
			Symbol:          symbol,
			Shares:          shares,
			Price:           price,
			Value:           value,
			TransactionCost: cost,
			SharesBefore:    before,
			SharesAfter:     s.holdings.Shares(symbol),
		})
	}
	if traded.IsPositive() {
		s.holdings.Debit(event.TransactionCost)
		s.txCost = s.txCost.Add(event.TransactionCost)
	}
	s.rebalances = append(s.rebalances, event)
	s.log.Debug().Str("date", day.String()).Int("trades", len(event.Trades)).Str("cost", event.TransactionCost.String()).Msg("rebalance")
}
