// Package renderer formats backtest results as markdown.
package renderer

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/etnz/backtest"
	md "github.com/nao1215/markdown"
)

// Options selects the optional sections of a report.
type Options struct {
	Events  bool // list rebalances, withdrawals and tax payments
	History bool // print every snapshot
}

// ResultMarkdown renders a single run.
func ResultMarkdown(r *backtest.Result, opts Options) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	cfg := r.Config

	doc.H1(fmt.Sprintf("Backtest %s to %s", cfg.Start, cfg.End))

	doc.H2("Parameters")
	doc.Table(md.TableSet{
		Alignment: []md.TableAlignment{md.AlignLeft, md.AlignRight},
		Header:    []string{"Parameter", "Value"},
		Rows: [][]string{
			{"Allocation", allocation(cfg.Allocation)},
			{"Initial Capital", backtest.M(cfg.InitialCapital, cfg.Currency).String()},
			{"Rebalancing", cfg.Frequency.String()},
			{"Withdrawal Rate", pct(cfg.WithdrawalRate)},
			{"Dividend Tax", pct(cfg.DividendTaxRate)},
			{"Capital Gains Tax", fmt.Sprintf("%s above %s", pct(cfg.CapitalGainsTaxRate), backtest.M(cfg.CapitalGainsExemption, cfg.Currency))},
			{"Transaction Cost", pct(cfg.TransactionCostRate)},
			{"Risk Free Rate", pct(cfg.RiskFreeRate)},
		},
	})

	doc.H2("Performance")
	doc.Table(md.TableSet{
		Alignment: []md.TableAlignment{md.AlignLeft, md.AlignRight},
		Header:    []string{md.Bold("Final Value"), md.Bold(r.Final.String())},
		Rows: [][]string{
			{"Initial Value", r.Initial.String()},
			{"Total Return", pct(r.TotalReturn)},
			{"CAGR", pct(r.CAGR)},
			{"Volatility", pct(r.Volatility)},
			{"Sharpe Ratio", ratio(r.Sharpe)},
			{"Max Drawdown", pct(r.MaxDrawdown)},
		},
	})

	doc.H2("Cash Flows")
	doc.Table(md.TableSet{
		Alignment: []md.TableAlignment{md.AlignLeft, md.AlignRight},
		Header:    []string{"Flow", "Amount"},
		Rows: [][]string{
			{"Withdrawals", r.TotalWithdrawal.String()},
			{"Dividends (gross)", r.TotalDividendGross.String()},
			{"Dividends (net)", r.TotalDividendNet.String()},
			{"Dividend Tax", r.TotalDividendTax.String()},
			{"Capital Gains Tax", r.TotalCapitalGainsTax.String()},
			{"Total Tax", r.TotalTax.String()},
			{"Transaction Costs", r.TotalTransactionCost.String()},
		},
	})

	if annual := r.Annual(); len(annual) > 0 {
		doc.H2("Annual Summary")
		table := md.TableSet{
			Alignment: []md.TableAlignment{md.AlignLeft, md.AlignRight, md.AlignRight, md.AlignRight,
				md.AlignRight, md.AlignRight, md.AlignRight, md.AlignRight},
			Header: []string{"Year", "Start", "End", "Return", "Withdrawal", "Dividends", "Taxes", "Costs"},
		}
		for _, a := range annual {
			table.Rows = append(table.Rows, []string{
				strconv.Itoa(a.Year),
				a.StartValue.String(),
				a.EndValue.String(),
				backtest.PercentOf(a.Return).SignedString(),
				a.Withdrawal.String(),
				a.DividendNet.String(),
				a.DividendTax.Add(a.CapitalGainsTax).String(),
				a.TransactionCost.String(),
			})
		}
		doc.Table(table)
	}

	if err := doc.Build(); err != nil {
		return err.Error()
	}
	buf.WriteString("\n")
	if opts.Events {
		events(&buf, r)
	}
	if opts.History {
		history(&buf, r)
	}
	return buf.String()
}

func allocation(a backtest.Allocation) string {
	s := ""
	for i, w := range a {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s %s", w.Symbol, pct(w.Weight))
	}
	return s
}

func events(w io.Writer, r *backtest.Result) {
	ConditionalBlock(w, func(w io.Writer) bool {
		doc := md.NewMarkdown(w)
		doc.H2("Rebalances")
		table := md.TableSet{
			Alignment: []md.TableAlignment{md.AlignLeft, md.AlignRight, md.AlignRight, md.AlignRight, md.AlignRight},
			Header:    []string{"Date", "Value Before", "Trades", "Realized Gain", "Cost"},
		}
		for _, e := range r.Rebalances {
			if len(e.Trades) == 0 {
				continue
			}
			table.Rows = append(table.Rows, []string{
				e.Date.String(),
				e.ValueBefore.String(),
				strconv.Itoa(len(e.Trades)),
				e.CapitalGain.SignedString(),
				e.TransactionCost.String(),
			})
		}
		doc.Table(table)
		doc.Build()
		io.WriteString(w, "\n")
		return len(table.Rows) > 0
	})

	ConditionalBlock(w, func(w io.Writer) bool {
		doc := md.NewMarkdown(w)
		doc.H2("Withdrawals")
		table := md.TableSet{
			Alignment: []md.TableAlignment{md.AlignLeft, md.AlignRight, md.AlignRight, md.AlignRight, md.AlignRight},
			Header:    []string{"Date", "Target", "From Cash", "From Sales", "Shortfall"},
		}
		for _, e := range r.Withdrawals {
			table.Rows = append(table.Rows, []string{
				e.Date.String(),
				e.Target.String(),
				e.FromCash.String(),
				e.FromLiquidation.String(),
				e.Shortfall.String(),
			})
		}
		doc.Table(table)
		doc.Build()
		io.WriteString(w, "\n")
		return len(table.Rows) > 0
	})

	ConditionalBlock(w, func(w io.Writer) bool {
		doc := md.NewMarkdown(w)
		doc.H2("Capital Gains Tax Payments")
		table := md.TableSet{
			Alignment: []md.TableAlignment{md.AlignLeft, md.AlignLeft, md.AlignRight, md.AlignRight, md.AlignRight},
			Header:    []string{"Date", "Tax Year", "Amount", "From Cash", "From Sales"},
		}
		for _, p := range r.TaxPayments {
			table.Rows = append(table.Rows, []string{
				p.Date.String(),
				strconv.Itoa(p.Year),
				p.Amount.String(),
				p.FromCash.String(),
				p.FromLiquidation.String(),
			})
		}
		doc.Table(table)
		doc.Build()
		io.WriteString(w, "\n")
		return len(table.Rows) > 0
	})
}

func history(w io.Writer, r *backtest.Result) {
	header, rows := r.HistoryTable()
	if len(rows) == 0 {
		return
	}
	doc := md.NewMarkdown(w)
	doc.H2("History")
	align := make([]md.TableAlignment, len(header))
	for i := range align {
		align[i] = md.AlignRight
	}
	align[0] = md.AlignLeft
	doc.Table(md.TableSet{Alignment: align, Header: header, Rows: rows})
	doc.Build()
}

// ComparisonMarkdown renders runs side by side, in input order.
func ComparisonMarkdown(cs []backtest.Comparison) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)

	if len(cs) > 0 {
		cfg := cs[0].Result.Config
		doc.H1(fmt.Sprintf("Comparison %s to %s", cfg.Start, cfg.End))
	} else {
		doc.H1("Comparison")
	}
	table := md.TableSet{
		Alignment: []md.TableAlignment{md.AlignLeft, md.AlignLeft, md.AlignRight, md.AlignRight,
			md.AlignRight, md.AlignRight, md.AlignRight, md.AlignRight},
		Header: []string{"Portfolio", "Allocation", "Final Value", "CAGR", "Volatility", "Sharpe", "Max Drawdown", "Total Tax"},
	}
	for _, c := range cs {
		r := c.Result
		table.Rows = append(table.Rows, []string{
			c.Name,
			allocation(r.Config.Allocation),
			r.Final.String(),
			pct(r.CAGR),
			pct(r.Volatility),
			ratio(r.Sharpe),
			pct(r.MaxDrawdown),
			r.TotalTax.String(),
		})
	}
	doc.Table(table)
	if err := doc.Build(); err != nil {
		return err.Error()
	}
	return buf.String()
}
