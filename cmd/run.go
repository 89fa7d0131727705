package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/etnz/backtest"
	"github.com/etnz/backtest/renderer"
	"github.com/google/subcommands"
	"github.com/rs/zerolog"
)

// runCmd holds the flags for the 'run' subcommand.
type runCmd struct {
	params
	format  string
	events  bool
	history bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "backtest an allocation over a window" }
func (*runCmd) Usage() string {
	return `etfbt run [-a <allocation>] [-s <start>] [-e <end>] [-format markdown|json|annual|history]

  Simulates a rebalanced ETF portfolio with periodic withdrawals, dividend
  and capital gains taxes, and transaction costs, and prints a report.
  Parameters not given as flags come from the configuration file.

Usage Examples:
# The default 60/30/10 allocation over the last 10 years.
$ etfbt run

# A custom allocation, rebalanced yearly, without withdrawals.
$ etfbt run -a SPY=0.8,BIL=0.2 -f yearly -withdrawal 0

`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	c.params.SetFlags(f)
	f.StringVar(&c.format, "format", "markdown", "Output format: markdown, json, annual (CSV) or history (CSV)")
	f.BoolVar(&c.events, "events", false, "List rebalances, withdrawals and tax payments in the report")
	f.BoolVar(&c.history, "history", false, "Print every snapshot in the report")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	appCfg, logger, err := app()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	cfg, err := c.config(f, appCfg.Backtest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	if err := cfg.Allocation.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	s, err := newStack(ctx, appCfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	if err := c.run(ctx, s.provider, cfg, logger, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *runCmd) run(ctx context.Context, p backtest.Provider, cfg backtest.Config, logger zerolog.Logger, w io.Writer) error {
	res, err := backtest.NewEngine(p, backtest.WithLogger(logger)).Run(ctx, cfg)
	if err != nil {
		return err
	}
	switch c.format {
	case "markdown", "":
		printMarkdown(w, renderer.ResultMarkdown(res, renderer.Options{Events: c.events, History: c.history}))
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "annual":
		return writeCSV(w, res.AnnualTable)
	case "history":
		return writeCSV(w, res.HistoryTable)
	default:
		return fmt.Errorf("unknown format %q", c.format)
	}
}

func writeCSV(w io.Writer, table func() ([]string, [][]string)) error {
	header, rows := table()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
