package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/etnz/backtest"
	"github.com/etnz/backtest/renderer"
	"github.com/google/subcommands"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type compareCmd struct {
	params
	portfolios  string
	parallelism int
}

func (*compareCmd) Name() string     { return "compare" }
func (*compareCmd) Synopsis() string { return "backtest several allocations with the same parameters" }
func (*compareCmd) Usage() string {
	return `etfbt compare -p <portfolios.yaml> [-s <start>] [-e <end>]

  Runs every portfolio of the file with the same parameters and prints their
  metrics side by side. The file is a YAML list:

  - name: balanced
    allocation: {SPY: 0.6, QQQ: 0.3, BIL: 0.1}
  - name: equities
    allocation: {SPY: 1}

`
}

func (c *compareCmd) SetFlags(f *flag.FlagSet) {
	c.params.SetFlags(f)
	f.StringVar(&c.portfolios, "p", "portfolios.yaml", "YAML file listing the portfolios to compare")
	f.IntVar(&c.parallelism, "j", 4, "Maximum number of concurrent runs")
}

func (c *compareCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
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
	portfolios, err := readPortfolios(c.portfolios)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	s, err := newStack(ctx, appCfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	if err := c.run(ctx, s.provider, cfg, portfolios, logger, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *compareCmd) run(ctx context.Context, p backtest.Provider, cfg backtest.Config, portfolios []backtest.NamedAllocation, logger zerolog.Logger, w io.Writer) error {
	e := backtest.NewEngine(p, backtest.WithLogger(logger))
	res, err := backtest.Compare(ctx, e, cfg, portfolios, c.parallelism)
	if err != nil {
		return err
	}
	printMarkdown(w, renderer.ComparisonMarkdown(res))
	return nil
}

// readPortfolios decodes and validates a YAML portfolio list.
func readPortfolios(path string) ([]backtest.NamedAllocation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodePortfolios(f)
}

func decodePortfolios(r io.Reader) ([]backtest.NamedAllocation, error) {
	var portfolios []backtest.NamedAllocation
	if err := yaml.NewDecoder(r).Decode(&portfolios); err != nil {
		return nil, fmt.Errorf("cannot decode portfolios: %w", err)
	}
	if len(portfolios) == 0 {
		return nil, fmt.Errorf("no portfolio to compare")
	}
	for i, p := range portfolios {
		if p.Name == "" {
			return nil, fmt.Errorf("portfolio #%d has no name", i+1)
		}
		if err := p.Allocation.Validate(); err != nil {
			return nil, fmt.Errorf("portfolio %q: %w", p.Name, err)
		}
	}
	return portfolios, nil
}
