package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/etnz/backtest"
	"github.com/google/subcommands"
)

type fetchCmd struct {
	start string
	end   string
}

func (*fetchCmd) Name() string     { return "fetch" }
func (*fetchCmd) Synopsis() string { return "fetch market data into the configured caches" }
func (*fetchCmd) Usage() string {
	return `etfbt fetch [-s <start>] [-e <end>] <symbol>...

  Fetches prices and dividends of the symbols through the configured
  provider chain, so that later runs are served by the archive folder,
  the database and the cache. Prints the number of points fetched per symbol.

Usage Examples:
$ etfbt fetch -s 2014-01-01 SPY QQQ BIL

`
}

func (c *fetchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.start, "s", "", "Start date (YYYY-MM-DD), 10 years before the end by default")
	f.StringVar(&c.end, "e", "", "End date (YYYY-MM-DD), today by default")
}

func (c *fetchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one symbol is required")
		return subcommands.ExitUsageError
	}
	r, err := c.window(time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	appCfg, logger, err := app()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	s, err := newStack(ctx, appCfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	symbols := make([]string, f.NArg())
	for i, a := range f.Args() {
		symbols[i] = strings.ToUpper(a)
	}
	if err := fetch(ctx, s.provider, symbols, r, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *fetchCmd) window(now time.Time) (backtest.Range, error) {
	end := backtest.DateOf(now)
	if c.end != "" {
		var err error
		if end, err = backtest.ParseDate(c.end); err != nil {
			return backtest.Range{}, err
		}
	}
	start := backtest.NewDate(end.Year()-backtest.DefaultConfig().Years, time.January, 1)
	if c.start != "" {
		var err error
		if start, err = backtest.ParseDate(c.start); err != nil {
			return backtest.Range{}, err
		}
	}
	return backtest.NewRange(start, end), nil
}

func fetch(ctx context.Context, p backtest.Provider, symbols []string, r backtest.Range, w io.Writer) error {
	data, err := p.Fetch(ctx, symbols, r)
	if err != nil {
		return err
	}
	if err := data.Check(symbols, r); err != nil {
		return err
	}
	for _, s := range symbols {
		days := data.TradingDays(s, r)
		fmt.Fprintf(w, "%s: %d prices from %s to %s, %d dividends\n",
			s, len(days), days[0], days[len(days)-1], len(data.DividendsIn(s, r)))
	}
	return nil
}
