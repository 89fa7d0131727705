package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/backtest/store"
	"github.com/google/subcommands"
)

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create the market data tables" }
func (*migrateCmd) Usage() string {
	return `etfbt migrate

  Creates the prices, dividends and coverage tables in the database of
  database.dsn (or BACKTEST_DATABASE_DSN). Existing tables are kept.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {}

func (c *migrateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	appCfg, logger, err := app()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if appCfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "Error: no database configured, set database.dsn")
		return subcommands.ExitUsageError
	}
	db, err := store.Open(ctx, appCfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	if err := store.New(db, nil, store.WithLogger(logger)).Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	logger.Info().Msg("tables ready")
	return subcommands.ExitSuccess
}
