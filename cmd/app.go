// Package cmd implements the etfbt command line application.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/etnz/backtest"
	"github.com/etnz/backtest/archive"
	"github.com/etnz/backtest/cache"
	"github.com/etnz/backtest/eodhd"
	"github.com/etnz/backtest/remote"
	"github.com/etnz/backtest/store"
	"github.com/etnz/backtest/yahoo"
	"github.com/google/subcommands"
	"github.com/rs/zerolog"
)

// Register the subcommands.
// A main package will call Register() to allow subcommands, and Execute() on the user-selected one.
func Register(c *subcommands.Commander) {
	c.Register(&runCmd{}, "backtest")
	c.Register(&compareCmd{}, "backtest")

	c.Register(&fetchCmd{}, "market data")
	c.Register(&migrateCmd{}, "market data")

	c.Register(&serveCmd{}, "server")

	c.Register(&topicCmd{}, "help")
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var configFile = flag.String("config", "", "Path to the configuration file (default ./backtest.yaml if present)")
var verbose = flag.Bool("v", false, "Log debug messages")
var raw = flag.Bool("raw", false, "Print markdown without terminal rendering")

// app loads the configuration and the logger for a command.
func app() (*AppConfig, zerolog.Logger, error) {
	cfg, err := LoadConfig(*configFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(cfg.LogLevel, *verbose), nil
}

func newLogger(level string, verbose bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(lvl).With().Timestamp().Logger()
}

// remoteOptions returns the HTTP client settings of cfg.
func remoteOptions(cfg HTTPConfig) []remote.Option {
	opts := []remote.Option{
		remote.WithRetries(cfg.Retries, cfg.Backoff),
		remote.WithBreaker(cfg.BreakerFailures, cfg.BreakerOpen),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, remote.WithRateLimit(cfg.RateLimit, max(cfg.Burst, 1)))
	}
	if cfg.CacheDir != "" {
		opts = append(opts, remote.WithDiskCache(cfg.CacheDir))
	}
	return opts
}

// source returns the remote market data provider selected by cfg.
func source(cfg *AppConfig, logger zerolog.Logger) (backtest.Provider, error) {
	opts := remoteOptions(cfg.HTTP)
	switch cfg.Provider {
	case "eodhd", "":
		if cfg.EODHD.APIKey == "" {
			return nil, fmt.Errorf("eodhd provider needs an API key: set BACKTEST_EODHD_API_KEY or eodhd.api_key")
		}
		return eodhd.New(cfg.EODHD.APIKey,
			eodhd.WithBaseURL(cfg.EODHD.BaseURL),
			eodhd.WithExchange(cfg.EODHD.Exchange),
			eodhd.WithLogger(logger),
			eodhd.WithRemote(opts...),
		), nil
	case "yahoo":
		return yahoo.New(cfg.Yahoo.BaseURL, logger, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q, want eodhd, yahoo or archive", cfg.Provider)
	}
}

// stack is the provider chain of a command and what must be closed after use.
type stack struct {
	provider backtest.Provider
	closers  []io.Closer
}

func (s *stack) Close() {
	for _, c := range s.closers {
		c.Close()
	}
}

// wrap is applied to the remote provider before the store and cache decorators.
type wrap func(backtest.Provider) backtest.Provider

// newStack builds cache → store → archive → remote, skipping the layers that are not configured.
// The archive provider has no remote: it only serves the archive folder.
func newStack(ctx context.Context, cfg *AppConfig, logger zerolog.Logger, w wrap) (*stack, error) {
	var p backtest.Provider
	if cfg.Provider != "archive" {
		var err error
		if p, err = source(cfg, logger); err != nil {
			return nil, err
		}
		if w != nil {
			p = w(p)
		}
	}
	if cfg.Archive.Dir != "" {
		p = archive.New(cfg.Archive.Dir, p, archive.WithLogger(logger))
	} else if p == nil {
		return nil, fmt.Errorf("archive provider needs a folder: set archive.dir")
	}
	s := &stack{}
	if cfg.Database.DSN != "" {
		db, err := store.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db)
		p = store.New(db, p, store.WithTimeout(cfg.Database.Timeout), store.WithLogger(logger))
	}
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, rdb)
		p = cache.New(rdb, p, cache.WithTTL(cfg.Redis.TTL), cache.WithLogger(logger))
	}
	s.provider = p
	return s, nil
}

// printMarkdown renders md for the terminal, or prints it as is when rendering fails.
func printMarkdown(w io.Writer, md string) {
	if *raw {
		fmt.Fprint(w, md)
		return
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(0))
	if err != nil {
		fmt.Fprint(w, md)
		return
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Fprint(w, md)
		return
	}
	fmt.Fprint(w, out)
}
