package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/etnz/backtest"
	"github.com/etnz/backtest/metrics"
	"github.com/etnz/backtest/server"
	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type serveCmd struct {
	addr string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve backtests over HTTP" }
func (*serveCmd) Usage() string {
	return `etfbt serve [-addr <host:port>]

  Serves POST /v1/backtests and POST /v1/comparisons with JSON bodies,
  GET /healthz and Prometheus metrics on GET /metrics.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "Listen address, overrides server.addr")
}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	appCfg, logger, err := app()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	addr := appCfg.Server.Addr
	if c.addr != "" {
		addr = c.addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx, appCfg, logger, func(p backtest.Provider) backtest.Provider {
		return m.Provider(appCfg.Provider, p)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	engine := backtest.NewEngine(s.provider, backtest.WithLogger(logger))
	srv := server.New(engine,
		server.WithMetrics(m, reg),
		server.WithLogger(logger),
		server.WithParallelism(appCfg.Server.Parallelism),
		server.WithTimeout(appCfg.Server.Timeout),
	)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
