// Package metrics exposes Prometheus metrics of backtest runs and market data fetches.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/etnz/backtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of runs and fetches.
const (
	OK            = "ok"
	Configuration = "configuration"
	Unavailable   = "unavailable"
	Canceled      = "canceled"
	Failed        = "error"
)

// Registry holds every metric.
type Registry struct {
	Runs          *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	Fetches       *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	Requests      *prometheus.CounterVec
	RequestTime   *prometheus.HistogramVec
}

// New creates the metrics and registers them to reg.
func New(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_runs_total",
				Help: "Total number of backtest runs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtest_run_duration_seconds",
				Help:    "Duration of backtest runs in seconds, fetch included",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		Fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_market_fetches_total",
				Help: "Total number of market data fetches by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		FetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtest_market_fetch_duration_seconds",
				Help:    "Market data fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		RequestTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtest_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Outcome classifies err into one of the outcome labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, backtest.ErrConfiguration):
		return Configuration
	case errors.Is(err, backtest.ErrDataUnavailable):
		return Unavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Canceled
	default:
		return Failed
	}
}

// ObserveRun records a run of kind ("run" or "compare") that started at start.
func (r *Registry) ObserveRun(kind string, start time.Time, err error) {
	r.Runs.WithLabelValues(kind, Outcome(err)).Inc()
	r.RunDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Provider instruments p under name.
func (r *Registry) Provider(name string, p backtest.Provider) backtest.Provider {
	return backtest.ProviderFunc(func(ctx context.Context, symbols []string, rg backtest.Range) (*backtest.MarketData, error) {
		timer := prometheus.NewTimer(r.FetchDuration.WithLabelValues(name))
		data, err := p.Fetch(ctx, symbols, rg)
		timer.ObserveDuration()
		r.Fetches.WithLabelValues(name, Outcome(err)).Inc()
		return data, err
	})
}
