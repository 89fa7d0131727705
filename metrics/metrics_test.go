package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/etnz/backtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OK},
		{fmt.Errorf("%w: bad weights", backtest.ErrConfiguration), Configuration},
		{&backtest.DataError{Symbol: "SPY"}, Unavailable},
		{context.Canceled, Canceled},
		{fmt.Errorf("fetch: %w", context.DeadlineExceeded), Canceled},
		{errors.New("boom"), Failed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err), "Outcome(%v)", tt.err)
	}
}

func TestRegistry_ObserveRun(t *testing.T) {
	r := New(prometheus.NewRegistry())
	start := time.Now()
	r.ObserveRun("run", start, nil)
	r.ObserveRun("run", start, nil)
	r.ObserveRun("compare", start, &backtest.DataError{Symbol: "SPY"})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Runs.WithLabelValues("run", OK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Runs.WithLabelValues("compare", Unavailable)))
	assert.Equal(t, 2, testutil.CollectAndCount(r.RunDuration))
}

func TestRegistry_Provider(t *testing.T) {
	r := New(prometheus.NewRegistry())
	m := backtest.NewMarketData()
	m.AddPrice("SPY", backtest.NewDate(2024, time.January, 2), decimal.NewFromInt(470))
	p := r.Provider("static", backtest.StaticProvider{Data: m})
	jan := backtest.NewRange(backtest.NewDate(2024, time.January, 1), backtest.NewDate(2024, time.January, 31))

	_, err := p.Fetch(context.Background(), []string{"SPY"}, jan)
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), []string{"QQQ"}, jan)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Fetches.WithLabelValues("static", OK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Fetches.WithLabelValues("static", Unavailable)))
	assert.Equal(t, 1, testutil.CollectAndCount(r.FetchDuration))
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "registering twice on the same registry is a programming error")
}
