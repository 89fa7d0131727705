package backtest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// NamedAllocation is a candidate portfolio of a comparison.
type NamedAllocation struct {
	Name       string     `json:"name" yaml:"name"`
	Allocation Allocation `json:"allocation" yaml:"allocation"`
}

// Comparison is the result of one candidate.
type Comparison struct {
	Name   string  `json:"name"`
	Result *Result `json:"result"`
}

// Compare runs every portfolio with the parameters of base, at most parallelism at a time
// (unbounded when parallelism <= 0). Results are in the order of portfolios.
// The first failure cancels the remaining runs and is returned.
func Compare(ctx context.Context, e *Engine, base Config, portfolios []NamedAllocation, parallelism int) ([]Comparison, error) {
	if len(portfolios) == 0 {
		return nil, configErrorf("no portfolio to compare")
	}
	// resolve once so that every run shares the same window
	base = base.Resolve(e.now())

	res := make([]Comparison, len(portfolios))
	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, p := range portfolios {
		cfg := base
		cfg.Allocation = p.Allocation
		g.Go(func() error {
			r, err := e.Run(ctx, cfg)
			if err != nil {
				return fmt.Errorf("portfolio %q: %w", p.Name, err)
			}
			res[i] = Comparison{Name: p.Name, Result: r}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
