package cmd

import (
	"github.com/etnz/backtest/docs"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

// Completion describes the command line for shell completion.
// Run the binary with COMP_INSTALL=1 to install it.
func Completion() *complete.Command {
	global := map[string]complete.Predictor{
		"config": predict.Files("*.yaml"),
		"v":      predict.Nothing,
		"raw":    predict.Nothing,
	}
	params := map[string]complete.Predictor{
		"a":            predict.Something,
		"s":            predict.Something,
		"e":            predict.Something,
		"years":        predict.Something,
		"capital":      predict.Something,
		"f":            predict.Set{"quarterly", "yearly"},
		"withdrawal":   predict.Something,
		"dividend-tax": predict.Something,
		"gains-tax":    predict.Something,
		"exemption":    predict.Something,
		"cost":         predict.Something,
		"risk-free":    predict.Something,
		"currency":     predict.Something,
	}
	with := func(extra map[string]complete.Predictor) map[string]complete.Predictor {
		m := make(map[string]complete.Predictor, len(params)+len(extra))
		for k, v := range params {
			m[k] = v
		}
		for k, v := range extra {
			m[k] = v
		}
		return m
	}
	topics, _ := docs.All()
	return &complete.Command{
		Flags: global,
		Sub: map[string]*complete.Command{
			"run": {Flags: with(map[string]complete.Predictor{
				"format":  predict.Set{"markdown", "json", "annual", "history"},
				"events":  predict.Nothing,
				"history": predict.Nothing,
			})},
			"compare": {Flags: with(map[string]complete.Predictor{
				"p": predict.Files("*.yaml"),
				"j": predict.Something,
			})},
			"fetch": {
				Flags: map[string]complete.Predictor{"s": predict.Something, "e": predict.Something},
				Args:  predict.Something,
			},
			"migrate":  {},
			"serve":    {Flags: map[string]complete.Predictor{"addr": predict.Something}},
			"topic":    {Args: predict.Set(append(topics, "*"))},
			"help":     {},
			"flags":    {},
			"commands": {},
		},
	}
}
