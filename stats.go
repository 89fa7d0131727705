package backtest

import "math"

// Statistics are computed in float64 from the exact series: they are ratios meant for display
// and comparison, not accounting.

// Returns returns the period-over-period returns of values. A step from a zero value is skipped.
func Returns(values []float64) []float64 {
	var res []float64
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		res = append(res, values[i]/values[i-1]-1)
	}
	return res
}

// StdDev returns the sample standard deviation of xs, 0 with fewer than two points.
func StdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(n)
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(n-1))
}

// Volatility annualizes the standard deviation of the returns of values sampled periodsPerYear times a year.
func Volatility(values []float64, periodsPerYear int) float64 {
	return StdDev(Returns(values)) * math.Sqrt(float64(periodsPerYear))
}

// CAGR returns the compound annual growth rate from initial to final over years.
// A non-positive duration or initial value yields 0; a total loss yields -1.
func CAGR(initial, final, years float64) float64 {
	if years <= 0 || initial <= 0 {
		return 0
	}
	ratio := final / initial
	if ratio <= 0 {
		return -1
	}
	return math.Pow(ratio, 1/years) - 1
}

// Sharpe returns the excess annual return per unit of volatility, 0 when volatility is 0.
func Sharpe(cagr, riskFree, volatility float64) float64 {
	if volatility == 0 {
		return 0
	}
	return (cagr - riskFree) / volatility
}

// MaxDrawdown returns the deepest fall from a running maximum, as a non-positive fraction.
func MaxDrawdown(values []float64) float64 {
	var peak, worst float64
	for i, v := range values {
		if i == 0 || v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (v - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}
