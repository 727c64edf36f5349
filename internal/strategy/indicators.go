package strategy

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gonum.org/v1/gonum/stat"
)

// statsModule wraps the descriptive statistics strategies keep reinventing.
var statsModule = &starlarkstruct.Module{
	Name: "stats",
	Members: starlark.StringDict{
		"mean":        starlark.NewBuiltin("stats.mean", statsUnary(func(xs []float64) float64 { return stat.Mean(xs, nil) })),
		"stdev":       starlark.NewBuiltin("stats.stdev", statsUnary(func(xs []float64) float64 { return stat.StdDev(xs, nil) })),
		"variance":    starlark.NewBuiltin("stats.variance", statsUnary(func(xs []float64) float64 { return stat.Variance(xs, nil) })),
		"median":      starlark.NewBuiltin("stats.median", statsUnary(median)),
		"correlation": starlark.NewBuiltin("stats.correlation", statsCorrelation),
	},
}

func statsUnary(fn func([]float64) float64) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var values starlark.Value
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values); err != nil {
			return nil, err
		}
		xs, err := floatSlice(b.Name(), values)
		if err != nil {
			return nil, err
		}
		if len(xs) == 0 {
			return nil, fmt.Errorf("%s: empty sequence", b.Name())
		}
		return starlark.Float(fn(xs)), nil
	}
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func statsCorrelation(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x, "y", &y); err != nil {
		return nil, err
	}
	xs, err := floatSlice(b.Name(), x)
	if err != nil {
		return nil, err
	}
	ys, err := floatSlice(b.Name(), y)
	if err != nil {
		return nil, err
	}
	if len(xs) != len(ys) || len(xs) == 0 {
		return nil, fmt.Errorf("%s: sequences must be non-empty and equal length", b.Name())
	}
	return starlark.Float(stat.Correlation(xs, ys, nil)), nil
}

// algosModule holds the house helpers that predate talib adoption and are
// still the convenient shape for weight math.
var algosModule = &starlarkstruct.Module{
	Name: "hqg_algorithms",
	Members: starlark.StringDict{
		"returns":     starlark.NewBuiltin("hqg_algorithms.returns", algoReturns),
		"momentum":    starlark.NewBuiltin("hqg_algorithms.momentum", algoMomentum),
		"drawdown":    starlark.NewBuiltin("hqg_algorithms.drawdown", algoDrawdown),
		"rolling_max": starlark.NewBuiltin("hqg_algorithms.rolling_max", algoRolling(func(a, b float64) bool { return a > b })),
		"rolling_min": starlark.NewBuiltin("hqg_algorithms.rolling_min", algoRolling(func(a, b float64) bool { return a < b })),
		"normalize":   starlark.NewBuiltin("hqg_algorithms.normalize", algoNormalize),
	},
}

// returns: simple per-step percentage changes; output is one shorter than
// the input.
func algoReturns(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values); err != nil {
		return nil, err
	}
	xs, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, max(0, len(xs)-1))
	for i := 1; i < len(xs); i++ {
		if xs[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, xs[i]/xs[i-1]-1)
	}
	return floatsToList(out), nil
}

// momentum: total return over the trailing period, as a single number.
func algoMomentum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		values starlark.Value
		period int
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values, "period", &period); err != nil {
		return nil, err
	}
	xs, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	if period <= 0 || period >= len(xs) {
		return nil, fmt.Errorf("%s: period %d out of range for %d values", b.Name(), period, len(xs))
	}
	base := xs[len(xs)-1-period]
	if base == 0 {
		return starlark.Float(0), nil
	}
	return starlark.Float(xs[len(xs)-1]/base - 1), nil
}

// drawdown: fractional decline from the running peak, per step.
func algoDrawdown(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values); err != nil {
		return nil, err
	}
	xs, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(xs))
	peak := 0.0
	for i, v := range xs {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			out[i] = v/peak - 1
		}
	}
	return floatsToList(out), nil
}

func algoRolling(better func(a, b float64) bool) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			values starlark.Value
			window int
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values, "window", &window); err != nil {
			return nil, err
		}
		xs, err := floatSlice(b.Name(), values)
		if err != nil {
			return nil, err
		}
		if window <= 0 {
			return nil, fmt.Errorf("%s: window must be positive", b.Name())
		}
		out := make([]float64, len(xs))
		for i := range xs {
			lo := max(0, i-window+1)
			best := xs[lo]
			for j := lo + 1; j <= i; j++ {
				if better(xs[j], best) {
					best = xs[j]
				}
			}
			out[i] = best
		}
		return floatsToList(out), nil
	}
}

// normalize: rescale a series to start at 1.0.
func algoNormalize(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values); err != nil {
		return nil, err
	}
	xs, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 || xs[0] == 0 {
		return nil, fmt.Errorf("%s: series must be non-empty with a non-zero first value", b.Name())
	}
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = v / xs[0]
	}
	return floatsToList(out), nil
}
