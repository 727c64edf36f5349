package strategy

import (
	"fmt"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/analysis"
)

// Predeclared builds the environment strategies execute in. Everything the
// analyzer allow-lists is available without load(); load() of the same
// modules also works for authors who prefer explicit imports.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"math":           starlarkmath.Module,
		"time":           starlarktime.Module,
		"json":           starlarkjson.Module,
		"stats":          statsModule,
		"talib":          talibModule,
		"hqg_algorithms": algosModule,

		// Not a Starlark builtin, but every ported strategy uses it.
		"sum": starlark.NewBuiltin("sum", sumFn),

		"TargetWeights":   starlark.NewBuiltin("TargetWeights", targetWeightsFn),
		"Hold":            starlark.NewBuiltin("Hold", holdFn),
		"Liquidate":       starlark.NewBuiltin("Liquidate", liquidateFn),
		"Cadence":         starlark.NewBuiltin("Cadence", cadenceFn),
		"BarSize":         barSizeModule,
		"ExecutionTiming": executionTimingModule,
	}
}

// loadModule backs the load() statement, resolving the same modules the
// analyzer allows.
func loadModule(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	if !analysis.AllowedLoadModules[module] {
		return nil, fmt.Errorf("load of module %q is not allowed", module)
	}
	var m *starlarkstruct.Module
	switch module {
	case "math":
		m = starlarkmath.Module
	case "time":
		m = starlarktime.Module
	case "json":
		m = starlarkjson.Module
	case "stats":
		m = statsModule
	case "talib":
		m = talibModule
	case "hqg_algorithms":
		m = algosModule
	}
	return m.Members, nil
}

func sumFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		values starlark.Value
		start  = 0.0
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values, "start?", &start); err != nil {
		return nil, err
	}
	xs, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	total := start
	for _, v := range xs {
		total += v
	}
	return starlark.Float(total), nil
}
