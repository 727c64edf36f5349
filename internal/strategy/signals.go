// Package strategy hosts the Starlark runtime user code executes in: the
// predeclared environment, the per-bar data and portfolio views, and the
// adapter that turns a loaded strategy into something the engine can call.
package strategy

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/engine"
)

// decision is the opaque value strategies return from on_data.
type decision struct {
	kind    engine.DecisionKind
	weights map[string]float64
}

var _ starlark.Value = (*decision)(nil)

func (d *decision) String() string {
	switch d.kind {
	case engine.DecisionTargets:
		return fmt.Sprintf("TargetWeights(%v)", d.weights)
	case engine.DecisionLiquidate:
		return "Liquidate()"
	default:
		return "Hold()"
	}
}

func (d *decision) Type() string          { return "decision" }
func (d *decision) Freeze()               {}
func (d *decision) Truth() starlark.Bool  { return starlark.True }
func (d *decision) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: decision") }

func targetWeightsFn(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var weights *starlark.Dict
	if err := starlark.UnpackArgs("TargetWeights", args, kwargs, "weights", &weights); err != nil {
		return nil, err
	}
	out := make(map[string]float64, weights.Len())
	for _, item := range weights.Items() {
		sym, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("TargetWeights: keys must be ticker strings, got %s", item[0].Type())
		}
		w, ok := starlark.AsFloat(item[1])
		if !ok {
			return nil, fmt.Errorf("TargetWeights: weight for %s must be a number, got %s", sym, item[1].Type())
		}
		out[sym] = w
	}
	return &decision{kind: engine.DecisionTargets, weights: out}, nil
}

func holdFn(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs("Hold", args, kwargs); err != nil {
		return nil, err
	}
	return &decision{kind: engine.DecisionHold}, nil
}

func liquidateFn(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs("Liquidate", args, kwargs); err != nil {
		return nil, err
	}
	return &decision{kind: engine.DecisionLiquidate}, nil
}

// cadenceFn exists so top-level cadence declarations execute cleanly. The
// values are read statically before execution; at runtime the call just has
// to succeed and echo its arguments.
func cadenceFn(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var barSize, execution starlark.String
	if err := starlark.UnpackArgs("Cadence", args, kwargs, "bar_size?", &barSize, "execution?", &execution); err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlark.String("Cadence"), starlark.StringDict{
		"bar_size":  barSize,
		"execution": execution,
	}), nil
}

var barSizeModule = &starlarkstruct.Module{
	Name: "BarSize",
	Members: starlark.StringDict{
		"DAILY":     starlark.String("DAILY"),
		"WEEKLY":    starlark.String("WEEKLY"),
		"MONTHLY":   starlark.String("MONTHLY"),
		"QUARTERLY": starlark.String("QUARTERLY"),
	},
}

var executionTimingModule = &starlarkstruct.Module{
	Name: "ExecutionTiming",
	Members: starlark.StringDict{
		"CLOSE_TO_CLOSE":     starlark.String("CLOSE_TO_CLOSE"),
		"CLOSE_TO_NEXT_OPEN": starlark.String("CLOSE_TO_NEXT_OPEN"),
		"OPEN_TO_OPEN":       starlark.String("OPEN_TO_OPEN"),
	},
}

// decisionFromValue interprets an on_data return value. None means hold; a
// bare dict of weights is accepted as shorthand for TargetWeights.
func decisionFromValue(v starlark.Value) (engine.Decision, error) {
	switch val := v.(type) {
	case *decision:
		return engine.Decision{Kind: val.kind, Weights: val.weights}, nil
	case starlark.NoneType:
		return engine.Decision{Kind: engine.DecisionHold}, nil
	case *starlark.Dict:
		conv, err := targetWeightsFn(nil, nil, starlark.Tuple{val}, nil)
		if err != nil {
			return engine.Decision{}, err
		}
		d := conv.(*decision)
		return engine.Decision{Kind: d.kind, Weights: d.weights}, nil
	default:
		return engine.Decision{}, fmt.Errorf("on_data must return TargetWeights(...), Hold(), Liquidate(), or None; got %s", v.Type())
	}
}

// sortedKeys is shared by the views' String methods for stable output.
func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
