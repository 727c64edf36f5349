package strategy

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/analysis"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/engine"
)

// DefaultMaxSteps bounds total Starlark computation for one backtest:
// module initialization plus every on_data call share the budget. The
// ceiling is generous for honest strategies and fatal for runaway loops.
const DefaultMaxSteps uint64 = 500_000_000

// Program is a loaded, executable strategy. It implements engine.Strategy.
// A Program is bound to its thread and must not be shared across runs.
type Program struct {
	thread *starlark.Thread
	onData starlark.Callable
}

// Load executes the strategy's top level and resolves on_data. Any error
// here, a raise during module init included, is the user's to fix.
func Load(source string, maxSteps uint64, log zerolog.Logger) (*Program, error) {
	thread := &starlark.Thread{
		Name: "strategy",
		Load: loadModule,
		Print: func(_ *starlark.Thread, msg string) {
			log.Debug().Str("component", "strategy").Msg(msg)
		},
	}
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	thread.SetMaxExecutionSteps(maxSteps)

	globals, err := starlark.ExecFileOptions(analysis.FileOptions, thread, "strategy.star", source, Predeclared())
	if err != nil {
		return nil, evalError(err)
	}

	onData, ok := globals["on_data"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("strategy does not define a callable on_data")
	}
	return &Program{thread: thread, onData: onData}, nil
}

// OnData calls the strategy for one bar and interprets its return value.
func (p *Program) OnData(bar *engine.BarContext) (engine.Decision, error) {
	result, err := starlark.Call(p.thread, p.onData, starlark.Tuple{newBarView(bar), newPortfolioView(bar)}, nil)
	if err != nil {
		return engine.Decision{}, evalError(err)
	}
	return decisionFromValue(result)
}

// evalError flattens a Starlark error into a single message carrying the
// user-code backtrace, which is what lands in execution_errors.
func evalError(err error) error {
	if ee, ok := err.(*starlark.EvalError); ok {
		return fmt.Errorf("%s", ee.Backtrace())
	}
	return err
}
