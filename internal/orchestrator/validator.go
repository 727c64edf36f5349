// Package orchestrator runs the backtest pipeline for one request: static
// analysis, metadata extraction, market data, sandboxed execution, output
// validation. A semaphore bounds how many pipelines hold the expensive
// stages at once.
package orchestrator

import (
	"math"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// ValidateOutput vets what came back across the sandbox boundary. The
// child is trusted code, but it ran user code; a result that violates these
// basics means something went wrong in a way the child did not catch, and
// it must not reach a client as if it were a finished backtest.
func ValidateOutput(result *domain.RawExecutionResult) *domain.ErrorList {
	errs := &domain.ErrorList{}

	if math.IsNaN(result.FinalValue) || math.IsInf(result.FinalValue, 0) {
		errs.Add("final portfolio value is not finite")
	} else if result.FinalValue < 0 {
		errs.Add("final portfolio value is negative")
	}

	if len(result.EquityCurve) == 0 {
		errs.Add("equity curve is empty")
	}
	for date, v := range result.EquityCurve {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs.Addf("equity value at %s is not finite", date)
			break
		}
	}

	for _, t := range result.Trades {
		if t.Price <= 0 || math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
			errs.Addf("trade %d has invalid price %f", t.ID, t.Price)
			break
		}
		if t.Amount <= 0 || math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
			errs.Addf("trade %d has invalid amount %f", t.ID, t.Amount)
			break
		}
	}

	if errs.IsEmpty() {
		return nil
	}
	return errs
}
