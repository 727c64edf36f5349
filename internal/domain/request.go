package domain

import "time"

// MaxStrategyCodeBytes caps the encoded size of submitted strategy code.
const MaxStrategyCodeBytes = 1 << 20 // 1 MiB

// BacktestRequest is the client-submitted description of one backtest run.
// Errors accumulates analyzer findings while the request moves through the
// pipeline and is never serialized outbound.
type BacktestRequest struct {
	StrategyCode   string    `json:"strategy_code"`
	Name           string    `json:"name,omitempty"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	Commission     float64   `json:"commission"`
	Slippage       float64   `json:"slippage"`

	Errors ErrorList `json:"-"`
}

// ValidateShape checks request fields that do not require looking at the
// strategy code itself. Violations map to HTTP 422.
func (r *BacktestRequest) ValidateShape() *ErrorList {
	errs := &ErrorList{}
	if r.StrategyCode == "" {
		errs.Add("strategy_code is required")
	}
	if len(r.StrategyCode) > MaxStrategyCodeBytes {
		errs.Addf("strategy_code exceeds %d bytes", MaxStrategyCodeBytes)
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		errs.Add("start_date and end_date are required")
	} else if !r.EndDate.After(r.StartDate) {
		errs.Add("end_date must be after start_date")
	}
	if r.InitialCapital <= 0 {
		errs.Add("initial_capital must be positive")
	}
	if r.Commission < 0 {
		errs.Add("commission must be non-negative")
	}
	if r.Slippage < 0 || r.Slippage > 1 {
		errs.Add("slippage must be in [0, 1]")
	}
	if errs.IsEmpty() {
		return nil
	}
	return errs
}

// DisplayName returns the request name, defaulting for unnamed runs.
func (r *BacktestRequest) DisplayName() string {
	if r.Name == "" {
		return "Unnamed Backtest"
	}
	return r.Name
}
