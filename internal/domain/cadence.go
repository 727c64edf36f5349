package domain

import "fmt"

// BarSize is the sampling interval of the market data a strategy sees.
// Intraday sizes are deliberately unsupported.
type BarSize string

const (
	BarSizeDaily     BarSize = "DAILY"
	BarSizeWeekly    BarSize = "WEEKLY"
	BarSizeMonthly   BarSize = "MONTHLY"
	BarSizeQuarterly BarSize = "QUARTERLY"
)

// PeriodsPerYear returns the annualization factor for the bar size.
func (b BarSize) PeriodsPerYear() float64 {
	switch b {
	case BarSizeWeekly:
		return 52
	case BarSizeMonthly:
		return 12
	case BarSizeQuarterly:
		return 4
	default:
		return 252
	}
}

// ParseBarSize validates a bar size name.
func ParseBarSize(s string) (BarSize, error) {
	switch BarSize(s) {
	case BarSizeDaily, BarSizeWeekly, BarSizeMonthly, BarSizeQuarterly:
		return BarSize(s), nil
	}
	return "", fmt.Errorf("unsupported bar size: %q", s)
}

// ExecutionTiming describes when a strategy's decisions actually fill.
type ExecutionTiming string

const (
	// Decide on a bar's close, fill at that same close.
	CloseToClose ExecutionTiming = "CLOSE_TO_CLOSE"
	// Decide on a bar's close, fill at the next bar's open. Target shares
	// are computed from the decision bar's closes.
	CloseToNextOpen ExecutionTiming = "CLOSE_TO_NEXT_OPEN"
	// Decide on a bar's close, size and fill entirely at the next bar's open.
	OpenToOpen ExecutionTiming = "OPEN_TO_OPEN"
)

// ParseExecutionTiming validates an execution timing name.
func ParseExecutionTiming(s string) (ExecutionTiming, error) {
	switch ExecutionTiming(s) {
	case CloseToClose, CloseToNextOpen, OpenToOpen:
		return ExecutionTiming(s), nil
	}
	return "", fmt.Errorf("unknown execution timing: %q", s)
}

// Cadence pairs a bar size with an execution timing.
type Cadence struct {
	BarSize   BarSize         `json:"bar_size"`
	Execution ExecutionTiming `json:"execution"`
}

// DefaultCadence is daily bars with close-to-close fills.
func DefaultCadence() Cadence {
	return Cadence{BarSize: BarSizeDaily, Execution: CloseToClose}
}

// StrategyMetadata is what the metadata extractor reads out of user code
// without executing it.
type StrategyMetadata struct {
	Universe []string `json:"universe"`
	Cadence  Cadence  `json:"cadence"`
}
