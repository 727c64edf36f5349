package engine

import (
	"fmt"
	"time"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/marketdata"
)

// DecisionKind discriminates what a strategy asked for on a bar.
type DecisionKind int

const (
	// DecisionHold keeps current positions.
	DecisionHold DecisionKind = iota
	// DecisionTargets rebalances to the attached weights.
	DecisionTargets
	// DecisionLiquidate closes every position.
	DecisionLiquidate
)

// Decision is a strategy's output for one bar.
type Decision struct {
	Kind    DecisionKind
	Weights map[string]float64
}

// BarContext is what a strategy sees on each bar: the frame, the current
// index into it, and a read-only view of the portfolio.
type BarContext struct {
	Frame     *marketdata.Frame
	Index     int
	Portfolio *Portfolio
}

// Strategy is called once per canonical bar, at that bar's close.
type Strategy interface {
	OnData(bar *BarContext) (Decision, error)
}

// Config carries the execution parameters of one run.
type Config struct {
	InitialCapital float64
	Commission     float64
	Slippage       float64
	Timing         domain.ExecutionTiming
	BarSize        domain.BarSize
}

// pendingFill is a decision waiting for the next bar's open.
type pendingFill struct {
	shares  map[string]float64 // CLOSE_TO_NEXT_OPEN: sized at decision close
	weights map[string]float64 // OPEN_TO_OPEN: sized at fill open
}

// Run executes a strategy over a frame. The returned error is a strategy or
// sizing failure attributable to the user's code; infrastructure failures
// cannot occur here since Run does no I/O.
//
// The walk visits the frame's canonical timeline. Decisions are taken at
// each bar's close; where they fill depends on the execution timing. On the
// final bar any remaining positions are liquidated at the close, so the
// final value is pure cash.
func Run(frame *marketdata.Frame, strat Strategy, cfg Config) (*domain.RawExecutionResult, error) {
	start := time.Now()
	timeline := frame.CanonicalTimeline()
	if len(timeline) == 0 {
		return nil, fmt.Errorf("no market data bars to execute")
	}

	portfolio := NewPortfolio(cfg.InitialCapital, cfg.Commission, cfg.Slippage)
	equity := make(map[string]float64, len(timeline))
	candles := make(map[string]domain.OHLC, len(timeline))

	var pending *pendingFill

	for k, i := range timeline {
		ts := frame.Timestamps()[i]
		key := ts.Format(time.RFC3339)
		opens := pricesAt(frame, "open", i)
		closes := pricesAt(frame, "close", i)

		// Fills queued on the previous bar execute at this bar's open.
		if pending != nil {
			switch {
			case pending.shares != nil:
				portfolio.RebalanceToShares(pending.shares, opens, ts)
			case pending.weights != nil:
				if err := portfolio.RebalanceToWeights(pending.weights, opens, ts); err != nil {
					return nil, err
				}
			}
			pending = nil
		}

		last := k == len(timeline)-1
		decision, err := strat.OnData(&BarContext{Frame: frame, Index: i, Portfolio: portfolio})
		if err != nil {
			return nil, err
		}

		if !last {
			switch decision.Kind {
			case DecisionHold:
			case DecisionLiquidate:
				if cfg.Timing == domain.CloseToClose {
					portfolio.Liquidate(closes, ts)
				} else {
					pending = &pendingFill{shares: map[string]float64{}}
				}
			case DecisionTargets:
				switch cfg.Timing {
				case domain.CloseToClose:
					if err := portfolio.RebalanceToWeights(decision.Weights, closes, ts); err != nil {
						return nil, err
					}
				case domain.CloseToNextOpen:
					shares, err := portfolio.TargetShares(decision.Weights, closes)
					if err != nil {
						return nil, err
					}
					pending = &pendingFill{shares: shares}
				case domain.OpenToOpen:
					if err := ValidateWeights(decision.Weights); err != nil {
						return nil, err
					}
					pending = &pendingFill{weights: decision.Weights}
				}
			}
		} else {
			portfolio.Liquidate(closes, ts)
		}

		candles[key] = domain.OHLC{
			Open:  portfolio.Value(opens),
			High:  portfolio.Value(pricesAt(frame, "high", i)),
			Low:   portfolio.Value(pricesAt(frame, "low", i)),
			Close: portfolio.Value(closes),
		}
		equity[key] = portfolio.Value(closes)
	}

	return &domain.RawExecutionResult{
		Trades:         portfolio.Trades(),
		EquityCurve:    equity,
		OHLC:           candles,
		FinalValue:     portfolio.Cash(),
		FinalCash:      portfolio.Cash(),
		FinalPositions: portfolio.Positions(),
		TotalFees:      portfolio.TotalFees(),
		Volume:         portfolio.Volume(),
		ExecutionTime:  time.Since(start).Seconds(),
		BarSize:        cfg.BarSize,
	}, nil
}

// pricesAt collects one field for every symbol with a bar at index i.
func pricesAt(frame *marketdata.Frame, field string, i int) map[string]float64 {
	prices := make(map[string]float64, len(frame.Symbols()))
	for _, sym := range frame.Symbols() {
		if v, ok := frame.Field(sym, field, i); ok {
			prices[sym] = v
		}
	}
	return prices
}
