package domain

import "time"

// OrderType is the side of a trade.
type OrderType string

const (
	OrderBuy  OrderType = "Buy"
	OrderSell OrderType = "Sell"
)

// Trade is a single fill emitted by the backtest engine. Amount is in
// shares; Price is the execution price after slippage.
type Trade struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Ticker    string    `json:"ticker"`
	Type      OrderType `json:"type"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
}

// Value is the cash moved by the trade, excluding commission.
func (t Trade) Value() float64 {
	return t.Price * t.Amount
}

// SymbolSeries is the per-symbol columnar market data crossing the sandbox
// boundary. All slices share one length; Date entries are ISO-8601.
type SymbolSeries struct {
	Date   []string  `json:"date"`
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []float64 `json:"volume"`
}

// ExecutionPayload is the single JSON document the parent writes to the
// sandbox child's stdin.
type ExecutionPayload struct {
	StrategyCode   string                  `json:"strategy_code"`
	Name           string                  `json:"name,omitempty"`
	StartDate      time.Time               `json:"start_date"`
	EndDate        time.Time               `json:"end_date"`
	InitialCapital float64                 `json:"initial_capital"`
	Commission     float64                 `json:"commission"`
	Slippage       float64                 `json:"slippage"`
	BarSize        BarSize                 `json:"bar_size"`
	Timing         ExecutionTiming         `json:"timing"`
	MarketData     map[string]SymbolSeries `json:"market_data"`
}

// OHLC is one bar of the portfolio-level candle series.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// RawExecutionResult is the single JSON document the sandbox child writes to
// stdout. Errors inside the child are returned as a field, never thrown past
// the executor boundary; the parent promotes a non-empty list afterwards.
type RawExecutionResult struct {
	Trades         []Trade            `json:"trades"`
	EquityCurve    map[string]float64 `json:"equity_curve"`
	OHLC           map[string]OHLC    `json:"ohlc"`
	FinalValue     float64            `json:"final_value"`
	FinalCash      float64            `json:"final_cash"`
	FinalPositions map[string]float64 `json:"final_positions"`
	TotalFees      float64            `json:"total_fees"`
	Volume         float64            `json:"volume"`
	ExecutionTime  float64            `json:"execution_time"`
	BarSize        BarSize            `json:"bar_size"`
	Errors         ErrorList          `json:"errors"`
}

// EmptyResult returns a zeroed result carrying the given error messages.
// Used by both the child (on internal failure) and the parent (on transport
// failure) so every failure mode has the same shape.
func EmptyResult(barSize BarSize, messages ...string) *RawExecutionResult {
	res := &RawExecutionResult{
		Trades:         []Trade{},
		EquityCurve:    map[string]float64{},
		OHLC:           map[string]OHLC{},
		FinalPositions: map[string]float64{},
		BarSize:        barSize,
	}
	for _, m := range messages {
		res.Errors.Add(m)
	}
	return res
}
