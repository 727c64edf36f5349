package domain

import (
	"math"
	"time"
)

// BacktestParameters echoes the request parameters in the response.
type BacktestParameters struct {
	Name           string    `json:"name"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	StartingEquity float64   `json:"starting_equity"`
}

// PerformanceMetrics is the full metric block for a completed backtest.
type PerformanceMetrics struct {
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	PSR              float64 `json:"psr"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	TotalOrders      int     `json:"total_orders"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
}

// Sanitize collapses non-finite values to zero so the struct is always
// JSON-encodable. Internal sentinels (-Inf alpha/beta on benchmark failure)
// are logged before shaping; the wire format never carries them.
func (m *PerformanceMetrics) Sanitize() {
	for _, f := range []*float64{
		&m.Sharpe, &m.Sortino, &m.Alpha, &m.Beta, &m.PSR,
		&m.TotalReturn, &m.AnnualizedReturn, &m.MaxDrawdown,
		&m.WinRate, &m.AvgWin, &m.AvgLoss,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
}

// EquityStats summarizes the final portfolio state.
type EquityStats struct {
	Equity    float64 `json:"equity"`
	Fees      float64 `json:"fees"`
	NetProfit float64 `json:"net_profit"`
	ReturnPct float64 `json:"return_pct"`
	Volume    float64 `json:"volume"`
}

// EquityCandle is one bar of the portfolio OHLC series, with a unix-seconds
// timestamp for charting.
type EquityCandle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// BacktestResponse is the fully shaped response for a completed backtest.
type BacktestResponse struct {
	JobID       string             `json:"job_id,omitempty"`
	Parameters  BacktestParameters `json:"parameters"`
	Metrics     PerformanceMetrics `json:"metrics"`
	EquityStats EquityStats        `json:"equity_stats"`
	Candles     []EquityCandle     `json:"candles"`
	Orders      []Trade            `json:"orders"`
}
