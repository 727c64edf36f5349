package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// Execute runs the pipeline and shapes the client-facing response,
// including derived metrics. This is the one entry point shared by the
// async scheduler and the synchronous endpoint.
func (o *Orchestrator) Execute(ctx context.Context, jobID string, req *domain.BacktestRequest) (*domain.BacktestResponse, error) {
	result, _, err := o.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	m := o.metrics.Compute(ctx, result, req.InitialCapital, req.StartDate, req.EndDate)
	m.Sanitize()

	resp := &domain.BacktestResponse{
		JobID: jobID,
		Parameters: domain.BacktestParameters{
			Name:           req.DisplayName(),
			StartDate:      req.StartDate,
			EndDate:        req.EndDate,
			StartingEquity: req.InitialCapital,
		},
		Metrics: m,
		EquityStats: domain.EquityStats{
			Equity:    result.FinalValue,
			Fees:      result.TotalFees,
			NetProfit: result.FinalValue - req.InitialCapital,
			ReturnPct: m.TotalReturn * 100,
			Volume:    result.Volume,
		},
		Candles: shapeCandles(result.OHLC),
		Orders:  result.Trades,
	}
	return resp, nil
}

// shapeCandles converts the keyed OHLC map into a chart-ready ascending
// series. Unparseable keys cannot happen with engine-produced results and
// are skipped rather than guessed at.
func shapeCandles(ohlc map[string]domain.OHLC) []domain.EquityCandle {
	candles := make([]domain.EquityCandle, 0, len(ohlc))
	for key, bar := range ohlc {
		ts, err := time.Parse(time.RFC3339, key)
		if err != nil {
			continue
		}
		candles = append(candles, domain.EquityCandle{
			Time:  ts.Unix(),
			Open:  bar.Open,
			High:  bar.High,
			Low:   bar.Low,
			Close: bar.Close,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles
}
