// Package metrics derives performance statistics from a raw execution
// result: risk-adjusted ratios, drawdown, the probabilistic Sharpe ratio,
// and benchmark-relative alpha/beta.
package metrics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/marketdata"
)

// riskFreeRate is the annual risk-free rate assumed everywhere.
const riskFreeRate = 0.035

// benchmarkSymbol anchors alpha and beta. The S&P 500 index comes through
// the same provider as strategy data, so it is cached like any symbol.
const benchmarkSymbol = "^GSPC"

// psrBenchmarkSharpe is the annual Sharpe ratio a strategy is measured
// against in the probabilistic Sharpe ratio.
const psrBenchmarkSharpe = 1.0

// Engine computes performance metrics. The provider is only touched for
// the benchmark series; everything else is pure arithmetic.
type Engine struct {
	provider *marketdata.Provider
	log      zerolog.Logger
}

// NewEngine creates a metrics engine.
func NewEngine(provider *marketdata.Provider, log zerolog.Logger) *Engine {
	return &Engine{
		provider: provider,
		log:      log.With().Str("component", "metrics").Logger(),
	}
}

// Compute derives the full metrics set for a finished run. Metrics that
// cannot be computed (too few bars, benchmark unavailable) come back as
// -Inf sentinels; response shaping collapses those to zero.
func (e *Engine) Compute(ctx context.Context, result *domain.RawExecutionResult, initialCapital float64, start, end time.Time) domain.PerformanceMetrics {
	m := domain.PerformanceMetrics{
		Alpha: math.Inf(-1),
		Beta:  math.Inf(-1),
		PSR:   math.Inf(-1),
	}

	dates, equity := sortedCurve(result.EquityCurve)
	returns := periodReturns(equity)
	periods := result.BarSize.PeriodsPerYear()

	if initialCapital > 0 && len(equity) > 0 {
		m.TotalReturn = equity[len(equity)-1]/initialCapital - 1
	}
	m.AnnualizedReturn = annualizedReturn(returns, equity, initialCapital, periods)
	m.MaxDrawdown = maxDrawdown(equity)
	m.Sharpe = sharpe(returns, periods)
	m.Sortino = sortino(returns, periods)
	m.PSR = probabilisticSharpe(returns, periods)

	if alpha, beta, ok := e.alphaBeta(ctx, dates, returns, result.BarSize, start, end, periods); ok {
		m.Alpha = alpha
		m.Beta = beta
	}

	wins := matchTrades(result.Trades)
	m.TotalOrders = len(result.Trades)
	m.WinRate = wins.winRate()
	m.AvgWin = wins.avgWin()
	m.AvgLoss = wins.avgLoss()

	return m
}

func sortedCurve(curve map[string]float64) ([]string, []float64) {
	dates := make([]string, 0, len(curve))
	for d := range curve {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	equity := make([]float64, len(dates))
	for i, d := range dates {
		equity[i] = curve[d]
	}
	return dates, equity
}

func periodReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

// annualizedReturn compounds geometrically when the sample is long enough
// to mean something (at least four periods and a quarter of a year), and
// falls back to scaling the arithmetic mean otherwise. Short windows make
// geometric annualization explode: two good weeks compound into an absurd
// triple-digit figure.
func annualizedReturn(returns, equity []float64, initialCapital, periods float64) float64 {
	n := float64(len(returns))
	if n == 0 || initialCapital <= 0 || len(equity) == 0 {
		return 0
	}
	minPeriods := math.Max(4, periods/4)
	if n >= minPeriods {
		total := equity[len(equity)-1] / initialCapital
		if total <= 0 {
			return -1
		}
		return math.Pow(total, periods/n) - 1
	}
	return stat.Mean(returns, nil) * periods
}

func maxDrawdown(equity []float64) float64 {
	peak, maxDD := 0.0, 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := 1 - v/peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func sharpe(returns []float64, periods float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	std := stat.StdDev(returns, nil)
	if std == 0 {
		return 0
	}
	return math.Sqrt(periods) * (mean - riskFreeRate/periods) / std
}

func sortino(returns []float64, periods float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	target := riskFreeRate / periods

	sumSq, n := 0.0, 0
	for _, r := range returns {
		if r < target {
			d := r - target
			sumSq += d * d
			n++
		}
	}
	if n == 0 || sumSq == 0 {
		return 0
	}
	downside := math.Sqrt(sumSq / float64(len(returns)))
	return math.Sqrt(periods) * (mean - target) / downside
}

// probabilisticSharpe is the probability that the true Sharpe ratio exceeds
// the benchmark Sharpe, given the sample's length, skew, and kurtosis.
func probabilisticSharpe(returns []float64, periods float64) float64 {
	t := float64(len(returns))
	if t < 3 {
		return math.Inf(-1)
	}
	mean := stat.Mean(returns, nil)
	std := stat.StdDev(returns, nil)
	if std == 0 {
		return math.Inf(-1)
	}

	sr := (mean - riskFreeRate/periods) / std
	srBench := psrBenchmarkSharpe / math.Sqrt(periods)
	skew := stat.Skew(returns, nil)
	kurt := stat.ExKurtosis(returns, nil) + 3

	variance := (1 - skew*sr + ((kurt-1)/4)*sr*sr) / (t - 1)
	if variance <= 0 {
		return math.Inf(-1)
	}
	z := (sr - srBench) / math.Sqrt(variance)
	normal := distuv.Normal{Mu: 0, Sigma: 1}
	return normal.CDF(z)
}

// alphaBeta regresses strategy returns on benchmark returns over the same
// dates. A benchmark fetch failure is logged and reported as not-ok rather
// than failing the whole backtest.
func (e *Engine) alphaBeta(ctx context.Context, dates []string, returns []float64, barSize domain.BarSize, start, end time.Time, periods float64) (float64, float64, bool) {
	if len(returns) < 2 {
		return 0, 0, false
	}
	frame, err := e.provider.GetData(ctx, []string{benchmarkSymbol}, start, end, barSize)
	if err != nil {
		e.log.Warn().Err(err).Msg("Benchmark unavailable, skipping alpha/beta")
		return 0, 0, false
	}

	benchByDate := make(map[string]float64, frame.Len())
	for i, ts := range frame.Timestamps() {
		if v, ok := frame.Field(benchmarkSymbol, "close", i); ok {
			benchByDate[ts.Format(time.RFC3339)] = v
		}
	}

	// Align on the strategy's dates; both series must move over the same
	// intervals for the regression to mean anything.
	var stratAligned, benchAligned []float64
	var prevBench float64
	havePrev := false
	for i, d := range dates {
		bench, ok := benchByDate[d]
		if !ok {
			havePrev = false
			continue
		}
		if havePrev && i > 0 && prevBench != 0 {
			stratAligned = append(stratAligned, returns[i-1])
			benchAligned = append(benchAligned, bench/prevBench-1)
		}
		prevBench = bench
		havePrev = true
	}
	if len(stratAligned) < 2 {
		e.log.Warn().Msg("Too few overlapping benchmark bars, skipping alpha/beta")
		return 0, 0, false
	}

	_, beta := stat.LinearRegression(benchAligned, stratAligned, nil, false)
	return capmAlpha(stratAligned, benchAligned, beta, periods), beta, true
}

// capmAlpha is the annualized excess return over the CAPM expectation: the
// strategy's compounded mean return against what beta exposure to the
// benchmark would have earned over the risk-free rate.
func capmAlpha(stratReturns, benchReturns []float64, beta, periods float64) float64 {
	annStrat := math.Pow(1+stat.Mean(stratReturns, nil), periods) - 1
	annBench := math.Pow(1+stat.Mean(benchReturns, nil), periods) - 1
	return annStrat - (riskFreeRate + beta*(annBench-riskFreeRate))
}
