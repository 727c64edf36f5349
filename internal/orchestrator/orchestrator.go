package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/analysis"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/marketdata"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/metrics"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/sandbox"
)

// Orchestrator drives one backtest through every pipeline stage.
type Orchestrator struct {
	provider *marketdata.Provider
	executor *sandbox.Executor
	metrics  *metrics.Engine
	sem      *semaphore.Weighted
	log      zerolog.Logger
}

// New creates an orchestrator allowing up to maxConcurrent simultaneous
// pipeline runs.
func New(provider *marketdata.Provider, executor *sandbox.Executor, metricsEngine *metrics.Engine, maxConcurrent int64, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		executor: executor,
		metrics:  metricsEngine,
		sem:      semaphore.NewWeighted(maxConcurrent),
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes the full pipeline for one request. Errors are typed:
// *domain.ValidationError for anything the user can fix in their code or
// request, *domain.ExecutionError for runtime failures. The raw result is
// returned alongside the extracted metadata so the caller can shape the
// response.
func (o *Orchestrator) Run(ctx context.Context, req *domain.BacktestRequest) (*domain.RawExecutionResult, *domain.StrategyMetadata, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, domain.NewExecutionError("backtest cancelled while waiting for capacity")
	}
	defer o.sem.Release(1)

	start := time.Now()

	if errs := analysis.Analyze(req.StrategyCode); !errs.IsEmpty() {
		return nil, nil, &domain.ValidationError{Errors: errs}
	}

	meta, errs := analysis.ExtractMetadata(req.StrategyCode)
	if !errs.IsEmpty() {
		return nil, nil, &domain.ValidationError{Errors: errs}
	}

	frame, err := o.provider.GetData(ctx, meta.Universe, req.StartDate, req.EndDate, meta.Cadence.BarSize)
	if err != nil {
		return nil, nil, domain.NewExecutionError(err.Error())
	}

	payload := &domain.ExecutionPayload{
		StrategyCode:   req.StrategyCode,
		Name:           req.DisplayName(),
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		InitialCapital: req.InitialCapital,
		Commission:     req.Commission,
		Slippage:       req.Slippage,
		BarSize:        meta.Cadence.BarSize,
		Timing:         meta.Cadence.Execution,
		MarketData:     frame.ToSeries(),
	}

	result := o.executor.Execute(ctx, payload)
	if !result.Errors.IsEmpty() {
		return nil, nil, &domain.ExecutionError{Errors: result.Errors}
	}

	if errs := ValidateOutput(result); errs != nil {
		o.log.Error().Str("errors", errs.String()).Msg("Sandbox output failed validation")
		return nil, nil, &domain.ExecutionError{Errors: *errs}
	}

	o.log.Info().
		Str("name", req.DisplayName()).
		Int("symbols", len(meta.Universe)).
		Int("trades", len(result.Trades)).
		Dur("elapsed", time.Since(start)).
		Msg("Backtest complete")

	return result, meta, nil
}
