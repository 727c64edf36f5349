package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/marketdata"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/metrics"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/sandbox"
)

type erroringUpstream struct{}

func (erroringUpstream) FetchDaily(context.Context, string, time.Time, time.Time) (*marketdata.Table, error) {
	return nil, assert.AnError
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	log := zerolog.Nop()
	provider := marketdata.NewProvider(marketdata.NewCache(t.TempDir(), log), erroringUpstream{}, log)
	executor := sandbox.NewExecutor("/nonexistent/sandbox-bin", time.Second, false, log)
	return New(provider, executor, metrics.NewEngine(provider, log), 1, log)
}

func orchestratorRequest(code string) *domain.BacktestRequest {
	return &domain.BacktestRequest{
		StrategyCode:   code,
		StartDate:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital: 10_000,
	}
}

func TestRunReturnsValidationErrorForBadCode(t *testing.T) {
	o := newTestOrchestrator(t)

	_, _, err := o.Run(context.Background(), orchestratorRequest("universe = [\"SPY\"]\n\ndef on_data(data, portfolio):\n    return eval(\"1\")\n"))

	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.False(t, validation.Errors.IsEmpty())
}

func TestRunReturnsValidationErrorForMissingUniverse(t *testing.T) {
	o := newTestOrchestrator(t)

	_, _, err := o.Run(context.Background(), orchestratorRequest("def on_data(data, portfolio):\n    return Hold()\n"))

	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestRunReturnsExecutionErrorWhenDataUnavailable(t *testing.T) {
	o := newTestOrchestrator(t)

	_, _, err := o.Run(context.Background(), orchestratorRequest("universe = [\"SPY\"]\n\ndef on_data(data, portfolio):\n    return Hold()\n"))

	var execution *domain.ExecutionError
	require.ErrorAs(t, err, &execution)
}

func TestRunRespectsCancelledContext(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Saturate capacity so Acquire has to wait on the dead context.
	require.NoError(t, o.sem.Acquire(context.Background(), 1))
	defer o.sem.Release(1)

	_, _, err := o.Run(ctx, orchestratorRequest("universe = [\"SPY\"]\n\ndef on_data(data, portfolio):\n    return Hold()\n"))

	var execution *domain.ExecutionError
	require.ErrorAs(t, err, &execution)
	assert.Contains(t, err.Error(), "cancelled")
}
