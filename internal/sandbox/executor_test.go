package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// fakeChild writes a shell script standing in for the sandbox binary.
func fakeChild(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-sandbox")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func executorPayload() *domain.ExecutionPayload {
	return &domain.ExecutionPayload{
		StrategyCode: "def on_data(data, portfolio):\n    return Hold()\n",
		BarSize:      domain.BarSizeDaily,
	}
}

func TestExecuteCollapsesSpawnFailure(t *testing.T) {
	e := NewExecutor("/nonexistent/sandbox-bin", time.Second, false, zerolog.Nop())

	result := e.Execute(context.Background(), executorPayload())

	require.False(t, result.Errors.IsEmpty())
	assert.Contains(t, result.Errors.String(), "sandbox process failed")
	assert.Zero(t, result.FinalValue)
}

func TestExecuteCollapsesTimeout(t *testing.T) {
	bin := fakeChild(t, "sleep 10")
	e := NewExecutor(bin, 100*time.Millisecond, false, zerolog.Nop())

	result := e.Execute(context.Background(), executorPayload())

	require.False(t, result.Errors.IsEmpty())
	assert.Contains(t, result.Errors.String(), "execution time limit")
}

func TestExecuteCollapsesUnparseableOutput(t *testing.T) {
	bin := fakeChild(t, `echo "this is not json"`)
	e := NewExecutor(bin, time.Second, false, zerolog.Nop())

	result := e.Execute(context.Background(), executorPayload())

	require.False(t, result.Errors.IsEmpty())
	assert.Contains(t, result.Errors.String(), "unparseable")
}

func TestExecuteCollapsesNonZeroExit(t *testing.T) {
	bin := fakeChild(t, "exit 3")
	e := NewExecutor(bin, time.Second, false, zerolog.Nop())

	result := e.Execute(context.Background(), executorPayload())

	require.False(t, result.Errors.IsEmpty())
}

func TestExecuteParsesChildResult(t *testing.T) {
	bin := fakeChild(t, `cat > /dev/null; echo '{"final_value": 12345, "errors": {"items": []}}'`)
	e := NewExecutor(bin, time.Second, false, zerolog.Nop())

	result := e.Execute(context.Background(), executorPayload())

	assert.True(t, result.Errors.IsEmpty())
	assert.InDelta(t, 12_345, result.FinalValue, 1e-9)
}

func TestExecuteRespectsCallerContext(t *testing.T) {
	bin := fakeChild(t, "sleep 10")
	e := NewExecutor(bin, time.Minute, false, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := e.Execute(ctx, executorPayload())

	assert.Less(t, time.Since(start), 5*time.Second)
	require.False(t, result.Errors.IsEmpty())
}
