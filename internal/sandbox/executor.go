// Package sandbox isolates user strategy execution in a child process. The
// parent side (Executor) speaks JSON over the child's stdin/stdout; the
// child side (Runner) self-hardens with resource limits before touching
// user code. Nothing a strategy does can take the server process down.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// Executor launches the sandbox child binary once per backtest.
type Executor struct {
	bin     string
	timeout time.Duration
	profile bool
	log     zerolog.Logger
}

// NewExecutor creates an executor for the given child binary.
func NewExecutor(bin string, timeout time.Duration, profile bool, log zerolog.Logger) *Executor {
	return &Executor{
		bin:     bin,
		timeout: timeout,
		profile: profile,
		log:     log.With().Str("component", "sandbox_executor").Logger(),
	}
}

// Execute runs one backtest in a child process. It never returns an error:
// every failure mode (spawn failure, timeout, kill, malformed output)
// collapses to a zeroed result with the failure in its error list, so the
// pipeline has exactly one shape to handle.
func (e *Executor) Execute(ctx context.Context, payload *domain.ExecutionPayload) *domain.RawExecutionResult {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	input, err := json.Marshal(payload)
	if err != nil {
		return domain.EmptyResult(payload.BarSize, fmt.Sprintf("failed to encode execution payload: %v", err))
	}

	cmd := exec.CommandContext(runCtx, e.bin)
	cmd.Stdin = bytes.NewReader(input)
	if e.profile {
		cmd.Env = append(cmd.Environ(), "HQG_PROFILE=true")
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	e.drainStderr(&stderr)

	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			e.log.Warn().Dur("elapsed", elapsed).Msg("Sandbox timed out, child killed")
			return domain.EmptyResult(payload.BarSize,
				fmt.Sprintf("backtest exceeded the execution time limit of %s", e.timeout))
		}
		e.log.Error().Err(runErr).Dur("elapsed", elapsed).Msg("Sandbox process failed")
		return domain.EmptyResult(payload.BarSize, fmt.Sprintf("sandbox process failed: %v", runErr))
	}

	var result domain.RawExecutionResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		e.log.Error().Err(err).Int("stdout_bytes", stdout.Len()).Msg("Sandbox produced unparseable output")
		return domain.EmptyResult(payload.BarSize, fmt.Sprintf("sandbox produced unparseable output: %v", err))
	}

	e.log.Debug().Dur("elapsed", elapsed).Int("trades", len(result.Trades)).Msg("Sandbox run complete")
	return &result
}

// drainStderr forwards the child's log lines into the parent's log so one
// stream tells the whole story.
func (e *Executor) drainStderr(buf *bytes.Buffer) {
	scanner := bufio.NewScanner(buf)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			e.log.Debug().Str("stream", "child").Msg(line)
		}
	}
}
