package sandbox

import (
	"encoding/json"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/engine"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/marketdata"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/strategy"
)

// Runner is the child side: one payload in on stdin, one result out on
// stdout, logs on stderr. It always writes a well-formed result, even when
// everything else goes wrong.
type Runner struct {
	profile bool
	log     zerolog.Logger
}

// NewRunner creates a runner. profile enables phase timing logs.
func NewRunner(profile bool, log zerolog.Logger) *Runner {
	return &Runner{
		profile: profile,
		log:     log.With().Str("component", "sandbox_runner").Logger(),
	}
}

// Run executes one backtest end to end. The returned error covers only
// transport failures (unreadable stdin, unwritable stdout); strategy and
// engine failures are reported inside the result.
func (r *Runner) Run(stdin io.Reader, stdout io.Writer) error {
	input, err := io.ReadAll(stdin)
	if err != nil {
		return err
	}

	var payload domain.ExecutionPayload
	if err := json.Unmarshal(input, &payload); err != nil {
		return writeResult(stdout, domain.EmptyResult("", "malformed execution payload: "+err.Error()))
	}

	result := r.execute(&payload)
	return writeResult(stdout, result)
}

func (r *Runner) execute(payload *domain.ExecutionPayload) *domain.RawExecutionResult {
	start := time.Now()

	frame, err := marketdata.FrameFromSeries(payload.MarketData)
	if err != nil {
		return domain.EmptyResult(payload.BarSize, "invalid market data: "+err.Error())
	}
	framesDone := time.Now()

	program, err := strategy.Load(payload.StrategyCode, strategy.DefaultMaxSteps, r.log)
	if err != nil {
		return domain.EmptyResult(payload.BarSize, err.Error())
	}
	loadDone := time.Now()

	result, err := engine.Run(frame, program, engine.Config{
		InitialCapital: payload.InitialCapital,
		Commission:     payload.Commission,
		Slippage:       payload.Slippage,
		Timing:         payload.Timing,
		BarSize:        payload.BarSize,
	})
	if err != nil {
		return domain.EmptyResult(payload.BarSize, err.Error())
	}
	runDone := time.Now()

	if r.profile {
		r.log.Info().
			Dur("frame", framesDone.Sub(start)).
			Dur("load", loadDone.Sub(framesDone)).
			Dur("execute", runDone.Sub(loadDone)).
			Msg("Phase timings")
	}
	return result
}

func writeResult(w io.Writer, result *domain.RawExecutionResult) error {
	return json.NewEncoder(w).Encode(result)
}
