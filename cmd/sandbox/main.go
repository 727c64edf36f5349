// Command sandbox is the isolated child process that executes one backtest.
// It reads an execution payload from stdin, writes a result to stdout, and
// logs to stderr. It hardens itself with resource limits before parsing
// any input.
package main

import (
	"os"
	"strconv"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/sandbox"
	"github.com/Husky-Quantitative-Group/hqg-backtester/pkg/logger"
)

// cpuLimitSeconds caps actual CPU time inside the child. The parent's wall
// clock timeout is the primary bound; this catches spin loops that the
// step limit somehow misses.
const cpuLimitSeconds = 600

func main() {
	log := logger.New(logger.Config{Level: logLevel(), Stderr: true})

	if err := sandbox.Harden(sandbox.DefaultLimits(cpuLimitSeconds)); err != nil {
		// Refuse to run user code unconfined.
		log.Error().Err(err).Msg("Failed to apply sandbox limits")
		os.Exit(1)
	}

	runner := sandbox.NewRunner(profileEnabled(), log)
	if err := runner.Run(os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("Sandbox transport failure")
		os.Exit(1)
	}
}

func logLevel() string {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		return level
	}
	return "info"
}

func profileEnabled() bool {
	v, err := strconv.ParseBool(os.Getenv("HQG_PROFILE"))
	return err == nil && v
}
