//go:build linux

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Limits bounds what the sandbox child may consume. Zero fields keep the
// inherited limit.
type Limits struct {
	AddressSpaceBytes uint64
	CPUSeconds        uint64
	MaxProcesses      uint64
	MaxOpenFiles      uint64
}

// DefaultLimits is sized for a single in-memory backtest: a few hundred MB
// of frames plus interpreter overhead, no subprocesses beyond the Go
// runtime's threads, and only the stdio descriptors it arrives with.
func DefaultLimits(cpuSeconds uint64) Limits {
	return Limits{
		AddressSpaceBytes: 2 << 30,
		CPUSeconds:        cpuSeconds,
		MaxProcesses:      64,
		MaxOpenFiles:      64,
	}
}

// Harden irreversibly drops the child's privileges and caps its resources.
// Must run before any payload bytes are parsed.
func Harden(l Limits) error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(NO_NEW_PRIVS): %w", err)
	}
	limits := map[int]uint64{
		unix.RLIMIT_AS:     l.AddressSpaceBytes,
		unix.RLIMIT_CPU:    l.CPUSeconds,
		unix.RLIMIT_NPROC:  l.MaxProcesses,
		unix.RLIMIT_NOFILE: l.MaxOpenFiles,
	}
	for resource, value := range limits {
		if value == 0 {
			continue
		}
		rl := &unix.Rlimit{Cur: value, Max: value}
		if err := unix.Setrlimit(resource, rl); err != nil {
			return fmt.Errorf("setrlimit(%d): %w", resource, err)
		}
	}
	return nil
}
