//go:build !linux

package sandbox

// Limits mirrors the Linux build so callers compile everywhere.
type Limits struct {
	AddressSpaceBytes uint64
	CPUSeconds        uint64
	MaxProcesses      uint64
	MaxOpenFiles      uint64
}

// DefaultLimits matches the Linux defaults.
func DefaultLimits(cpuSeconds uint64) Limits {
	return Limits{
		AddressSpaceBytes: 2 << 30,
		CPUSeconds:        cpuSeconds,
		MaxProcesses:      64,
		MaxOpenFiles:      64,
	}
}

// Harden is a no-op off Linux; development machines run unconfined and the
// deployment target is always Linux.
func Harden(Limits) error { return nil }
