package jit

import (
	"fmt"

	"github.com/lunavm/luna/target"
)

// Config carries the JIT context tunables, validated once at context
// construction.
type Config struct {
	// PhiWeight protects loop-carried values from eviction: a PHI is
	// evicted only when its reference is at least PhiWeight below the
	// next candidate. Power of two in [2, 32768]. Empirical tuning, not a
	// correctness constant.
	PhiWeight uint32

	// SpillLimit caps spill slots per trace; exceeding it abandons the
	// trace.
	SpillLimit uint8

	// Allow is the allocatable register pool.
	Allow target.RegSet

	// MCodeSize is the byte size of the machine code area.
	MCodeSize int

	// ExitHandler is the address of the common trace exit handler the
	// stub tails jump to. May be zero when generated code is never run
	// (offline inspection, tests).
	ExitHandler uintptr
}

// DefaultConfig returns the standard x86-64 configuration.
func DefaultConfig() Config {
	return Config{
		PhiWeight:  target.DefaultPhiWeight,
		SpillLimit: target.SpsLimit,
		Allow:      target.RsetAvail,
		MCodeSize:  64 * 1024,
	}
}

// Validate reports the first invalid tunable.
func (cfg Config) Validate() error {
	if !target.ValidPhiWeight(cfg.PhiWeight) {
		return fmt.Errorf("phi weight %d: must be a power of two in [2, 32768]", cfg.PhiWeight)
	}
	if cfg.SpillLimit == 0 {
		return fmt.Errorf("spill limit must be positive")
	}
	if cfg.Allow == target.RsetEmpty {
		return fmt.Errorf("empty allocatable register set")
	}
	if cfg.MCodeSize <= 0 {
		return fmt.Errorf("mcode area size %d: must be positive", cfg.MCodeSize)
	}
	return nil
}
