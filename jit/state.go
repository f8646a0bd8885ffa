// Package jit holds the compiler context: compiled traces, the exit stub
// group table and the tunables shared by every compilation pass. A
// context is owned by exactly one compiling goroutine; nothing here
// locks.
package jit

import (
	"fmt"

	"github.com/lunavm/luna/asm"
	"github.com/lunavm/luna/log"
	"github.com/lunavm/luna/mcode"
	"github.com/lunavm/luna/target"
	"github.com/lunavm/luna/trerr"
)

// State is one JIT compiler context. Per-trace allocator state is created
// fresh for every pass; only the machine code area and the exit stub
// group table outlive a pass, and both are discarded together by Flush.
type State struct {
	cfg  Config
	area *mcode.Area

	// exitStubGroup[g] is the base address of stub group g, zero until
	// that group has been generated. Append-only between flushes.
	exitStubGroup [target.MaxExitStubGroups]uintptr

	// nextExitBase is the first global exit number available to the next
	// compiled trace.
	nextExitBase uint32

	traces []*Trace
}

// NewState validates cfg and returns a fresh context. The machine code
// area is mapped lazily, on the first stub group generation.
func NewState(cfg Config) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("jit config: %w", err)
	}
	return &State{cfg: cfg}, nil
}

// Config returns the context configuration.
func (J *State) Config() Config { return J.cfg }

// NTraces returns the number of successfully compiled traces.
func (J *State) NTraces() int { return len(J.traces) }

// Trace returns a compiled trace by position.
func (J *State) Trace(i int) *Trace { return J.traces[i] }

// ExitStubAddr returns the machine code address of the stub for a global
// exit number. The stub's group must already be generated; addressing an
// ungenerated group is a contract violation, not a runtime error.
func (J *State) ExitStubAddr(exitno uint32) uintptr {
	group, offset := target.ExitStubOffset(exitno, target.ExitStubsPerGroup, target.ExitStubSpacing)
	if group >= target.MaxExitStubGroups || J.exitStubGroup[group] == 0 {
		panic(fmt.Sprintf("jit: exit stub group %d not generated (exitno %d)", group, exitno))
	}
	return J.exitStubGroup[group] + uintptr(offset)
}

// EnsureExitStubs generates every stub group needed to cover nexits exit
// numbers. Already generated groups are kept; the table only grows until
// the next flush. The area is sealed read+execute afterwards, so every
// address ExitStubAddr hands out is runnable; growing the table reopens
// the area around the emission.
func (J *State) EnsureExitStubs(nexits uint32) error {
	if nexits == 0 {
		return nil
	}
	lastGroup := (nexits - 1) / target.ExitStubsPerGroup
	if lastGroup >= target.MaxExitStubGroups {
		return fmt.Errorf("%d exits need group %d: %w", nexits, lastGroup, trerr.ErrExitStubGroups)
	}
	// Groups are generated in order, so a generated last group means the
	// whole range is covered and the area stays sealed.
	if J.exitStubGroup[lastGroup] != 0 {
		return nil
	}
	if J.area == nil {
		area, err := mcode.NewArea(J.cfg.MCodeSize)
		if err != nil {
			return err
		}
		J.area = area
	}
	if err := J.area.Writable(); err != nil {
		return err
	}
	for g := uint32(0); g <= lastGroup; g++ {
		if J.exitStubGroup[g] != 0 {
			continue
		}
		base, err := J.area.EmitExitStubGroup(g, J.cfg.ExitHandler)
		if err != nil {
			return err
		}
		J.exitStubGroup[g] = base
	}
	return J.area.Protect()
}

// MCodeExecutable reports whether the machine code area is mapped
// read+execute.
func (J *State) MCodeExecutable() bool {
	return J.area != nil && J.area.Executable()
}

// Flush discards all compiled code: traces, exit stub groups and the
// machine code area go away together.
func (J *State) Flush() error {
	J.traces = nil
	J.exitStubGroup = [target.MaxExitStubGroups]uintptr{}
	J.nextExitBase = 0
	if J.area != nil {
		err := J.area.Free()
		J.area = nil
		if err != nil {
			return fmt.Errorf("flush mcode area: %v", err)
		}
	}
	log.Info(log.JitMonitoring, "flushed all compiled code")
	return nil
}

// CompileTrace runs the backend over one recorded trace: the reverse
// register allocation pass, then exit stub coverage for the trace's
// guards. On any trace abort error the trace is abandoned and the caller
// falls back to the interpreter; the context stays usable.
func (J *State) CompileTrace(tr *Trace) error {
	if tr.NIns() == 0 {
		return fmt.Errorf("trace %d: %w", tr.TraceNo, trerr.ErrTraceEmpty)
	}
	if tr.NIns() > 0xffff-1 {
		return fmt.Errorf("trace %d: %d instructions: %w", tr.TraceNo, tr.NIns(), trerr.ErrTraceTooLong)
	}

	as := asm.NewState(tr.Ins, asm.Config{
		Allow:      J.cfg.Allow,
		PhiWeight:  J.cfg.PhiWeight,
		SpillLimit: J.cfg.SpillLimit,
	})
	if err := as.Run(); err != nil {
		log.Info(log.JitMonitoring, "trace abandoned",
			"trace", tr.TraceNo, "err", err)
		return fmt.Errorf("trace %d abandoned: %w", tr.TraceNo, err)
	}

	if err := J.EnsureExitStubs(J.nextExitBase + tr.NGuards()); err != nil {
		log.Info(log.JitMonitoring, "trace abandoned",
			"trace", tr.TraceNo, "err", err)
		return fmt.Errorf("trace %d abandoned: %w", tr.TraceNo, err)
	}
	J.nextExitBase += tr.NGuards()

	tr.Compiled = true
	tr.Evictions = as.Evictions()
	tr.Spills = as.SpillSlots()
	J.traces = append(J.traces, tr)
	log.Debug(log.JitMonitoring, "trace compiled",
		"trace", tr.TraceNo, "ins", tr.NIns(),
		"evictions", tr.Evictions, "spills", tr.Spills)
	return nil
}
