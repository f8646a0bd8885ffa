package trerr

import (
	"errors"
	"strings"
)

// Register allocation (R) aborts
var (
	ErrSpillSlots = errors.New("R1|SpillSlots: too many spill slots. Trace compilation abandoned, falling back to the interpreter.")
	ErrNoRegs     = errors.New("R2|NoRegs: no allocatable register in the allowed set. The allowed mask excludes every occupied register.")
)

// Machine code (M) aborts
var (
	ErrMCodeAlloc     = errors.New("M1|MCodeAlloc: failed to allocate an executable machine code area.")
	ErrMCodeFull      = errors.New("M2|MCodeFull: machine code area exhausted.")
	ErrExitStubGroups = errors.New("M3|ExitStubGroups: exit stub group limit reached.")
	ErrMCodeProtect   = errors.New("M4|MCodeProtect: failed to change machine code page protection.")
)

// Trace (T) aborts
var (
	ErrTraceEmpty   = errors.New("T1|TraceEmpty: trace has no instructions.")
	ErrTraceTooLong = errors.New("T2|TraceTooLong: trace exceeds the IR reference space.")
)

// Code returns the short error code ("R1", "M2", ...) of a trace abort
// error, or the empty string for any other error.
func Code(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(msg, "|"); idx > 0 && idx <= 3 {
		return msg[:idx]
	}
	return ""
}

// IsAbort reports whether err is (or wraps) one of the named trace abort
// errors. The trace compiler treats these as "abandon this trace", never
// as a process failure.
func IsAbort(err error) bool {
	for _, target := range []error{
		ErrSpillSlots, ErrNoRegs,
		ErrMCodeAlloc, ErrMCodeFull, ErrExitStubGroups, ErrMCodeProtect,
		ErrTraceEmpty, ErrTraceTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
