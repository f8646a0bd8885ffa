package jit

import (
	"fmt"
	"strings"

	"github.com/lunavm/luna/ir"
	"github.com/lunavm/luna/target"
)

// Trace is one recorded linear instruction sequence, compiled as a unit.
// Ins is ref-indexed: Ins[0] is a sentinel and references equal slice
// indices. Recording appends constants before invariant instructions and
// invariants before the loop body, which is what makes the reference
// ordering usable as an eviction priority.
type Trace struct {
	TraceNo uint32
	Ins     []ir.Ins

	// Set by CompileTrace.
	Compiled  bool
	Evictions int
	Spills    int
}

func NewTrace(traceno uint32) *Trace {
	return &Trace{
		TraceNo: traceno,
		Ins:     make([]ir.Ins, 1),
	}
}

// Append records one instruction and returns its reference.
func (tr *Trace) Append(op ir.Op, op1, op2 ir.Ref, t ir.Type) ir.Ref {
	tr.Ins = append(tr.Ins, ir.Ins{
		Op: op, Op1: op1, Op2: op2, Type: t,
		RegSP: target.RegSPInit,
	})
	return ir.Ref(len(tr.Ins) - 1)
}

// NIns returns the number of recorded instructions.
func (tr *Trace) NIns() int { return len(tr.Ins) - 1 }

// NGuards counts the guard instructions; each guard owns one exit number,
// assigned in trace order.
func (tr *Trace) NGuards() uint32 {
	n := uint32(0)
	for i := 1; i < len(tr.Ins); i++ {
		switch tr.Ins[i].Op {
		case ir.OpEq, ir.OpLt:
			n++
		}
	}
	return n
}

// String renders the trace with the allocation results, one instruction
// per line.
func (tr *Trace) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "---- TRACE %d (%d ins)\n", tr.TraceNo, tr.NIns())
	for i := 1; i < len(tr.Ins); i++ {
		ins := &tr.Ins[i]
		loc := "     "
		if r := ins.Reg(); r.HasReg() {
			loc = fmt.Sprintf("%-5s", target.RegName(r))
		}
		spill := "     "
		if s := ins.Spill(); s != target.SpsNone {
			spill = fmt.Sprintf("[%3d]", s)
		}
		phi := " "
		if ins.Type.IsPhi() {
			phi = "P"
		}
		fmt.Fprintf(&sb, "%04d %s %s %s %s\n", i, loc, spill, phi, ins.String())
	}
	return sb.String()
}
