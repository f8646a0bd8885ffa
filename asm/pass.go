package asm

import (
	"github.com/lunavm/luna/ir"
	"github.com/lunavm/luna/log"
	"github.com/lunavm/luna/target"
)

// markPhis propagates the phi flag from every PHI instruction to both of
// its operands, so the cost model protects the whole loop-carried chain.
func (as *State) markPhis() {
	for i := 1; i < len(as.ins); i++ {
		ins := &as.ins[i]
		if ins.Op != ir.OpPhi {
			continue
		}
		ins.Type |= ir.FlagPhi
		as.IR(ins.Op1).Type |= ir.FlagPhi
		as.IR(ins.Op2).Type |= ir.FlagPhi
	}
}

// hintsDest reports whether op reads its first operand into the result
// register (the x86 two-operand form), making a shared register desirable.
func hintsDest(op ir.Op) bool {
	switch op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpNeg:
		return true
	}
	return false
}

// Run performs the reverse allocation pass: from the trace end back to its
// start, ending each value's live range at its definition. After Run
// returns, every instruction's RegSP records its final register and spill
// slot. A spill limit overrun aborts the pass; the caller abandons the
// trace.
func (as *State) Run() error {
	as.markPhis()
	for i := len(as.ins) - 1; i >= 1; i-- {
		ref := ir.Ref(i)
		ins := as.IR(ref)
		if ins.Op == ir.OpNop || ins.Op == ir.OpLoop {
			continue
		}
		if ins.Op.HasResult() {
			// A PHI is a root: live across iterations even when nothing
			// below references it. Everything else is dead if unused.
			if !ins.RegSP.Used() && ins.Op != ir.OpPhi {
				continue
			}
			dest, err := as.AllocRef(ref, as.regClass(ins.Type))
			if err != nil {
				return err
			}
			as.freeRef(ref)
			if hintsDest(ins.Op) && ins.Op1 != ir.RefNone {
				as.IR(ins.Op1).SetHint(dest)
			} else if ins.Op == ir.OpPhi {
				// Keep the loop-carried value in one register across
				// iterations: steer the variant side into the phi register.
				as.IR(ins.Op2).SetHint(dest)
			}
		}
		// Registers bound to this instruction's own operands must not be
		// evicted while allocating its remaining operands.
		inuse := target.RsetEmpty
		if ins.Op.Mode1() == ir.ModeRef && ins.Op1 != ir.RefNone {
			r, err := as.AllocRef(ins.Op1, as.regClass(as.IR(ins.Op1).Type))
			if err != nil {
				return err
			}
			inuse.Set(r)
		}
		if ins.Op.Mode2() == ir.ModeRef && ins.Op2 != ir.RefNone {
			allow := as.regClass(as.IR(ins.Op2).Type) &^ inuse
			if _, err := as.AllocRef(ins.Op2, allow); err != nil {
				return err
			}
		}
	}
	log.Debug(log.AsmMonitoring, "pass done",
		"ins", len(as.ins)-1, "evictions", as.evictions, "spills", as.spills)
	return nil
}
