// Package asm implements the reverse register allocation pass over one
// recorded trace. Code generation walks the IR backwards, so a live range
// runs from the last use of a value down to its single SSA definition; no
// interval bookkeeping is needed. Registers are handed out from a free
// mask, and when the mask runs dry the occupied register with the minimum
// blended cost is evicted into a spill slot.
package asm

import (
	"fmt"

	"github.com/lunavm/luna/ir"
	"github.com/lunavm/luna/log"
	"github.com/lunavm/luna/target"
	"github.com/lunavm/luna/trerr"
)

// Config carries the allocator tunables for one pass.
type Config struct {
	// Allow is the pool of allocatable registers.
	Allow target.RegSet
	// PhiWeight is the eviction protection distance for loop-carried
	// values. Must satisfy target.ValidPhiWeight.
	PhiWeight uint32
	// SpillLimit caps the number of spill slots; exceeding it aborts the
	// trace. At most target.SpsLimit.
	SpillLimit uint8
}

// DefaultConfig returns the standard x86-64 pass configuration.
func DefaultConfig() Config {
	return Config{
		Allow:      target.RsetAvail,
		PhiWeight:  target.DefaultPhiWeight,
		SpillLimit: target.SpsLimit,
	}
}

// State is the per-trace allocator state. It lives for exactly one pass
// and is never reused across traces.
type State struct {
	ins []ir.Ins // ref-indexed; ins[0] is a sentinel

	freeset target.RegSet
	modset  target.RegSet
	cost    [target.RidMax]target.RegCost

	allow      target.RegSet
	phiWeight  uint32
	spill      uint8 // next spill slot
	spillLimit uint8

	evictions int
	spills    int
}

// NewState prepares a pass over ins. The slice is ref-indexed: ins[0] is
// ignored and references equal slice indices.
func NewState(ins []ir.Ins, cfg Config) *State {
	if !target.ValidPhiWeight(cfg.PhiWeight) {
		panic(fmt.Sprintf("asm: invalid phi weight %d", cfg.PhiWeight))
	}
	return &State{
		ins:        ins,
		freeset:    cfg.Allow,
		allow:      cfg.Allow,
		phiWeight:  cfg.PhiWeight,
		spill:      1,
		spillLimit: cfg.SpillLimit,
	}
}

// IR returns the instruction defining ref.
func (as *State) IR(ref ir.Ref) *ir.Ins { return &as.ins[ref] }

// FreeSet returns the registers currently free.
func (as *State) FreeSet() target.RegSet { return as.freeset }

// ModSet returns the registers modified so far in this pass.
func (as *State) ModSet() target.RegSet { return as.modset }

// Cost returns the cost entry for an occupied register.
func (as *State) Cost(r target.Reg) target.RegCost { return as.cost[r] }

// Evictions returns the number of evictions performed in this pass.
func (as *State) Evictions() int { return as.evictions }

// SpillSlots returns the number of spill slots handed out.
func (as *State) SpillSlots() int { return as.spills }

// regClass returns the candidate set for a result type: FPRs for floating
// point values, GPRs for everything else.
func (as *State) regClass(t ir.Type) target.RegSet {
	if t.Kind() == ir.TNum {
		return as.allow & target.RsetFPR
	}
	return as.allow &^ target.RsetFPR
}

// AllocRef makes sure the value defined at ref holds a register from
// allow, allocating or evicting as needed, and returns that register.
// Registers outside the configured pool never take part, even when allow
// names them.
func (as *State) AllocRef(ref ir.Ref, allow target.RegSet) (target.Reg, error) {
	ins := as.IR(ref)
	if r := ins.Reg(); r.HasReg() {
		return r, nil
	}
	var r target.Reg
	if pick := as.freeset & allow; pick != target.RsetEmpty {
		if st := ins.Reg().State(); st.Kind == target.KindHint && pick.Test(st.N) {
			r = st.N
		} else {
			r = pick.PickTop()
		}
	} else {
		var err error
		r, err = as.evict(allow)
		if err != nil {
			return target.RidInit, err
		}
	}
	ins.SetReg(r)
	as.freeset.Clear(r)
	as.modset.Set(r)
	as.cost[r] = target.CostForRef(uint16(ref), ins.Type.IsPhi(), as.phiWeight)
	log.Trace(log.AsmMonitoring, "alloc", "ref", ref, "reg", target.RegName(r))
	return r, nil
}

// evict frees the occupied register from allow with the minimum cost and
// returns it. The evicted value keeps (or gains) a spill slot. The scan is
// a flat walk over the fixed register array; the low half of the minimum
// cost directly names the evictee.
func (as *State) evict(allow target.RegSet) (target.Reg, error) {
	// Registers outside the pool carry a zero cost entry; letting them
	// into the scan would resolve the minimum to the ref 0 sentinel.
	work := allow & as.allow &^ as.freeset
	if work == target.RsetEmpty {
		return target.RidInit, trerr.ErrNoRegs
	}
	bestcost := target.RegCost(^uint32(0))
	for rs := work; rs != target.RsetEmpty; {
		r := rs.PickBot()
		rs.Clear(r)
		if as.cost[r] < bestcost {
			bestcost = as.cost[r]
		}
	}
	ref := ir.Ref(bestcost.Ref())
	ins := as.IR(ref)
	r := ins.Reg()
	slot, err := as.spillSlot(ref)
	if err != nil {
		return target.RidInit, err
	}
	ins.RegSP = target.MakeRegSP(target.RidInit, slot)
	as.freeset.Set(r)
	as.cost[r] = 0
	as.evictions++
	log.Trace(log.AsmMonitoring, "evict", "ref", ref, "reg", target.RegName(r), "slot", slot)
	return r, nil
}

// spillSlot returns the spill slot for ref, assigning the next one if the
// value has none yet.
func (as *State) spillSlot(ref ir.Ref) (uint8, error) {
	ins := as.IR(ref)
	if s := ins.Spill(); s != target.SpsNone {
		return s, nil
	}
	if as.spill > as.spillLimit {
		return target.SpsNone, fmt.Errorf("spill slot for %04d: %w", ref, trerr.ErrSpillSlots)
	}
	s := as.spill
	as.spill++
	as.spills++
	ins.SetSpill(s)
	return s, nil
}

// freeRef releases the register of the value defined at ref. The reverse
// walk calls this at the definition point, where the live range ends. The
// final register stays recorded in the instruction.
func (as *State) freeRef(ref ir.Ref) {
	ins := as.IR(ref)
	if r := ins.Reg(); r.HasReg() {
		as.freeset.Set(r)
		as.cost[r] = 0
	}
}
