// Package ir models the SSA intermediate representation of one recorded
// trace: numbered instruction results, type flags and the per-instruction
// register/spill record consumed by the backend.
package ir

import (
	"fmt"

	"github.com/lunavm/luna/target"
)

// Ref identifies an instruction result by its position in the trace.
// Ref 0 is never a valid result. The IR is kept ordered so that constants
// get lower references than loop-invariant instructions, and invariants
// lower references than variant ones; the allocation cost model depends
// on this ordering.
type Ref uint16

const RefNone Ref = 0

// Type carries the result kind in the low bits and flags in the high bits.
type Type uint8

const (
	TNil Type = iota
	TBool
	TInt
	TNum
	TStr
	TTab
	TPtr

	KindMask Type = 0x1f

	// FlagPhi marks a loop-carried value; the register allocator protects
	// it from eviction.
	FlagPhi Type = 0x40
)

func (t Type) Kind() Type { return t & KindMask }

func (t Type) IsPhi() bool { return t&FlagPhi != 0 }

// Op enumerates the trace opcodes the backend understands.
type Op uint8

const (
	OpNop Op = iota
	OpKInt    // constant; op1 holds the literal
	OpBase    // incoming slot load; op1 is the slot number
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpLoad  // load through a reference
	OpStore // store op2 through op1; no result
	OpEq    // guard; no result
	OpLt    // guard; no result
	OpPhi   // loop-carried merge of op1 (invariant) and op2 (variant)
	OpLoop  // separates the invariant part from the loop body
)

var opNames = [...]string{
	OpNop: "NOP", OpKInt: "KINT", OpBase: "BASE",
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV", OpNeg: "NEG",
	OpLoad: "LOAD", OpStore: "STORE", OpEq: "EQ", OpLt: "LT",
	OpPhi: "PHI", OpLoop: "LOOP",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("OP%d", uint8(op))
}

// OpMode describes how an operand field is interpreted.
type OpMode uint8

const (
	ModeNone OpMode = iota
	ModeRef         // operand is an IR reference
	ModeLit         // operand is a literal
)

type opInfo struct {
	m1, m2 OpMode
	result bool // instruction defines a value
}

var opModes = [...]opInfo{
	OpNop:   {ModeNone, ModeNone, false},
	OpKInt:  {ModeLit, ModeNone, true},
	OpBase:  {ModeLit, ModeNone, true},
	OpAdd:   {ModeRef, ModeRef, true},
	OpSub:   {ModeRef, ModeRef, true},
	OpMul:   {ModeRef, ModeRef, true},
	OpDiv:   {ModeRef, ModeRef, true},
	OpNeg:   {ModeRef, ModeNone, true},
	OpLoad:  {ModeRef, ModeNone, true},
	OpStore: {ModeRef, ModeRef, false},
	OpEq:    {ModeRef, ModeRef, false},
	OpLt:    {ModeRef, ModeRef, false},
	OpPhi:   {ModeRef, ModeRef, true},
	OpLoop:  {ModeNone, ModeNone, false},
}

func (op Op) Mode1() OpMode { return opModes[op].m1 }

func (op Op) Mode2() OpMode { return opModes[op].m2 }

// HasResult reports whether the instruction defines a value.
func (op Op) HasResult() bool { return opModes[op].result }

// Ins is one trace instruction. RegSP travels with the instruction from
// its definition to every use, answering "register, spill slot, both or
// neither" with one comparison.
type Ins struct {
	Op    Op
	Op1   Ref
	Op2   Ref
	Type  Type
	RegSP target.RegSP
}

func (ins *Ins) Reg() target.Reg { return ins.RegSP.Reg() }

func (ins *Ins) Spill() uint8 { return ins.RegSP.Spill() }

// SetReg assigns a register, keeping any spill slot.
func (ins *Ins) SetReg(r target.Reg) {
	ins.RegSP = target.MakeRegSP(r, ins.RegSP.Spill())
}

// SetSpill assigns a spill slot, keeping the register byte.
func (ins *Ins) SetSpill(s uint8) {
	ins.RegSP = target.MakeRegSP(ins.RegSP.Reg(), s)
}

// SetHint seeds an advisory register preference; it never overwrites an
// allocated register.
func (ins *Ins) SetHint(r target.Reg) {
	if ins.RegSP.Reg().NoReg() {
		ins.RegSP = target.MakeRegSP(target.WithHint(r), ins.RegSP.Spill())
	}
}

func (ins *Ins) String() string {
	return fmt.Sprintf("%-5s %04d %04d", ins.Op, ins.Op1, ins.Op2)
}
