package mcode

import (
	"encoding/binary"

	"github.com/lunavm/luna/log"
	"github.com/lunavm/luna/target"
)

// Exit stub group layout (x86-64):
//
//	stub i:  push <i>        ; 6A ib
//	         jmp  groupEnd   ; EB cb
//	...
//	tail:    push <group>    ; 68 id
//	         jmp  handler    ; E9 cd
//
// Every stub is target.ExitStubSpacing bytes, so the address of an exit
// number is one divide and one multiply away from the group base. The
// last stub's jmp lands directly on the tail.
const stubTailSize = 10

// StubGroupSize is the byte size of one emitted group.
const StubGroupSize = target.ExitStubsPerGroup*target.ExitStubSpacing + stubTailSize

// EmitStubGroup writes one exit stub group into buf, which must hold
// StubGroupSize bytes. base is the address buf will execute at and
// handler the common exit handler the tail jumps to. Returns the number
// of bytes written.
func EmitStubGroup(buf []byte, group uint32, base, handler uintptr) int {
	tailOff := target.ExitStubsPerGroup * target.ExitStubSpacing
	for i := 0; i < target.ExitStubsPerGroup; i++ {
		off := i * target.ExitStubSpacing
		buf[off] = 0x6A // push imm8
		buf[off+1] = byte(i)
		buf[off+2] = 0xEB // jmp rel8
		buf[off+3] = byte(tailOff - (off + 4))
	}
	buf[tailOff] = 0x68 // push imm32
	binary.LittleEndian.PutUint32(buf[tailOff+1:], group)
	buf[tailOff+5] = 0xE9 // jmp rel32
	rel := int64(handler) - int64(base) - int64(tailOff+stubTailSize)
	binary.LittleEndian.PutUint32(buf[tailOff+6:], uint32(int32(rel)))
	return StubGroupSize
}

// EmitExitStubGroup reserves room in the area and emits stub group
// `group`, returning the group base address.
func (a *Area) EmitExitStubGroup(group uint32, handler uintptr) (uintptr, error) {
	buf, base, err := a.Reserve(StubGroupSize)
	if err != nil {
		return 0, err
	}
	EmitStubGroup(buf, group, base, handler)
	log.Debug(log.MCodeMonitoring, "exit stub group emitted",
		"group", group, "base", base, "stubs", target.ExitStubsPerGroup)
	return base, nil
}
