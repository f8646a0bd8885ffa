package mcode

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunavm/luna/target"
	"github.com/lunavm/luna/trerr"
)

func TestEmitStubGroupLayout(t *testing.T) {
	buf := make([]byte, StubGroupSize)
	n := EmitStubGroup(buf, 3, 0x1000, 0x2000)
	require.Equal(t, StubGroupSize, n)

	tailOff := target.ExitStubsPerGroup * target.ExitStubSpacing
	for i := 0; i < target.ExitStubsPerGroup; i++ {
		off := i * target.ExitStubSpacing
		assert.Equal(t, byte(0x6A), buf[off], "stub %d push opcode", i)
		assert.Equal(t, byte(i), buf[off+1], "stub %d exit number", i)
		assert.Equal(t, byte(0xEB), buf[off+2], "stub %d jmp opcode", i)
		// Every stub's jmp lands on the group tail.
		dest := off + 4 + int(buf[off+3])
		assert.Equal(t, tailOff, dest, "stub %d jmp target", i)
	}

	// The last stub falls straight through to the tail.
	assert.Equal(t, byte(0), buf[tailOff-1])

	assert.Equal(t, byte(0x68), buf[tailOff])
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf[tailOff+1:]))
	assert.Equal(t, byte(0xE9), buf[tailOff+5])
	rel := int32(binary.LittleEndian.Uint32(buf[tailOff+6:]))
	assert.Equal(t, int64(0x2000), 0x1000+int64(tailOff)+stubTailSize+int64(rel))
}

func TestEmitStubGroupDisassembles(t *testing.T) {
	buf := make([]byte, StubGroupSize)
	EmitStubGroup(buf, 0, 0, 0)
	out := strings.ToUpper(Disassemble(buf))
	assert.Contains(t, out, "PUSH")
	assert.Contains(t, out, "JMP")
	assert.NotContains(t, out, "DB 0X", "no undecodable bytes")
}

func TestAreaReserve(t *testing.T) {
	a, err := NewArea(4096)
	require.NoError(t, err)
	defer a.Free()

	buf, addr, err := a.Reserve(StubGroupSize)
	require.NoError(t, err)
	require.Len(t, buf, StubGroupSize)
	assert.Equal(t, a.Base(), addr)
	assert.Equal(t, StubGroupSize, a.Used())

	_, addr2, err := a.Reserve(StubGroupSize)
	require.NoError(t, err)
	assert.Equal(t, addr+uintptr(StubGroupSize), addr2)

	_, _, err = a.Reserve(4096)
	require.Error(t, err)
	assert.True(t, errors.Is(err, trerr.ErrMCodeFull))
}

func TestAreaProtectAndFree(t *testing.T) {
	a, err := NewArea(4096)
	require.NoError(t, err)

	base, err := a.EmitExitStubGroup(0, 0)
	require.NoError(t, err)
	require.Equal(t, a.Base(), base)
	require.NoError(t, a.Protect())
	assert.True(t, a.Executable())
	require.NoError(t, a.Free())
	// Free is idempotent.
	require.NoError(t, a.Free())
}

func TestAreaWritableReopens(t *testing.T) {
	a, err := NewArea(4096)
	require.NoError(t, err)
	defer a.Free()

	_, err = a.EmitExitStubGroup(0, 0)
	require.NoError(t, err)
	require.NoError(t, a.Protect())
	// Protect is idempotent.
	require.NoError(t, a.Protect())
	assert.True(t, a.Executable())

	// The sealed area reopens for further emission; the write below would
	// fault if the pages stayed read+execute.
	require.NoError(t, a.Writable())
	assert.False(t, a.Executable())
	_, err = a.EmitExitStubGroup(1, 0)
	require.NoError(t, err)
	require.NoError(t, a.Protect())
	assert.True(t, a.Executable())
}

func TestDisassembleBadBytes(t *testing.T) {
	out := Disassemble([]byte{0x90, 0xC3})
	assert.Contains(t, strings.ToUpper(out), "NOP")
	assert.Contains(t, strings.ToUpper(out), "RET")
}
