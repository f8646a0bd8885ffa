package jit

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunavm/luna/ir"
	"github.com/lunavm/luna/target"
	"github.com/lunavm/luna/trerr"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.PhiWeight = 3
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SpillLimit = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Allow = target.RsetEmpty
	require.Error(t, cfg.Validate())

	_, err := NewState(cfg)
	require.Error(t, err)
}

// loopTrace is a counted loop with one guard and one loop-carried index.
func loopTrace(traceno uint32) *Trace {
	tr := NewTrace(traceno)
	kone := tr.Append(ir.OpKInt, 1, 0, ir.TInt)
	kmax := tr.Append(ir.OpKInt, 100, 0, ir.TInt)
	idx0 := tr.Append(ir.OpBase, 0, 0, ir.TInt)
	tr.Append(ir.OpLoop, 0, 0, ir.TNil)
	idx := tr.Append(ir.OpAdd, idx0, kone, ir.TInt)
	tr.Append(ir.OpLt, idx, kmax, ir.TInt)
	tr.Append(ir.OpPhi, idx0, idx, ir.TInt)
	return tr
}

func TestCompileTrace(t *testing.T) {
	J, err := NewState(DefaultConfig())
	require.NoError(t, err)
	defer J.Flush()

	tr := loopTrace(1)
	require.Equal(t, uint32(1), tr.NGuards())
	require.NoError(t, J.CompileTrace(tr))

	assert.True(t, tr.Compiled)
	assert.Equal(t, 1, J.NTraces())
	assert.Same(t, tr, J.Trace(0))
	assert.Equal(t, 0, tr.Spills)

	// The guard's exit stub is addressable now.
	assert.NotZero(t, J.ExitStubAddr(0))

	out := tr.String()
	assert.Contains(t, out, "TRACE 1")
	assert.Contains(t, out, "PHI")
}

func TestCompileTraceEmpty(t *testing.T) {
	J, err := NewState(DefaultConfig())
	require.NoError(t, err)
	err = J.CompileTrace(NewTrace(9))
	require.Error(t, err)
	assert.True(t, errors.Is(err, trerr.ErrTraceEmpty))
}

func TestCompileTraceSpillAbort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Allow = target.RidToRset(target.RidEax) | target.RidToRset(target.RidEcx)
	cfg.SpillLimit = 1
	J, err := NewState(cfg)
	require.NoError(t, err)

	tr := NewTrace(2)
	a := tr.Append(ir.OpBase, 0, 0, ir.TInt)
	b := tr.Append(ir.OpBase, 1, 0, ir.TInt)
	c := tr.Append(ir.OpBase, 2, 0, ir.TInt)
	d := tr.Append(ir.OpAdd, a, b, ir.TInt)
	e := tr.Append(ir.OpAdd, d, c, ir.TInt)
	tr.Append(ir.OpLt, e, a, ir.TInt)
	tr.Append(ir.OpLt, e, b, ir.TInt)

	err = J.CompileTrace(tr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, trerr.ErrSpillSlots), "got %v", err)
	assert.True(t, trerr.IsAbort(err))
	assert.False(t, tr.Compiled)
	assert.Equal(t, 0, J.NTraces())
}

func TestExitStubAddressing(t *testing.T) {
	J, err := NewState(DefaultConfig())
	require.NoError(t, err)
	defer J.Flush()

	require.NoError(t, J.EnsureExitStubs(40)) // groups 0 and 1

	base0 := J.ExitStubAddr(0)
	require.NotZero(t, base0)
	assert.Equal(t, base0+uintptr(5*target.ExitStubSpacing), J.ExitStubAddr(5))

	base1 := J.ExitStubAddr(target.ExitStubsPerGroup)
	assert.NotEqual(t, base0, base1)
	assert.Equal(t, base1+uintptr(target.ExitStubSpacing), J.ExitStubAddr(target.ExitStubsPerGroup+1))

	// Generated groups are kept; the call is idempotent.
	require.NoError(t, J.EnsureExitStubs(16))
	assert.Equal(t, base0, J.ExitStubAddr(0))

	// Addressing an ungenerated group violates the contract.
	assert.Panics(t, func() { J.ExitStubAddr(uint32(target.MaxExitNo)) })
}

func TestExitStubPagesExecutable(t *testing.T) {
	J, err := NewState(DefaultConfig())
	require.NoError(t, err)
	defer J.Flush()

	assert.False(t, J.MCodeExecutable(), "no area before the first group")
	require.NoError(t, J.EnsureExitStubs(1))
	assert.True(t, J.MCodeExecutable(), "stub addresses point at runnable pages")

	// Growing the table reopens the area around the emission and seals it
	// again.
	require.NoError(t, J.EnsureExitStubs(uint32(target.ExitStubsPerGroup) + 1))
	assert.True(t, J.MCodeExecutable())
	assert.NotZero(t, J.ExitStubAddr(target.ExitStubsPerGroup))

	// Compiled traces inherit the sealed area too.
	require.NoError(t, J.CompileTrace(loopTrace(1)))
	assert.True(t, J.MCodeExecutable())
}

func TestExitStubGroupLimit(t *testing.T) {
	J, err := NewState(DefaultConfig())
	require.NoError(t, err)
	defer J.Flush()

	err = J.EnsureExitStubs(uint32(target.MaxExitNo) + 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, trerr.ErrExitStubGroups))
}

func TestFlush(t *testing.T) {
	J, err := NewState(DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, J.CompileTrace(loopTrace(1)))
	require.NoError(t, J.EnsureExitStubs(64))
	require.NoError(t, J.Flush())

	assert.Equal(t, 0, J.NTraces())
	assert.Panics(t, func() { J.ExitStubAddr(0) })

	// The context stays usable after a flush.
	require.NoError(t, J.CompileTrace(loopTrace(2)))
	assert.NotZero(t, J.ExitStubAddr(0))
	require.NoError(t, J.Flush())
}

func TestCompileDeterministic(t *testing.T) {
	runOnce := func() string {
		J, err := NewState(DefaultConfig())
		require.NoError(t, err)
		defer J.Flush()
		tr := loopTrace(7)
		require.NoError(t, J.CompileTrace(tr))
		return tr.String()
	}
	first := runOnce()
	second := runOnce()
	require.Equal(t, first, second)
	assert.True(t, strings.Contains(first, "ADD"))
}
