// Package carith fixes the entry point contracts of the foreign-data
// arithmetic layer. The trace recorder and the interpreter fallback both
// dispatch through these signatures; the implementations live in the
// embedding runtime's foreign-type interface, not here.
package carith

// MetaOp selects the arithmetic metamethod to dispatch.
type MetaOp uint8

const (
	MetaAdd MetaOp = iota
	MetaSub
	MetaMul
	MetaDiv
	MetaMod
	MetaPow
	MetaUnm
)

var metaNames = [...]string{"add", "sub", "mul", "div", "mod", "pow", "unm"}

func (mm MetaOp) String() string {
	if int(mm) < len(metaNames) {
		return metaNames[mm]
	}
	return "?"
}

// Value is an operand of a foreign-type arithmetic operation, owned by
// the embedding runtime.
type Value interface{}

// Dispatcher performs a foreign-type arithmetic operation on a value
// pair. It returns the result and true when the pair is handled, or false
// when no metamethod applies and the caller must raise the usual error.
type Dispatcher interface {
	Op(o1, o2 Value, mm MetaOp) (Value, bool)
}

// PowFunc computes x^k over 64-bit integers, with unsigned or signed
// semantics selected by isUnsigned. Implementations must be total; the
// compiled code calls this without a guard.
type PowFunc func(x, k uint64, isUnsigned bool) uint64
