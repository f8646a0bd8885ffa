// Package mcode manages the executable memory that holds generated
// machine code, and emits the x86-64 exit stub groups a compiled trace
// jumps through when it leaves compiled execution.
package mcode

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/lunavm/luna/log"
	"github.com/lunavm/luna/trerr"
)

// Area is one mmap'd machine code region. Code is appended front to back;
// the region is made executable once and freed as a whole on flush.
type Area struct {
	mem  []byte
	used int
	exec bool
}

// NewArea maps size bytes of writable memory for code generation.
func NewArea(size int) (*Area, error) {
	mem, err := syscall.Mmap(
		-1, 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_ANON|syscall.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %v: %w", size, err, trerr.ErrMCodeAlloc)
	}
	log.Debug(log.MCodeMonitoring, "mcode area mapped", "size", size)
	return &Area{mem: mem}, nil
}

// Base returns the start address of the area.
func (a *Area) Base() uintptr {
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

// Used returns the number of bytes emitted so far.
func (a *Area) Used() int { return a.used }

// Reserve hands out the next n bytes of the area.
func (a *Area) Reserve(n int) ([]byte, uintptr, error) {
	if a.used+n > len(a.mem) {
		return nil, 0, fmt.Errorf("reserve %d bytes (used %d/%d): %w",
			n, a.used, len(a.mem), trerr.ErrMCodeFull)
	}
	buf := a.mem[a.used : a.used+n]
	addr := a.Base() + uintptr(a.used)
	a.used += n
	return buf, addr, nil
}

// Protect switches the whole area to read+execute. Emission resumes only
// after Writable.
func (a *Area) Protect() error {
	if a.exec {
		return nil
	}
	if err := syscall.Mprotect(a.mem, syscall.PROT_READ|syscall.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect rx: %v: %w", err, trerr.ErrMCodeProtect)
	}
	a.exec = true
	return nil
}

// Writable switches the area back to read+write for further emission.
func (a *Area) Writable() error {
	if !a.exec {
		return nil
	}
	if err := syscall.Mprotect(a.mem, syscall.PROT_READ|syscall.PROT_WRITE); err != nil {
		return fmt.Errorf("mprotect rw: %v: %w", err, trerr.ErrMCodeProtect)
	}
	a.exec = false
	return nil
}

// Executable reports whether the area is currently mapped read+execute.
func (a *Area) Executable() bool { return a.exec }

// Free unmaps the area. The caller must drop every address derived from
// it first.
func (a *Area) Free() error {
	if a.mem == nil {
		return nil
	}
	err := syscall.Munmap(a.mem)
	a.mem = nil
	a.used = 0
	a.exec = false
	return err
}
