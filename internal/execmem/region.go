// Package execmem manages the memory pages that host generated machine code.
//
// A Region is never writable and executable at the same time: it starts
// Writable (read+write) or Executable (read+execute) and moves between those
// states explicitly until it is Released.
package execmem

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"
)

var (
	ErrInvalidState = errors.New("execmem: invalid region state")
	ErrOutOfRange   = errors.New("execmem: write out of range")
	ErrInvalidSize  = errors.New("execmem: size must be positive")
)

type State int

const (
	StateWritable State = iota
	StateExecutable
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateWritable:
		return "writable"
	case StateExecutable:
		return "executable"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Region is a page-aligned block of process memory owned by one caller.
// It is not safe for concurrent use.
type Region struct {
	mem   []byte
	size  int
	state State
}

// Allocate maps at least size bytes. With readonly the region starts
// Executable, otherwise Writable.
func Allocate(size int, readonly bool) (*Region, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	pageSize := pageSize()
	allocSize := ((size + pageSize - 1) / pageSize) * pageSize

	prot := protReadWrite
	state := StateWritable
	if readonly {
		prot = protReadExec
		state = StateExecutable
	}

	mem, err := sysAlloc(allocSize, prot)
	if err != nil {
		return nil, fmt.Errorf("execmem: allocate %d bytes: %w", allocSize, err)
	}

	slog.Debug("execmem: region allocated", "addr", fmt.Sprintf("%#x", uintptr(unsafe.Pointer(&mem[0]))), "size", allocSize, "state", state)

	return &Region{mem: mem, size: allocSize, state: state}, nil
}

// Size returns the page-rounded size of the region.
func (r *Region) Size() int { return r.size }

func (r *Region) State() State { return r.state }

// Addr returns the base address of the region, or zero once released.
func (r *Region) Addr() uintptr {
	if r.state == StateReleased {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.mem[0]))
}

// Write copies p into the region at off. The region must be Writable.
func (r *Region) Write(off int, p []byte) error {
	if r.state != StateWritable {
		return fmt.Errorf("%w: write while %s", ErrInvalidState, r.state)
	}
	if off < 0 || off+len(p) > r.size {
		return fmt.Errorf("%w: [%d, %d) in region of %d bytes", ErrOutOfRange, off, off+len(p), r.size)
	}
	copy(r.mem[off:], p)
	return nil
}

// Bytes returns a copy of the first n bytes of the region.
func (r *Region) Bytes(n int) ([]byte, error) {
	if r.state == StateReleased {
		return nil, fmt.Errorf("%w: read while %s", ErrInvalidState, r.state)
	}
	if n < 0 || n > r.size {
		return nil, fmt.Errorf("%w: read of %d bytes in region of %d bytes", ErrOutOfRange, n, r.size)
	}
	return append([]byte(nil), r.mem[:n]...), nil
}

// Protect transitions a Writable region to Executable.
func (r *Region) Protect() error {
	return r.transition(StateWritable, StateExecutable, protReadExec)
}

// Unprotect transitions an Executable region back to Writable. The caller
// must ensure no thread is executing code from the region meanwhile.
func (r *Region) Unprotect() error {
	return r.transition(StateExecutable, StateWritable, protReadWrite)
}

func (r *Region) transition(from, to State, prot int) error {
	if r.state != from {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, r.state, to)
	}
	if err := sysProtect(r.mem, prot); err != nil {
		return fmt.Errorf("execmem: change protection to %s: %w", to, err)
	}
	slog.Debug("execmem: region transition", "from", from, "to", to)
	r.state = to
	return nil
}

// Entry returns the address of the first byte for execution. The region must
// be Executable.
func (r *Region) Entry() (uintptr, error) {
	if r.state != StateExecutable {
		return 0, fmt.Errorf("%w: entry while %s", ErrInvalidState, r.state)
	}
	return r.Addr(), nil
}

// Release returns the region to the operating system. It is never called
// implicitly.
func (r *Region) Release() error {
	if r.state == StateReleased {
		return fmt.Errorf("%w: double release", ErrInvalidState)
	}
	if err := sysFree(r.mem); err != nil {
		return fmt.Errorf("execmem: release: %w", err)
	}
	r.mem = nil
	r.state = StateReleased
	return nil
}
