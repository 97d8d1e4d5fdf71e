package ffi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/jitffi/internal/asm"
	"github.com/tinyrange/jitffi/internal/execmem"
)

// protectRegion is replaced in tests to simulate protection failures.
var protectRegion = (*execmem.Region).Protect

var (
	ErrReleased    = errors.New("ffi: thunk released")
	ErrForeignABI  = errors.New("ffi: thunk ABI does not match the host")
	ErrUnsupported = errors.New("ffi: native calls are not supported on this platform")
)

// Thunk is generated code bound to one native function and one argument list.
// Its memory is released only by Release. A Thunk is not safe for concurrent
// use while Rebind is running.
type Thunk struct {
	abi        ABI
	region     *execmem.Region
	prog       asm.Program
	fn         uintptr
	target     int
	placements []Placement

	// keep holds by-reference argument copies the code points into.
	keep [][]byte
}

func (t *Thunk) ABI() ABI { return t.abi }

// Func returns the function pointer the thunk currently calls.
func (t *Thunk) Func() uintptr { return t.fn }

// Entry returns the address of the generated code.
func (t *Thunk) Entry() (uintptr, error) {
	if t.region.State() == execmem.StateReleased {
		return 0, ErrReleased
	}
	return t.region.Entry()
}

// Code returns the emitted bytes.
func (t *Thunk) Code() []byte {
	return t.prog.Bytes()
}

// Placements reports where each argument unit is passed.
func (t *Thunk) Placements() []Placement {
	return append([]Placement(nil), t.placements...)
}

// Rebind patches the thunk to call fn with the same arguments. No other
// goroutine may be running the thunk meanwhile. If the patch cannot be
// completed the thunk is left unusable and must only be released.
func (t *Thunk) Rebind(fn uintptr) error {
	if fn == 0 {
		return ErrNilFunction
	}
	if t.region.State() == execmem.StateReleased {
		return ErrReleased
	}
	if err := t.region.Unprotect(); err != nil {
		return err
	}
	var imm [8]byte
	binary.LittleEndian.PutUint64(imm[:], uint64(fn))
	if err := t.region.Write(t.target, imm[:]); err != nil {
		return fmt.Errorf("patch call target: %w", err)
	}
	if err := protectRegion(t.region); err != nil {
		return fmt.Errorf("patch call target: %w", err)
	}
	t.prog = patched(t.prog, t.target, imm[:])
	slog.Debug("ffi: thunk rebound", "from", fmt.Sprintf("%#x", t.fn), "to", fmt.Sprintf("%#x", fn))
	t.fn = fn
	return nil
}

func patched(prog asm.Program, off int, data []byte) asm.Program {
	code := prog.Bytes()
	copy(code[off:], data)
	marks := map[asm.Mark]int{}
	if target, ok := prog.Mark(targetMark); ok {
		marks[targetMark] = target
	}
	return asm.NewProgram(code, marks)
}

// Release unmaps the thunk. The thunk must not be called afterwards.
func (t *Thunk) Release() error {
	if t.region.State() == execmem.StateReleased {
		return ErrReleased
	}
	if err := t.region.Release(); err != nil {
		return err
	}
	t.keep = nil
	return nil
}
