package ffi

import (
	"errors"
	"fmt"
	"math"

	"github.com/tinyrange/jitffi/internal/asm"
	"github.com/tinyrange/jitffi/internal/asm/amd64"
)

var (
	ErrNotInitialized     = errors.New("ffi: emitter used before Init")
	ErrAlreadyInitialized = errors.New("ffi: emitter initialized twice")
	ErrNilFunction        = errors.New("ffi: nil function pointer")
	ErrCountMismatch      = errors.New("ffi: argument counts do not match Init")
	ErrStackOverflow      = errors.New("ffi: stack arguments exceed displacement range")
	ErrIncomplete         = errors.New("ffi: thunk is incomplete")
)

// targetMark names the 8-byte call target immediate inside a thunk.
const targetMark asm.Mark = "call-target"

// shadowSpace is the callee home area Windows x64 reserves below the return address.
const shadowSpace = 32

// Emitter turns classified units into the machine code of one thunk.
//
// Init must come first and is called once. AddInt, AddDouble, Push and
// AddAggregate record units in declaration order; Call emits the whole call
// sequence and Ret the final return.
type Emitter interface {
	Init(counts Counts) error
	AddInt(value uint64) error
	AddDouble(value uint64) error
	Push(value uint64) error
	AddAggregate(units []Unit) error
	Call(fn uintptr) error
	Ret() error

	// Placements reports where every recorded unit will be passed.
	Placements() []Placement
	// StackPushes returns the number of 8-byte stack slots used by arguments.
	StackPushes() int
	Program() (asm.Program, error)
}

// Placement is the destination of one unit.
type Placement struct {
	Class ArgType
	Value uint64
	// Register indexes the register file for Class, or is -1 for a stack slot.
	Register int
}

func (p Placement) OnStack() bool {
	return p.Register < 0
}

func (p Placement) String() string {
	if p.OnStack() {
		return fmt.Sprintf("%s stack %#x", p.Class, p.Value)
	}
	return fmt.Sprintf("%s reg%d %#x", p.Class, p.Register, p.Value)
}

// StackAdjustment returns the bytes subtracted from RSP before the stack
// pushes and the total restored after the call. On thunk entry RSP is 8
// bytes past a 16-byte boundary, so 8 bytes are always reserved and 8 more
// when pushes is odd.
func StackAdjustment(pushes int) (reserve int32, restore int32, err error) {
	if pushes < 0 {
		return 0, 0, fmt.Errorf("%w: %d stack pushes", ErrCountMismatch, pushes)
	}
	pad := int64(0)
	if pushes%2 != 0 {
		pad = 8
	}
	total := 8 + pad + 8*int64(pushes)
	if total > math.MaxInt32 {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrStackOverflow, total)
	}
	return int32(8 + pad), int32(total), nil
}

// frame is the state shared by the per-ABI emitters.
type frame struct {
	intRegs   []asm.Variable
	floatRegs int
	shadow    int32

	initialized bool
	remaining   Counts
	placements  []Placement
	pushes      int

	code     asm.Group
	called   bool
	returned bool
}

func (f *frame) Init(counts Counts) error {
	if f.initialized {
		return ErrAlreadyInitialized
	}
	if counts.Int < 0 || counts.Float < 0 || counts.Memory < 0 {
		return fmt.Errorf("%w: negative count (%s)", ErrCountMismatch, counts)
	}
	f.remaining = counts
	f.initialized = true
	return nil
}

// take consumes one expected unit of class.
func (f *frame) take(class ArgType) error {
	if !f.initialized {
		return ErrNotInitialized
	}
	if f.called {
		return fmt.Errorf("%w: argument added after Call", ErrCountMismatch)
	}
	var n *int
	switch class {
	case Int:
		n = &f.remaining.Int
	case Float:
		n = &f.remaining.Float
	case Memory:
		n = &f.remaining.Memory
	default:
		return fmt.Errorf("%w: unit class %s", ErrUnknownType, class)
	}
	if *n <= 0 {
		return fmt.Errorf("%w: more %s units than announced", ErrCountMismatch, class)
	}
	*n--
	return nil
}

func (f *frame) register(class ArgType, value uint64, idx int) {
	f.placements = append(f.placements, Placement{Class: class, Value: value, Register: idx})
}

func (f *frame) stack(class ArgType, value uint64) {
	f.placements = append(f.placements, Placement{Class: class, Value: value, Register: -1})
	f.pushes++
}

func (f *frame) Push(value uint64) error {
	if err := f.take(Memory); err != nil {
		return err
	}
	f.stack(Memory, value)
	return nil
}

func (f *frame) Placements() []Placement {
	return append([]Placement(nil), f.placements...)
}

func (f *frame) StackPushes() int {
	return f.pushes
}

func (f *frame) Call(fn uintptr) error {
	if !f.initialized {
		return ErrNotInitialized
	}
	if fn == 0 {
		return ErrNilFunction
	}
	if f.called {
		return fmt.Errorf("%w: Call emitted twice", ErrIncomplete)
	}
	if f.remaining != (Counts{}) {
		return fmt.Errorf("%w: %s left unplaced", ErrCountMismatch, f.remaining)
	}

	reserve, restore, err := StackAdjustment(f.pushes)
	if err != nil {
		return err
	}

	rsp := amd64.Reg64(amd64.RSP)
	rax := amd64.Reg64(amd64.RAX)

	code := asm.Group{amd64.SubRegImm(rsp, reserve)}

	// Last stack argument first so the first one ends up lowest.
	for i := len(f.placements) - 1; i >= 0; i-- {
		p := f.placements[i]
		if !p.OnStack() {
			continue
		}
		code = append(code,
			amd64.MovImmediate(rax, int64(p.Value)),
			amd64.Push(rax),
		)
	}

	if f.shadow != 0 {
		code = append(code, amd64.SubRegImm(rsp, f.shadow))
	}

	for _, p := range f.placements {
		if p.OnStack() {
			continue
		}
		switch p.Class {
		case Int:
			code = append(code, amd64.MovImmediate(amd64.Reg64(f.intRegs[p.Register]), int64(p.Value)))
		case Float:
			code = append(code,
				amd64.MovImmediate(rax, int64(p.Value)),
				amd64.MovqToXmm(amd64.XMM(p.Register), rax),
			)
		default:
			panic(fmt.Sprintf("ffi: %s unit assigned to a register", p.Class))
		}
	}

	code = append(code,
		amd64.MovImmediate64(rax, uint64(fn), targetMark),
		amd64.CallReg(rax),
	)
	if f.shadow != 0 {
		code = append(code, amd64.AddRegImm(rsp, f.shadow))
	}
	code = append(code, amd64.AddRegImm(rsp, restore))

	f.code = append(f.code, code...)
	f.called = true
	return nil
}

func (f *frame) Ret() error {
	if !f.called {
		return fmt.Errorf("%w: Ret before Call", ErrIncomplete)
	}
	if f.returned {
		return fmt.Errorf("%w: Ret emitted twice", ErrIncomplete)
	}
	f.code = append(f.code, amd64.Ret())
	f.returned = true
	return nil
}

func (f *frame) Program() (asm.Program, error) {
	if !f.called || !f.returned {
		return asm.Program{}, fmt.Errorf("%w: missing Call or Ret", ErrIncomplete)
	}
	return amd64.EmitProgram(f.code)
}
