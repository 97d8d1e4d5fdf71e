package ffi

import (
	"github.com/tinyrange/jitffi/internal/asm"
	"github.com/tinyrange/jitffi/internal/asm/amd64"
)

var win64IntRegs = []asm.Variable{amd64.RCX, amd64.RDX, amd64.R8, amd64.R9}

const win64FloatRegs = 4

func init() {
	registerConvention(Win64, convention{
		classify:   classifyWin64,
		newEmitter: func() Emitter { return newWin64Emitter() },
	})
}

// win64Emitter assigns argument positions: the Nth argument uses slot N in
// either the integer or the SSE register file, and positions past the fourth
// go on the stack above the shadow space.
type win64Emitter struct {
	frame
	slot int
}

func newWin64Emitter() *win64Emitter {
	return &win64Emitter{
		frame: frame{intRegs: win64IntRegs, floatRegs: win64FloatRegs, shadow: shadowSpace},
	}
}

func (e *win64Emitter) place(class ArgType, value uint64) error {
	if err := e.take(class); err != nil {
		return err
	}
	if e.slot < len(e.intRegs) {
		e.register(class, value, e.slot)
	} else {
		e.stack(class, value)
	}
	e.slot++
	return nil
}

func (e *win64Emitter) AddInt(value uint64) error {
	return e.place(Int, value)
}

func (e *win64Emitter) AddDouble(value uint64) error {
	return e.place(Float, value)
}

func (e *win64Emitter) Push(value uint64) error {
	if err := e.frame.Push(value); err != nil {
		return err
	}
	e.slot++
	return nil
}

func (e *win64Emitter) AddAggregate(units []Unit) error {
	return addUnits(e, units)
}
