package ffi

import (
	"github.com/tinyrange/jitffi/internal/asm"
	"github.com/tinyrange/jitffi/internal/asm/amd64"
)

var sysvIntRegs = []asm.Variable{amd64.RDI, amd64.RSI, amd64.RDX, amd64.RCX, amd64.R8, amd64.R9}

const sysvFloatRegs = 8

func init() {
	registerConvention(SysV, convention{
		classify:   classifySysV,
		newEmitter: func() Emitter { return newSysVEmitter() },
	})
}

// sysvEmitter numbers integer and floating-point registers independently.
type sysvEmitter struct {
	frame
	nextInt   int
	nextFloat int
}

func newSysVEmitter() *sysvEmitter {
	return &sysvEmitter{
		frame: frame{intRegs: sysvIntRegs, floatRegs: sysvFloatRegs},
	}
}

func (e *sysvEmitter) AddInt(value uint64) error {
	if err := e.take(Int); err != nil {
		return err
	}
	if e.nextInt < len(e.intRegs) {
		e.register(Int, value, e.nextInt)
		e.nextInt++
		return nil
	}
	e.stack(Int, value)
	return nil
}

func (e *sysvEmitter) AddDouble(value uint64) error {
	if err := e.take(Float); err != nil {
		return err
	}
	if e.nextFloat < e.floatRegs {
		e.register(Float, value, e.nextFloat)
		e.nextFloat++
		return nil
	}
	e.stack(Float, value)
	return nil
}

// AddAggregate places the eightbytes of one struct. If they do not all fit in
// the registers left, the whole struct goes on the stack.
func (e *sysvEmitter) AddAggregate(units []Unit) error {
	var ints, floats int
	inMemory := false
	for _, u := range units {
		switch u.Class {
		case Int:
			ints++
		case Float:
			floats++
		default:
			inMemory = true
		}
	}
	if !inMemory && e.nextInt+ints <= len(e.intRegs) && e.nextFloat+floats <= e.floatRegs {
		return addUnits(e, units)
	}
	for _, u := range units {
		if err := e.take(u.Class); err != nil {
			return err
		}
		e.stack(u.Class, u.Value)
	}
	return nil
}

func addUnits(e Emitter, units []Unit) error {
	for _, u := range units {
		var err error
		switch u.Class {
		case Int:
			err = e.AddInt(u.Value)
		case Float:
			err = e.AddDouble(u.Value)
		case Memory:
			err = e.Push(u.Value)
		default:
			err = ErrUnknownType
		}
		if err != nil {
			return err
		}
	}
	return nil
}
