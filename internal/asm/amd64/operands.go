package amd64

import (
	"fmt"

	"github.com/tinyrange/jitffi/internal/asm"
)

type operandSize uint8

const (
	size8  operandSize = 1
	size16 operandSize = 2
	size32 operandSize = 4
	size64 operandSize = 8
)

// Reg represents a general-purpose register with an explicit operand size.
type Reg struct {
	id   asm.Variable
	size operandSize
}

// Reg64 constructs a 64-bit register operand backed by the provided register id.
func Reg64(id asm.Variable) Reg { return Reg{id: id, size: size64} }

// Reg32 constructs a 32-bit register operand backed by the provided register id.
func Reg32(id asm.Variable) Reg { return Reg{id: id, size: size32} }

// ID returns the register id.
func (r Reg) ID() asm.Variable { return r.id }

// XMM identifies one of the sixteen SSE registers.
type XMM uint8

const (
	XMM0 XMM = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

func (x XMM) String() string {
	return fmt.Sprintf("xmm%d", uint8(x))
}

func (x XMM) encoding() (registerCode, error) {
	if x > XMM15 {
		return registerCode{}, fmt.Errorf("unsupported xmm register %d", uint8(x))
	}
	return registerCode{code: byte(x) & 7, high: x >= XMM8}, nil
}

// Memory describes an effective address of the form [base + disp].
type Memory struct {
	base Reg
	disp int32
}

// Mem constructs a memory operand referencing [base].
func Mem(base Reg) Memory {
	return Memory{base: base}
}

// WithDisp returns a copy of the memory operand with the supplied displacement.
func (m Memory) WithDisp(disp int32) Memory {
	m.disp = disp
	return m
}

func (m Memory) validate() error {
	if m.base.size != size64 {
		return fmt.Errorf("base register must be 64-bit")
	}
	return nil
}

type fragmentFunc func(asm.Context) error

func (f fragmentFunc) Emit(ctx asm.Context) error { return f(ctx) }
