package amd64

import (
	"github.com/tinyrange/jitffi/internal/asm"
)

func emitEncoded(encode func() ([]byte, error)) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		bytes, err := encode()
		if err != nil {
			return err
		}
		ctx.EmitBytes(bytes)
		return nil
	})
}

func MovImmediate(dst Reg, value int64) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodeMovRegImm(dst, value) })
}

// MovImmediate64 always emits the 10-byte movabs form. When mark is non-empty
// the offset of the 8-byte immediate is recorded under it.
func MovImmediate64(dst Reg, value uint64, mark asm.Mark) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		bytes, immPos, err := encodeMovRegImm64(dst, value)
		if err != nil {
			return err
		}
		if mark != "" {
			if err := asm.MarkHere(mark, immPos).Emit(ctx); err != nil {
				return err
			}
		}
		ctx.EmitBytes(bytes)
		return nil
	})
}

func MovReg(dst, src Reg) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodeMovRegReg(dst, src) })
}

func MovFromMemory(dst Reg, mem Memory) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodeMovRegMem(dst, mem) })
}

func MovqToXmm(dst XMM, src Reg) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodeMovqToXmm(dst, src) })
}

func MovqFromXmm(dst Reg, src XMM) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodeMovqFromXmm(dst, src) })
}

func CallReg(target Reg) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodeCallReg(target) })
}

func Push(reg Reg) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodePushReg(reg) })
}

func Pop(reg Reg) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodePopReg(reg) })
}

func AddRegImm(reg Reg, value int32) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodeAddRegImm(reg, value) })
}

func SubRegImm(reg Reg, value int32) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodeSubRegImm(reg, value) })
}

func AddRegReg(dst, src Reg) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodeAddRegReg(dst, src) })
}

func SubRegReg(dst, src Reg) asm.Fragment {
	return emitEncoded(func() ([]byte, error) { return encodeSubRegReg(dst, src) })
}
