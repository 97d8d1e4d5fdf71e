package amd64

import (
	"encoding/binary"
	"fmt"
	"math"
)

type rexState struct {
	w bool
	r bool
	x bool
	b bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

func regEncoding(reg Reg) (registerCode, error) {
	if reg.size != size64 && reg.size != size32 {
		return registerCode{}, fmt.Errorf("unsupported register width %d", reg.size*8)
	}
	return regInfo(reg.id)
}

type memEncoding struct {
	modrm byte
	sib   []byte
	disp  []byte
	rex   rexState
}

func encodeMemoryOperand(mem Memory) (memEncoding, error) {
	if err := mem.validate(); err != nil {
		return memEncoding{}, err
	}

	baseInfo, err := regEncoding(mem.base)
	if err != nil {
		return memEncoding{}, err
	}

	enc := memEncoding{
		rex: rexState{b: baseInfo.high},
	}

	rm := baseInfo.code

	disp := mem.disp
	switch {
	case disp == 0 && rm != 5:
		enc.modrm = 0x00
	case disp >= math.MinInt8 && disp <= math.MaxInt8:
		// [rbp] / [r13] with zero displacement must use 8-bit displacement zero.
		enc.modrm = 0x40
		enc.disp = []byte{byte(disp)}
	default:
		enc.modrm = 0x80
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(disp))
		enc.disp = buf[:]
	}

	// rsp and r12 as a base always need a SIB byte with no index.
	if rm == 4 {
		enc.sib = []byte{0x24}
	}

	enc.modrm |= rm
	return enc, nil
}

// encodeMovRegImm picks the shortest encoding that leaves value in the full
// 64-bit register.
func encodeMovRegImm(reg Reg, value int64) ([]byte, error) {
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}

	switch {
	case reg.size == size32 || (value >= 0 && value <= math.MaxUint32):
		out := make([]byte, 0, 6)
		if p := (rexState{b: info.high}).prefix(); p != 0 {
			out = append(out, p)
		}
		out = append(out, 0xB8+info.code)
		out = binary.LittleEndian.AppendUint32(out, uint32(value))
		return out, nil
	case value >= math.MinInt32 && value < 0:
		out := make([]byte, 0, 7)
		out = append(out, rexState{w: true, b: info.high}.prefix(), 0xC7, 0xC0|info.code)
		out = binary.LittleEndian.AppendUint32(out, uint32(value))
		return out, nil
	}
	out, _, err := encodeMovRegImm64(reg, uint64(value))
	return out, err
}

// encodeMovRegImm64 always uses the 10-byte movabs form and reports where
// the immediate starts so it can be patched in place.
func encodeMovRegImm64(reg Reg, value uint64) ([]byte, int, error) {
	if reg.size != size64 {
		return nil, 0, fmt.Errorf("movabs requires a 64-bit register")
	}
	info, err := regEncoding(reg)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, 0, 10)
	out = append(out, rexState{w: true, b: info.high}.prefix(), 0xB8+info.code)
	immPos := len(out)
	out = binary.LittleEndian.AppendUint64(out, value)
	return out, immPos, nil
}

func encodeMovRegReg(dst, src Reg) ([]byte, error) {
	if dst.size != src.size {
		return nil, fmt.Errorf("mismatched register widths: %d vs %d", dst.size, src.size)
	}
	return encodeALURegReg(0x89, dst, src)
}

func encodeMovRegMem(dst Reg, mem Memory) ([]byte, error) {
	dstInfo, err := regEncoding(dst)
	if err != nil {
		return nil, err
	}

	memEnc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}

	rex := memEnc.rex
	rex.r = dstInfo.high
	rex.w = dst.size == size64

	out := make([]byte, 0, 8)
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, 0x8B, memEnc.modrm|(dstInfo.code<<3))
	out = append(out, memEnc.sib...)
	out = append(out, memEnc.disp...)
	return out, nil
}

func encodeCallReg(target Reg) ([]byte, error) {
	if target.size != size64 {
		return nil, fmt.Errorf("call target must be a 64-bit register")
	}

	info, err := regEncoding(target)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 3)
	if rexByte := (rexState{b: info.high}).prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, 0xFF, 0xD0|info.code)
	return out, nil
}

func encodeStackReg(opcode byte, reg Reg) ([]byte, error) {
	if reg.size != size64 {
		return nil, fmt.Errorf("push/pop requires a 64-bit register")
	}
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2)
	if rexByte := (rexState{b: info.high}).prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, opcode+info.code)
	return out, nil
}

func encodePushReg(reg Reg) ([]byte, error) {
	return encodeStackReg(0x50, reg)
}

func encodePopReg(reg Reg) ([]byte, error) {
	return encodeStackReg(0x58, reg)
}

// encodeMovq encodes the 64-bit moves between general-purpose and SSE
// registers: 66 REX.W 0F 6E (to xmm) and 66 REX.W 0F 7E (from xmm).
func encodeMovq(opcode byte, xmm XMM, gpr Reg) ([]byte, error) {
	if gpr.size != size64 {
		return nil, fmt.Errorf("movq requires a 64-bit register")
	}
	xmmInfo, err := xmm.encoding()
	if err != nil {
		return nil, err
	}
	gprInfo, err := regEncoding(gpr)
	if err != nil {
		return nil, err
	}
	rex := rexState{w: true, r: xmmInfo.high, b: gprInfo.high}
	return []byte{0x66, rex.prefix(), 0x0F, opcode, 0xC0 | (xmmInfo.code << 3) | gprInfo.code}, nil
}

func encodeMovqToXmm(dst XMM, src Reg) ([]byte, error) {
	return encodeMovq(0x6E, dst, src)
}

func encodeMovqFromXmm(dst Reg, src XMM) ([]byte, error) {
	return encodeMovq(0x7E, src, dst)
}

func encodeALURegImm(op byte, reg Reg, value int32) ([]byte, error) {
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}

	rex := rexState{
		w: reg.size == size64,
		b: info.high,
	}

	out := make([]byte, 0, 7)
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}

	modrm := byte(0xC0 | (op << 3) | info.code)
	if value >= math.MinInt8 && value <= math.MaxInt8 {
		out = append(out, 0x83, modrm, byte(value))
		return out, nil
	}
	out = append(out, 0x81, modrm)
	out = binary.LittleEndian.AppendUint32(out, uint32(value))
	return out, nil
}

func encodeALURegReg(opcode byte, dst, src Reg) ([]byte, error) {
	if dst.size != src.size {
		return nil, fmt.Errorf("mismatched register widths: %d vs %d", dst.size, src.size)
	}

	dstInfo, err := regEncoding(dst)
	if err != nil {
		return nil, err
	}
	srcInfo, err := regEncoding(src)
	if err != nil {
		return nil, err
	}

	rex := rexState{
		w: dst.size == size64,
		r: srcInfo.high,
		b: dstInfo.high,
	}

	out := make([]byte, 0, 3)
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}

	modrm := byte(0xC0 | (srcInfo.code << 3) | dstInfo.code)
	out = append(out, opcode, modrm)
	return out, nil
}

func encodeAddRegImm(reg Reg, value int32) ([]byte, error) {
	return encodeALURegImm(0x00, reg, value)
}

func encodeSubRegImm(reg Reg, value int32) ([]byte, error) {
	return encodeALURegImm(0x05, reg, value)
}

func encodeAddRegReg(dst, src Reg) ([]byte, error) {
	return encodeALURegReg(0x01, dst, src)
}

func encodeSubRegReg(dst, src Reg) ([]byte, error) {
	return encodeALURegReg(0x29, dst, src)
}

func encodeRet() []byte {
	return []byte{0xC3}
}
