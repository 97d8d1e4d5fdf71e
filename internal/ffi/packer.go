package ffi

import "encoding/binary"

// structPacker accumulates the members of one eightbyte of an aggregate.
type structPacker struct {
	buf   [8]byte
	n     int
	class ArgType
}

// push appends field. It reports false, leaving the packer unchanged, when the
// field does not fit in the remaining bytes.
func (p *structPacker) push(field []byte) bool {
	if len(field) > len(p.buf)-p.n {
		return false
	}
	p.n += copy(p.buf[p.n:], field)
	return true
}

// merge folds the class of a newly pushed field into the packer's class.
func (p *structPacker) merge(class ArgType) {
	switch class {
	case Memory:
		p.class = Memory
	case Int:
		if p.class != Memory {
			p.class = Int
		}
	case Float:
		if p.class == Unknown {
			p.class = Float
		}
	}
}

func (p *structPacker) empty() bool {
	return p.n == 0
}

func (p *structPacker) len() int {
	return p.n
}

func (p *structPacker) clear() {
	p.buf = [8]byte{}
	p.n = 0
	p.class = Unknown
}

// data returns the packed bytes as a little-endian value; unfilled bytes are zero.
func (p *structPacker) data() uint64 {
	return binary.LittleEndian.Uint64(p.buf[:])
}
