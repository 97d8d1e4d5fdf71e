package ffi

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// sysvMaxRegisterAggregate is the largest aggregate System V passes in registers.
const sysvMaxRegisterAggregate = 16

func load(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

func backing(t *Type, data unsafe.Pointer) ([]byte, error) {
	if t.Size == 0 {
		return nil, nil
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilData, t)
	}
	return unsafe.Slice((*byte)(data), t.Size), nil
}

// classifySysV appends the System V eightbytes of one argument to list.
func classifySysV(list *ArgumentList, t *Type, data unsafe.Pointer) error {
	leaves, err := checkedLeaves(t)
	if err != nil {
		return err
	}
	raw, err := backing(t, data)
	if err != nil {
		return err
	}
	defer list.endArg()

	if !t.IsAggregate() {
		list.push(t.Kind, load(raw), false)
		return nil
	}

	packEightbytes(list, t, raw, leaves)
	return nil
}

func checkedLeaves(t *Type) ([]leaf, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil descriptor", ErrUnknownType)
	}
	return t.leaves()
}

func straddles(leaves []leaf) bool {
	for _, lf := range leaves {
		if lf.offset%8+lf.size > 8 {
			return true
		}
	}
	return false
}

// packEightbytes splits an aggregate into ⌈size/8⌉ units. Aggregates larger
// than 16 bytes, tagged Memory, or with a field crossing an eightbyte are
// classified Memory throughout. Otherwise each unit takes the merged class of
// every field overlapping it: Int over Float, Memory over everything.
func packEightbytes(list *ArgumentList, t *Type, raw []byte, leaves []leaf) {
	memory := t.Kind == Memory || t.Size > sysvMaxRegisterAggregate || straddles(leaves)

	var p structPacker
	for lo := uintptr(0); lo < t.Size; lo += 8 {
		hi := min(lo+8, t.Size)
		p.clear()
		p.push(raw[lo:hi])

		for _, lf := range leaves {
			if lf.offset < hi && lf.offset+lf.size > lo {
				p.merge(lf.kind)
			}
		}

		class := p.class
		switch {
		case memory:
			class = Memory
		case class == Unknown:
			// Eightbyte made only of padding.
			class = Int
		}
		list.push(class, p.data(), true)
	}
}

// classifyWin64 appends the Windows x64 unit of one argument to list.
// Aggregates of 1, 2, 4 or 8 bytes travel by value in an integer slot; any
// other aggregate is copied and passed by reference.
func classifyWin64(list *ArgumentList, t *Type, data unsafe.Pointer) error {
	if _, err := checkedLeaves(t); err != nil {
		return err
	}
	raw, err := backing(t, data)
	if err != nil {
		return err
	}
	defer list.endArg()

	if !t.IsAggregate() {
		list.push(t.Kind, load(raw), false)
		return nil
	}

	switch {
	case t.Kind != Memory && (t.Size == 1 || t.Size == 2 || t.Size == 4 || t.Size == 8):
		list.push(Int, load(raw), true)
	default:
		buf := make([]byte, max(len(raw), 1))
		copy(buf, raw)
		list.retain(buf)
		list.push(Int, uint64(uintptr(unsafe.Pointer(&buf[0]))), true)
	}
	return nil
}
