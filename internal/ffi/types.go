package ffi

import (
	"errors"
	"fmt"
)

// ArgType is the class an argument, a field or a classified unit belongs to.
type ArgType uint8

const (
	Unknown ArgType = iota
	Int
	Float
	Memory
)

func (t ArgType) String() string {
	switch t {
	case Unknown:
		return "unknown"
	case Int:
		return "int"
	case Float:
		return "float"
	case Memory:
		return "memory"
	default:
		return fmt.Sprintf("ArgType(%d)", uint8(t))
	}
}

var (
	ErrLeafTooLarge = errors.New("ffi: scalar larger than 8 bytes")
	ErrUnknownType  = errors.New("ffi: unknown argument type")
	ErrFieldOrder   = errors.New("ffi: field offsets must be non-decreasing")
	ErrFieldBounds  = errors.New("ffi: field extends past its aggregate")
	ErrNilData      = errors.New("ffi: argument has no backing data")
)

// Type describes one argument. Int and Float types are scalars. Unknown and
// Memory types are aggregates described by Fields; Memory additionally forces
// the aggregate to be passed in memory.
type Type struct {
	Kind   ArgType
	Size   uintptr
	Align  uintptr
	Fields []Field
}

// Field is a member of an aggregate at a byte offset from its start.
type Field struct {
	Offset uintptr
	Type   *Type
}

var (
	Int8    = &Type{Kind: Int, Size: 1, Align: 1}
	Int16   = &Type{Kind: Int, Size: 2, Align: 2}
	Int32   = &Type{Kind: Int, Size: 4, Align: 4}
	Int64   = &Type{Kind: Int, Size: 8, Align: 8}
	Uint8   = &Type{Kind: Int, Size: 1, Align: 1}
	Uint16  = &Type{Kind: Int, Size: 2, Align: 2}
	Uint32  = &Type{Kind: Int, Size: 4, Align: 4}
	Uint64  = &Type{Kind: Int, Size: 8, Align: 8}
	Pointer = &Type{Kind: Int, Size: 8, Align: 8}
	Float32 = &Type{Kind: Float, Size: 4, Align: 4}
	Float64 = &Type{Kind: Float, Size: 8, Align: 8}
)

// IsAggregate reports whether t is described by fields rather than a scalar class.
func (t *Type) IsAggregate() bool {
	return t.Kind == Unknown || t.Kind == Memory
}

func (t *Type) String() string {
	if !t.IsAggregate() {
		return fmt.Sprintf("%s%d", t.Kind, t.Size*8)
	}
	return fmt.Sprintf("%s{%d fields, %d bytes}", t.Kind, len(t.Fields), t.Size)
}

func (t *Type) alignment() uintptr {
	if t.Align != 0 {
		return t.Align
	}
	if !t.IsAggregate() {
		return t.Size
	}
	align := uintptr(1)
	for _, f := range t.Fields {
		if a := f.Type.alignment(); a > align {
			align = a
		}
	}
	return align
}

// StructOf lays out fields with C natural alignment.
func StructOf(fields ...*Type) *Type {
	return layoutStruct(Unknown, fields)
}

// MemoryStructOf is like StructOf but the result is always passed in memory.
func MemoryStructOf(fields ...*Type) *Type {
	return layoutStruct(Memory, fields)
}

func layoutStruct(kind ArgType, fields []*Type) *Type {
	t := &Type{Kind: kind, Align: 1}
	var off uintptr
	for _, ft := range fields {
		a := ft.alignment()
		off = alignUp(off, a)
		t.Fields = append(t.Fields, Field{Offset: off, Type: ft})
		off += ft.Size
		if a > t.Align {
			t.Align = a
		}
	}
	t.Size = alignUp(off, t.Align)
	return t
}

func alignUp(v, a uintptr) uintptr {
	if a <= 1 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

// leaf is a scalar member of a flattened aggregate.
type leaf struct {
	kind   ArgType
	offset uintptr
	size   uintptr
}

// Validate checks t against the descriptor invariants.
func (t *Type) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil descriptor", ErrUnknownType)
	}
	_, err := t.leaves()
	return err
}

// leaves flattens an aggregate into its scalar members in traversal order.
func (t *Type) leaves() ([]leaf, error) {
	var out []leaf
	if err := t.flatten(0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Type) flatten(base uintptr, out *[]leaf) error {
	switch t.Kind {
	case Int, Float:
		if t.Size == 0 || t.Size > 8 {
			return fmt.Errorf("%w: %s of %d bytes", ErrLeafTooLarge, t.Kind, t.Size)
		}
		if n := len(*out); n > 0 && (*out)[n-1].offset > base {
			return fmt.Errorf("%w: offset %d follows %d", ErrFieldOrder, base, (*out)[n-1].offset)
		}
		*out = append(*out, leaf{kind: t.Kind, offset: base, size: t.Size})
		return nil
	case Unknown, Memory:
		for _, f := range t.Fields {
			if f.Type == nil {
				return fmt.Errorf("%w: nil field descriptor", ErrUnknownType)
			}
			if f.Offset+f.Type.Size > t.Size {
				return fmt.Errorf("%w: field at %d of %d bytes in %d-byte aggregate", ErrFieldBounds, f.Offset, f.Type.Size, t.Size)
			}
			if err := f.Type.flatten(base+f.Offset, out); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: tag %d", ErrUnknownType, uint8(t.Kind))
	}
}
