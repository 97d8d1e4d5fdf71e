package ffi

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/tinyrange/jitffi/internal/asm"
	"github.com/tinyrange/jitffi/internal/execmem"
)

var ErrBuilderUsed = errors.New("ffi: builder already built")

// Builder collects the arguments of one call and turns them into a Thunk.
// A Builder is single use and not safe for concurrent use.
type Builder struct {
	abi   ABI
	conv  convention
	list  ArgumentList
	built bool
}

func NewBuilder(abi ABI) (*Builder, error) {
	conv, err := lookupConvention(abi)
	if err != nil {
		return nil, err
	}
	return &Builder{abi: abi, conv: conv}, nil
}

func (b *Builder) ABI() ABI { return b.abi }

// AddArg classifies the argument described by t whose bytes start at data.
// The bytes are read immediately.
func (b *Builder) AddArg(t *Type, data unsafe.Pointer) error {
	if b.built {
		return ErrBuilderUsed
	}
	if err := b.conv.classify(&b.list, t, data); err != nil {
		return fmt.Errorf("argument %d: %w", b.list.args, err)
	}
	return nil
}

func (b *Builder) AddInt64(v int64) error     { return b.AddArg(Int64, unsafe.Pointer(&v)) }
func (b *Builder) AddUint64(v uint64) error   { return b.AddArg(Uint64, unsafe.Pointer(&v)) }
func (b *Builder) AddFloat64(v float64) error { return b.AddArg(Float64, unsafe.Pointer(&v)) }
func (b *Builder) AddFloat32(v float32) error { return b.AddArg(Float32, unsafe.Pointer(&v)) }

// AddPointer passes p as an integer. The caller keeps the pointee alive for
// the lifetime of the thunk.
func (b *Builder) AddPointer(p unsafe.Pointer) error {
	v := uintptr(p)
	return b.AddArg(Pointer, unsafe.Pointer(&v))
}

// Emit runs the emitter over the collected arguments and returns the thunk
// code without mapping it. It consumes the builder. The code may embed the
// addresses of argument copies; callers that map it themselves must keep
// Retained reachable for as long as the code can run.
func (b *Builder) Emit(fn uintptr) (asm.Program, []Placement, error) {
	if b.built {
		return asm.Program{}, nil, ErrBuilderUsed
	}
	b.built = true

	em := b.conv.newEmitter()
	if err := em.Init(b.list.Counts()); err != nil {
		return asm.Program{}, nil, err
	}

	for {
		units, ok := b.list.NextArg()
		if !ok {
			break
		}
		var err error
		if units[0].Aggregate && len(units) > 1 {
			err = em.AddAggregate(units)
		} else {
			err = addUnits(em, units)
		}
		if err != nil {
			return asm.Program{}, nil, fmt.Errorf("argument %d: %w", units[0].Arg, err)
		}
	}

	if err := em.Call(fn); err != nil {
		return asm.Program{}, nil, err
	}
	if err := em.Ret(); err != nil {
		return asm.Program{}, nil, err
	}
	prog, err := em.Program()
	if err != nil {
		return asm.Program{}, nil, fmt.Errorf("emit thunk: %w", err)
	}
	return prog, em.Placements(), nil
}

// Retained returns the argument copies the emitted code points into.
func (b *Builder) Retained() [][]byte {
	return b.list.keep
}

// Build emits the thunk for fn and maps it into an executable region.
func (b *Builder) Build(fn uintptr) (*Thunk, error) {
	prog, placements, err := b.Emit(fn)
	if err != nil {
		return nil, err
	}

	target, ok := prog.Mark(targetMark)
	if !ok {
		return nil, fmt.Errorf("%w: call target not recorded", ErrIncomplete)
	}

	region, err := execmem.Allocate(prog.Len(), false)
	if err != nil {
		return nil, err
	}
	if err := region.Write(0, prog.Bytes()); err != nil {
		_ = region.Release()
		return nil, err
	}
	if err := region.Protect(); err != nil {
		_ = region.Release()
		return nil, err
	}

	slog.Debug("ffi: thunk built",
		"abi", b.abi,
		"fn", fmt.Sprintf("%#x", fn),
		"bytes", prog.Len(),
		"units", b.list.Counts().String(),
	)

	return &Thunk{
		abi:        b.abi,
		region:     region,
		prog:       prog,
		fn:         fn,
		target:     target,
		placements: placements,
		keep:       b.list.keep,
	}, nil
}

// BuildFromLists is the parallel-array form of Builder: data[i] holds the
// bytes of an argument described by types[i].
func BuildFromLists(abi ABI, fn uintptr, data []unsafe.Pointer, types []*Type) (*Thunk, error) {
	if len(data) != len(types) {
		return nil, fmt.Errorf("%w: %d data pointers for %d types", ErrCountMismatch, len(data), len(types))
	}
	b, err := NewBuilder(abi)
	if err != nil {
		return nil, err
	}
	for i := range types {
		if err := b.AddArg(types[i], data[i]); err != nil {
			return nil, err
		}
	}
	return b.Build(fn)
}
