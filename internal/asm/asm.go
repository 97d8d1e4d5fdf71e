package asm

import "fmt"

// Variable identifies a machine register in an architecture-specific package.
type Variable int

// Mark names a byte offset inside emitted code that a caller may patch later.
type Mark string

type Context interface {
	EmitBytes(data []byte)
	Len() int

	GetMark(mark Mark) (int, bool)
	SetMark(mark Mark, offset int)
}

type Fragment interface {
	Emit(ctx Context) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type markDef struct {
	mark   Mark
	offset int
}

// MarkHere records the current position, shifted by offset bytes, under mark.
func MarkHere(mark Mark, offset int) Fragment {
	return &markDef{mark: mark, offset: offset}
}

func (m *markDef) Emit(ctx Context) error {
	if _, exists := ctx.GetMark(m.mark); exists {
		return fmt.Errorf("mark %q already defined", m.mark)
	}
	ctx.SetMark(m.mark, ctx.Len()+m.offset)
	return nil
}

type Program struct {
	code  []byte
	marks map[Mark]int
}

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p Program) Len() int {
	return len(p.code)
}

// Mark returns the offset recorded for mark.
func (p Program) Mark(mark Mark) (int, bool) {
	off, ok := p.marks[mark]
	return off, ok
}

func (p Program) Clone() Program {
	marks := make(map[Mark]int, len(p.marks))
	for k, v := range p.marks {
		marks[k] = v
	}
	return Program{
		code:  append([]byte(nil), p.code...),
		marks: marks,
	}
}

func NewProgram(code []byte, marks map[Mark]int) Program {
	return Program{code: code, marks: marks}.Clone()
}
