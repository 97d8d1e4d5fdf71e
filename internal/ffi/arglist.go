package ffi

import "fmt"

// Unit is one classified 8-byte value.
type Unit struct {
	Class ArgType
	Value uint64
	// Arg is the index of the argument the unit was produced from.
	Arg int
	// Aggregate is set when the argument was a struct.
	Aggregate bool
}

// Counts holds the number of units per class.
type Counts struct {
	Int    int
	Float  int
	Memory int
}

func (c Counts) String() string {
	return fmt.Sprintf("int=%d float=%d memory=%d", c.Int, c.Float, c.Memory)
}

func (c *Counts) add(class ArgType) {
	switch class {
	case Int:
		c.Int++
	case Float:
		c.Float++
	case Memory:
		c.Memory++
	default:
		panic(fmt.Sprintf("ffi: unit with class %s", class))
	}
}

// ArgumentList is the ordered output of classification. Units are consumed
// first in, first out, and each unit at most once.
type ArgumentList struct {
	units  []Unit
	counts Counts
	args   int
	pos    int

	// keep holds copies that classified units point into.
	keep [][]byte
}

func (l *ArgumentList) push(class ArgType, value uint64, aggregate bool) {
	l.counts.add(class)
	l.units = append(l.units, Unit{Class: class, Value: value, Arg: l.args, Aggregate: aggregate})
}

// endArg closes the argument the following units belong to.
func (l *ArgumentList) endArg() {
	l.args++
}

func (l *ArgumentList) retain(buf []byte) {
	l.keep = append(l.keep, buf)
}

func (l *ArgumentList) Counts() Counts {
	return l.counts
}

// Len returns the number of units not yet consumed.
func (l *ArgumentList) Len() int {
	return len(l.units) - l.pos
}

// Units returns a copy of every unit, consumed or not.
func (l *ArgumentList) Units() []Unit {
	return append([]Unit(nil), l.units...)
}

// Next consumes the next unit.
func (l *ArgumentList) Next() (Unit, bool) {
	if l.pos >= len(l.units) {
		return Unit{}, false
	}
	u := l.units[l.pos]
	l.pos++
	return u, true
}

// NextArg consumes every remaining unit of the next argument.
func (l *ArgumentList) NextArg() ([]Unit, bool) {
	if l.pos >= len(l.units) {
		return nil, false
	}
	start := l.pos
	arg := l.units[start].Arg
	for l.pos < len(l.units) && l.units[l.pos].Arg == arg {
		l.pos++
	}
	return l.units[start:l.pos:l.pos], true
}
