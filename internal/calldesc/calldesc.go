// Package calldesc reads call descriptions: a library symbol plus the typed
// argument values to pass it, as YAML.
package calldesc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/tinyrange/jitffi/internal/ffi"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("calldesc: invalid call description")

// Call describes one native call.
type Call struct {
	Library string `yaml:"library"`
	Symbol  string `yaml:"symbol"`
	ABI     string `yaml:"abi,omitempty"`
	Args    []Arg  `yaml:"args,omitempty"`
}

// Arg is one argument or aggregate field. Scalars carry Value; "struct" and
// "memory" carry Fields.
type Arg struct {
	Type   string `yaml:"type"`
	Value  string `yaml:"value,omitempty"`
	Fields []Arg  `yaml:"fields,omitempty"`
}

var scalarTypes = map[string]*ffi.Type{
	"i8":  ffi.Int8,
	"i16": ffi.Int16,
	"i32": ffi.Int32,
	"i64": ffi.Int64,
	"u8":  ffi.Uint8,
	"u16": ffi.Uint16,
	"u32": ffi.Uint32,
	"u64": ffi.Uint64,
	"ptr": ffi.Pointer,
	"str": ffi.Pointer,
	"f32": ffi.Float32,
	"f64": ffi.Float64,
}

func Load(path string) (*Call, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	call, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return call, nil
}

func Parse(data []byte) (*Call, error) {
	var call Call
	if err := yaml.Unmarshal(data, &call); err != nil {
		return nil, err
	}
	if err := call.Validate(); err != nil {
		return nil, err
	}
	return &call, nil
}

func (c *Call) Validate() error {
	if c.Library == "" {
		return fmt.Errorf("%w: missing library", ErrInvalid)
	}
	if c.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalid)
	}
	if _, err := ffi.ParseABI(c.ABI); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for i, a := range c.Args {
		if _, err := a.descriptor(); err != nil {
			return fmt.Errorf("%w: argument %d: %v", ErrInvalid, i, err)
		}
	}
	return nil
}

// ParseArg reads the command-line form "type:value", for example "i32:-4"
// or "str:hello".
func ParseArg(s string) (Arg, error) {
	typ, value, ok := strings.Cut(s, ":")
	if !ok {
		return Arg{}, fmt.Errorf("%w: argument %q is not type:value", ErrInvalid, s)
	}
	a := Arg{Type: strings.TrimSpace(typ), Value: value}
	if _, ok := scalarTypes[a.Type]; !ok {
		return Arg{}, fmt.Errorf("%w: unknown scalar type %q", ErrInvalid, a.Type)
	}
	return a, nil
}

func (a Arg) descriptor() (*ffi.Type, error) {
	if t, ok := scalarTypes[a.Type]; ok {
		if len(a.Fields) != 0 {
			return nil, fmt.Errorf("scalar %s has fields", a.Type)
		}
		return t, nil
	}
	switch a.Type {
	case "struct", "memory":
		fields := make([]*ffi.Type, 0, len(a.Fields))
		for _, f := range a.Fields {
			ft, err := f.descriptor()
			if err != nil {
				return nil, err
			}
			fields = append(fields, ft)
		}
		if a.Type == "memory" {
			return ffi.MemoryStructOf(fields...), nil
		}
		return ffi.StructOf(fields...), nil
	default:
		return nil, fmt.Errorf("unknown type %q", a.Type)
	}
}

// Resolved holds the parallel argument arrays of a call together with the
// storage they point into. It must stay reachable until the call returns.
type Resolved struct {
	Types []*ffi.Type
	Data  []unsafe.Pointer

	storage [][]byte
}

// Resolve lays out every argument value in memory following its descriptor.
func Resolve(args []Arg) (*Resolved, error) {
	r := &Resolved{}
	for i, a := range args {
		t, err := a.descriptor()
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		var data unsafe.Pointer
		if t.Size > 0 {
			buf := make([]byte, t.Size)
			if err := r.encode(a, t, buf); err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			r.storage = append(r.storage, buf)
			data = unsafe.Pointer(&buf[0])
		}
		r.Types = append(r.Types, t)
		r.Data = append(r.Data, data)
	}
	return r, nil
}

func (r *Resolved) encode(a Arg, t *ffi.Type, buf []byte) error {
	if t.IsAggregate() {
		for i, f := range t.Fields {
			if err := r.encode(a.Fields[i], f.Type, buf[f.Offset:f.Offset+f.Type.Size]); err != nil {
				return fmt.Errorf("field %d: %w", i, err)
			}
		}
		return nil
	}

	value := strings.TrimSpace(a.Value)
	switch {
	case a.Type == "str":
		s := append([]byte(a.Value), 0)
		r.storage = append(r.storage, s)
		binary.LittleEndian.PutUint64(buf, uint64(uintptr(unsafe.Pointer(&s[0]))))
		return nil
	case t.Kind == ffi.Float:
		if value == "" {
			value = "0"
		}
		f, err := strconv.ParseFloat(value, int(t.Size*8))
		if err != nil {
			return fmt.Errorf("%s value %q: %w", a.Type, a.Value, err)
		}
		if t.Size == 4 {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		} else {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		}
		return nil
	}

	bits, err := parseInt(a.Type, value, int(t.Size*8))
	if err != nil {
		return fmt.Errorf("%s value %q: %w", a.Type, a.Value, err)
	}
	switch t.Size {
	case 1:
		buf[0] = byte(bits)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(bits))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(bits))
	default:
		binary.LittleEndian.PutUint64(buf, bits)
	}
	return nil
}

func parseInt(typ, value string, bits int) (uint64, error) {
	if value == "" {
		return 0, nil
	}
	if strings.HasPrefix(typ, "i") {
		v, err := strconv.ParseInt(value, 0, bits)
		return uint64(v), err
	}
	return strconv.ParseUint(value, 0, bits)
}
