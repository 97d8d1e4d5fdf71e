package ffi

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/tinyrange/jitffi/internal/asm/amd64"
)

// ABI selects the calling convention thunks are generated for.
type ABI int

const (
	ABIInvalid ABI = iota
	// SysV is the System V AMD64 convention used by Linux, macOS and the BSDs.
	SysV
	// Win64 is the Microsoft x64 convention.
	Win64
)

func (a ABI) String() string {
	switch a {
	case SysV:
		return "sysv"
	case Win64:
		return "win64"
	default:
		return "invalid"
	}
}

// NativeABI returns the convention of the running process.
func NativeABI() ABI {
	if runtime.GOOS == "windows" {
		return Win64
	}
	return SysV
}

// ParseABI maps a configuration value to an ABI. The empty string and
// "native" select NativeABI.
func ParseABI(s string) (ABI, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "native":
		return NativeABI(), nil
	case "sysv", "systemv", "sysv64":
		return SysV, nil
	case "win64", "windows", "ms64":
		return Win64, nil
	default:
		return ABIInvalid, fmt.Errorf("ffi: unknown ABI %q", s)
	}
}

// convention bundles the ABI-specific halves of the pipeline.
type convention struct {
	classify   func(list *ArgumentList, t *Type, data unsafe.Pointer) error
	newEmitter func() Emitter
}

var (
	conventionsMu sync.RWMutex
	conventions   = make(map[ABI]convention)
)

// registerConvention wires an ABI into the registry. It panics when the same
// ABI is registered twice so mistakes are caught during init.
func registerConvention(abi ABI, conv convention) {
	if abi == ABIInvalid {
		panic("ffi: cannot register invalid ABI")
	}
	if conv.classify == nil || conv.newEmitter == nil {
		panic(fmt.Sprintf("ffi: incomplete convention for %s", abi))
	}

	conventionsMu.Lock()
	defer conventionsMu.Unlock()

	if _, exists := conventions[abi]; exists {
		panic(fmt.Sprintf("ffi: convention for %s already registered", abi))
	}
	conventions[abi] = conv
}

func lookupConvention(abi ABI) (convention, error) {
	conventionsMu.RLock()
	defer conventionsMu.RUnlock()

	if conv, ok := conventions[abi]; ok {
		return conv, nil
	}
	return convention{}, fmt.Errorf("ffi: no convention registered for %s", abi)
}

// Classify appends the units of one argument to list following abi.
func Classify(abi ABI, list *ArgumentList, t *Type, data unsafe.Pointer) error {
	conv, err := lookupConvention(abi)
	if err != nil {
		return err
	}
	return conv.classify(list, t, data)
}

// NewEmitter returns a fresh code emitter for abi.
func NewEmitter(abi ABI) (Emitter, error) {
	conv, err := lookupConvention(abi)
	if err != nil {
		return nil, err
	}
	return conv.newEmitter(), nil
}

// RegisterName names the register p is loaded into under a, or "stack".
func (a ABI) RegisterName(p Placement) string {
	if p.OnStack() {
		return "stack"
	}
	switch p.Class {
	case Float:
		return amd64.XMM(p.Register).String()
	case Int:
		regs := sysvIntRegs
		if a == Win64 {
			regs = win64IntRegs
		}
		if p.Register < len(regs) {
			return amd64.RegisterName(regs[p.Register])
		}
	}
	return fmt.Sprintf("%s%d", p.Class, p.Register)
}
