package testutil

import (
	"strings"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

// DisasmLine is one decoded instruction in Intel syntax.
type DisasmLine struct {
	Offset     int
	Text       string
	Normalized string
	Mnemonic   string
}

// Contains reports whether the normalized instruction text contains substr.
func (l DisasmLine) Contains(substr string) bool {
	return strings.Contains(l.Normalized, substr)
}

// Disassemble decodes 64-bit x86 code and fails the test on undecodable bytes.
func Disassemble(t *testing.T, code []byte) []DisasmLine {
	t.Helper()

	var lines []DisasmLine
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			t.Fatalf("decode at %#x: %v (bytes %x)", off, err, code[off:])
		}
		text := x86asm.IntelSyntax(inst, uint64(off), nil)
		fields := strings.Fields(text)
		lines = append(lines, DisasmLine{
			Offset:     off,
			Text:       text,
			Normalized: strings.ToLower(strings.Join(fields, " ")),
			Mnemonic:   strings.ToLower(fields[0]),
		})
		off += inst.Len
	}
	return lines
}
