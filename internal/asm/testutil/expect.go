package testutil

import (
	"fmt"
	"strings"
	"testing"
)

// Expectation describes one instruction expected in a disassembly.
type Expectation struct {
	Name     string
	Mnemonic string
	Contains []string
}

func (e Expectation) match(line DisasmLine) error {
	if e.Mnemonic != "" && line.Mnemonic != e.Mnemonic {
		return fmt.Errorf("mnemonic=%s, want %s", line.Mnemonic, e.Mnemonic)
	}
	for _, needle := range e.Contains {
		if !line.Contains(needle) {
			return fmt.Errorf("missing %q in %q", needle, line.Normalized)
		}
	}
	return nil
}

// VerifyExpectations checks that lines match expect one to one, in order.
func VerifyExpectations(t *testing.T, lines []DisasmLine, expect []Expectation) {
	t.Helper()
	if len(lines) != len(expect) {
		t.Fatalf("decoded %d instructions, want %d:\n%s", len(lines), len(expect), listing(lines))
	}
	for idx, exp := range expect {
		line := lines[idx]
		if err := exp.match(line); err != nil {
			t.Fatalf("instruction %q mismatch at %#x: %v\n%s", exp.Name, line.Offset, err, listing(lines))
		}
	}
}

func listing(lines []DisasmLine) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%4x: %s\n", l.Offset, l.Text)
	}
	return b.String()
}
