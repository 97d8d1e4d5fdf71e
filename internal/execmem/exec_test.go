//go:build amd64 && (linux || darwin || windows)

package execmem

import (
	"testing"

	"github.com/ebitengine/purego"
	"github.com/tinyrange/jitffi/internal/asm"
	"github.com/tinyrange/jitffi/internal/asm/amd64"
)

func returnConstant(t *testing.T, value int64) []byte {
	t.Helper()
	code, err := amd64.EmitBytes(asm.Group{
		amd64.MovImmediate(amd64.Reg64(amd64.RAX), value),
		amd64.Ret(),
	})
	if err != nil {
		t.Fatalf("EmitBytes failed: %v", err)
	}
	return code
}

func TestExecuteProtectedRegion(t *testing.T) {
	region, err := Allocate(64, false)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := region.Write(0, returnConstant(t, 42)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := region.Protect(); err != nil {
		t.Fatalf("Protect failed: %v", err)
	}

	entry, err := region.Entry()
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if got, _, _ := purego.SyscallN(entry); got != 42 {
		t.Fatalf("call returned %d, want 42", got)
	}

	if err := region.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestExecutePatchedRegion(t *testing.T) {
	region, err := Allocate(64, false)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer func() {
		if err := region.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
	}()

	if err := region.Write(0, returnConstant(t, 1)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := region.Protect(); err != nil {
		t.Fatalf("Protect failed: %v", err)
	}
	entry, err := region.Entry()
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if got, _, _ := purego.SyscallN(entry); got != 1 {
		t.Fatalf("call returned %d, want 1", got)
	}

	if err := region.Unprotect(); err != nil {
		t.Fatalf("Unprotect failed: %v", err)
	}
	if err := region.Write(0, returnConstant(t, 2)); err != nil {
		t.Fatalf("patch failed: %v", err)
	}
	if err := region.Protect(); err != nil {
		t.Fatalf("Protect after patch failed: %v", err)
	}
	if got, _, _ := purego.SyscallN(entry); got != 2 {
		t.Fatalf("patched call returned %d, want 2", got)
	}
}
