package ffi

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math"
	"testing"

	"github.com/tinyrange/jitffi/internal/asm/testutil"
)

func newEmitter(t *testing.T, abi ABI, counts Counts) Emitter {
	t.Helper()
	em, err := NewEmitter(abi)
	if err != nil {
		t.Fatalf("NewEmitter(%s) failed: %v", abi, err)
	}
	if err := em.Init(counts); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return em
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("invalid hex %q: %v", s, err)
	}
	return b
}

func TestStackAdjustment(t *testing.T) {
	tests := []struct {
		pushes           int
		reserve, restore int32
	}{
		{0, 8, 8},
		{1, 16, 24},
		{2, 8, 24},
		{3, 16, 40},
		{10, 8, 88},
	}
	for _, tt := range tests {
		reserve, restore, err := StackAdjustment(tt.pushes)
		if err != nil {
			t.Fatalf("StackAdjustment(%d) failed: %v", tt.pushes, err)
		}
		if reserve != tt.reserve || restore != tt.restore {
			t.Fatalf("StackAdjustment(%d) = %d/%d, want %d/%d", tt.pushes, reserve, restore, tt.reserve, tt.restore)
		}
		// RSP enters 8 bytes off a 16-byte boundary and must be aligned at the call.
		if (8+int64(reserve)+8*int64(tt.pushes))%16 != 0 {
			t.Fatalf("%d pushes leave RSP misaligned", tt.pushes)
		}
	}

	if _, _, err := StackAdjustment(math.MaxInt32 / 8); !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("oversized stack error = %v, want ErrStackOverflow", err)
	}
	if _, _, err := StackAdjustment(-1); !errors.Is(err, ErrCountMismatch) {
		t.Fatalf("negative pushes error = %v, want ErrCountMismatch", err)
	}
}

func TestSysVRegisterOrder(t *testing.T) {
	em := newEmitter(t, SysV, Counts{Int: 8, Float: 9})
	for i := 0; i < 8; i++ {
		if err := em.AddInt(uint64(i)); err != nil {
			t.Fatalf("AddInt(%d) failed: %v", i, err)
		}
	}
	for i := 0; i < 9; i++ {
		if err := em.AddDouble(uint64(100 + i)); err != nil {
			t.Fatalf("AddDouble(%d) failed: %v", i, err)
		}
	}

	placements := em.Placements()
	for i := 0; i < 6; i++ {
		if p := placements[i]; p.Class != Int || p.Register != i || p.Value != uint64(i) {
			t.Fatalf("int %d placed %s", i, p)
		}
	}
	for i := 6; i < 8; i++ {
		if p := placements[i]; !p.OnStack() {
			t.Fatalf("int %d placed %s, want stack", i, p)
		}
	}
	for i := 0; i < 8; i++ {
		if p := placements[8+i]; p.Class != Float || p.Register != i {
			t.Fatalf("float %d placed %s", i, p)
		}
	}
	if p := placements[16]; !p.OnStack() {
		t.Fatalf("ninth float placed %s, want stack", p)
	}
	if got := em.StackPushes(); got != 3 {
		t.Fatalf("StackPushes = %d, want 3", got)
	}
}

func TestWin64PositionalSlots(t *testing.T) {
	em := newEmitter(t, Win64, Counts{Int: 3, Float: 2})
	steps := []func() error{
		func() error { return em.AddInt(1) },
		func() error { return em.AddDouble(2) },
		func() error { return em.AddInt(3) },
		func() error { return em.AddDouble(4) },
		func() error { return em.AddInt(5) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	want := []Placement{
		{Class: Int, Value: 1, Register: 0},
		{Class: Float, Value: 2, Register: 1},
		{Class: Int, Value: 3, Register: 2},
		{Class: Float, Value: 4, Register: 3},
		{Class: Int, Value: 5, Register: -1},
	}
	got := em.Placements()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("placement %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSysVAggregateSpillsWhole(t *testing.T) {
	em := newEmitter(t, SysV, Counts{Int: 8})
	for i := 0; i < 5; i++ {
		if err := em.AddInt(uint64(i)); err != nil {
			t.Fatalf("AddInt failed: %v", err)
		}
	}
	pair := []Unit{
		{Class: Int, Value: 0xa, Aggregate: true, Arg: 5},
		{Class: Int, Value: 0xb, Aggregate: true, Arg: 5},
	}
	if err := em.AddAggregate(pair); err != nil {
		t.Fatalf("AddAggregate failed: %v", err)
	}
	if err := em.AddInt(6); err != nil {
		t.Fatalf("AddInt after aggregate failed: %v", err)
	}

	got := em.Placements()
	if !got[5].OnStack() || !got[6].OnStack() {
		t.Fatalf("aggregate split across registers and stack: %s, %s", got[5], got[6])
	}
	if got[7].Register != 5 {
		t.Fatalf("scalar after spilled aggregate placed %s, want reg5", got[7])
	}
}

func TestEmitterErrors(t *testing.T) {
	em, err := NewEmitter(SysV)
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	if err := em.AddInt(1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("AddInt before Init = %v", err)
	}
	if err := em.Call(0x1000); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Call before Init = %v", err)
	}
	if err := em.Init(Counts{Int: 1}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := em.Init(Counts{Int: 1}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Init = %v", err)
	}
	if err := em.AddDouble(1); !errors.Is(err, ErrCountMismatch) {
		t.Fatalf("unannounced float = %v", err)
	}
	if err := em.Call(0x1000); !errors.Is(err, ErrCountMismatch) {
		t.Fatalf("Call with units left = %v", err)
	}
	if err := em.AddInt(1); err != nil {
		t.Fatalf("AddInt failed: %v", err)
	}
	if err := em.AddInt(2); !errors.Is(err, ErrCountMismatch) {
		t.Fatalf("extra int = %v", err)
	}
	if err := em.Call(0); !errors.Is(err, ErrNilFunction) {
		t.Fatalf("Call(0) = %v", err)
	}
	if _, err := em.Program(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Program before Call = %v", err)
	}
	if err := em.Ret(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Ret before Call = %v", err)
	}
	if err := em.Call(0x1000); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if err := em.Ret(); err != nil {
		t.Fatalf("Ret failed: %v", err)
	}
	if _, err := em.Program(); err != nil {
		t.Fatalf("Program failed: %v", err)
	}
}

const testTarget = 0x1122334455667788

func emitTwoInts(t *testing.T, abi ABI) []byte {
	t.Helper()
	b, err := NewBuilder(abi)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	if err := b.AddInt64(10); err != nil {
		t.Fatalf("AddInt64 failed: %v", err)
	}
	if err := b.AddInt64(3); err != nil {
		t.Fatalf("AddInt64 failed: %v", err)
	}
	prog, _, err := b.Emit(testTarget)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	off, ok := prog.Mark(targetMark)
	if !ok {
		t.Fatalf("call target mark missing")
	}
	code := prog.Bytes()
	if got := code[off : off+8]; !bytes.Equal(got, mustHex(t, "8877665544332211")) {
		t.Fatalf("call target at %d = %x", off, got)
	}
	return code
}

func TestThunkBytes(t *testing.T) {
	tests := []struct {
		abi  ABI
		want string
	}{
		{SysV, "4883ec08" + "bf0a000000" + "be03000000" + "48b88877665544332211" + "ffd0" + "4883c408" + "c3"},
		{Win64, "4883ec08" + "4883ec20" + "b90a000000" + "ba03000000" + "48b88877665544332211" + "ffd0" + "4883c420" + "4883c408" + "c3"},
	}
	for _, tt := range tests {
		t.Run(tt.abi.String(), func(t *testing.T) {
			got := emitTwoInts(t, tt.abi)
			if want := mustHex(t, tt.want); !bytes.Equal(got, want) {
				t.Fatalf("thunk mismatch:\n got: %x\nwant: %x", got, want)
			}
		})
	}
}

func TestThunkStackArgumentBytes(t *testing.T) {
	b, err := NewBuilder(SysV)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	for i := int64(1); i <= 7; i++ {
		if err := b.AddInt64(i); err != nil {
			t.Fatalf("AddInt64 failed: %v", err)
		}
	}
	if err := b.AddFloat64(1.5); err != nil {
		t.Fatalf("AddFloat64 failed: %v", err)
	}
	prog, placements, err := b.Emit(testTarget)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(placements) != 8 || !placements[6].OnStack() {
		t.Fatalf("placements = %v", placements)
	}

	want := "4883ec10" + // sub rsp, 16
		"b807000000" + "50" + // stack argument 7
		"bf01000000" + "be02000000" + "ba03000000" + "b904000000" +
		"41b805000000" + "41b906000000" +
		"48b8000000000000f83f" + "66480f6ec0" + // xmm0 = 1.5
		"48b88877665544332211" + "ffd0" +
		"4883c418" + // add rsp, 24
		"c3"
	if got := prog.Bytes(); !bytes.Equal(got, mustHex(t, want)) {
		t.Fatalf("thunk mismatch:\n got: %x\nwant: %s", got, want)
	}
}

func TestThunkDisassembly(t *testing.T) {
	tests := []struct {
		abi    ABI
		expect []testutil.Expectation
	}{
		{SysV, []testutil.Expectation{
			{Name: "align", Mnemonic: "sub", Contains: []string{"rsp"}},
			{Name: "arg0", Mnemonic: "mov", Contains: []string{"edi"}},
			{Name: "arg1", Mnemonic: "mov", Contains: []string{"esi"}},
			{Name: "target", Mnemonic: "mov", Contains: []string{"rax", "0x1122334455667788"}},
			{Name: "call", Mnemonic: "call", Contains: []string{"rax"}},
			{Name: "restore", Mnemonic: "add", Contains: []string{"rsp"}},
			{Name: "ret", Mnemonic: "ret"},
		}},
		{Win64, []testutil.Expectation{
			{Name: "align", Mnemonic: "sub", Contains: []string{"rsp"}},
			{Name: "shadow", Mnemonic: "sub", Contains: []string{"rsp", "0x20"}},
			{Name: "arg0", Mnemonic: "mov", Contains: []string{"ecx"}},
			{Name: "arg1", Mnemonic: "mov", Contains: []string{"edx"}},
			{Name: "target", Mnemonic: "mov", Contains: []string{"rax", "0x1122334455667788"}},
			{Name: "call", Mnemonic: "call", Contains: []string{"rax"}},
			{Name: "unshadow", Mnemonic: "add", Contains: []string{"rsp", "0x20"}},
			{Name: "restore", Mnemonic: "add", Contains: []string{"rsp"}},
			{Name: "ret", Mnemonic: "ret"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.abi.String(), func(t *testing.T) {
			lines := testutil.Disassemble(t, emitTwoInts(t, tt.abi))
			testutil.VerifyExpectations(t, lines, tt.expect)
		})
	}
}

func TestWin64StackArgumentsAboveShadowSpace(t *testing.T) {
	b, err := NewBuilder(Win64)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	for i := int64(1); i <= 6; i++ {
		if err := b.AddInt64(i); err != nil {
			t.Fatalf("AddInt64 failed: %v", err)
		}
	}
	prog, _, err := b.Emit(testTarget)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	// Two pushes: no padding, pushed last argument first, then the shadow space.
	testutil.VerifyExpectations(t, testutil.Disassemble(t, prog.Bytes()), []testutil.Expectation{
		{Name: "align", Mnemonic: "sub", Contains: []string{"rsp, 0x8"}},
		{Name: "arg5", Mnemonic: "mov", Contains: []string{"eax, 0x6"}},
		{Name: "push5", Mnemonic: "push", Contains: []string{"rax"}},
		{Name: "arg4", Mnemonic: "mov", Contains: []string{"eax, 0x5"}},
		{Name: "push4", Mnemonic: "push", Contains: []string{"rax"}},
		{Name: "shadow", Mnemonic: "sub", Contains: []string{"rsp, 0x20"}},
		{Name: "arg0", Mnemonic: "mov", Contains: []string{"ecx, 0x1"}},
		{Name: "arg1", Mnemonic: "mov", Contains: []string{"edx, 0x2"}},
		{Name: "arg2", Mnemonic: "mov", Contains: []string{"r8", "0x3"}},
		{Name: "arg3", Mnemonic: "mov", Contains: []string{"r9", "0x4"}},
		{Name: "target", Mnemonic: "mov", Contains: []string{"rax"}},
		{Name: "call", Mnemonic: "call", Contains: []string{"rax"}},
		{Name: "unshadow", Mnemonic: "add", Contains: []string{"rsp, 0x20"}},
		{Name: "restore", Mnemonic: "add", Contains: []string{"rsp, 0x18"}},
		{Name: "ret", Mnemonic: "ret"},
	})
}
