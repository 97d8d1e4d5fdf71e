package ffi

import "testing"

func TestStructPackerRoundTrip(t *testing.T) {
	var p structPacker
	if !p.empty() {
		t.Fatalf("new packer is not empty")
	}
	if !p.push([]byte{0x01, 0x02}) {
		t.Fatalf("push of 2 bytes failed")
	}
	p.merge(Float)
	if !p.push([]byte{0, 0}) {
		t.Fatalf("push of padding failed")
	}
	if !p.push([]byte{0xaa, 0xbb, 0xcc, 0xdd}) {
		t.Fatalf("push of 4 bytes failed")
	}
	p.merge(Int)

	if p.len() != 8 {
		t.Fatalf("len = %d, want 8", p.len())
	}
	if p.class != Int {
		t.Fatalf("class = %s, want int", p.class)
	}
	if got, want := p.data(), uint64(0xddccbbaa00000201); got != want {
		t.Fatalf("data = %#x, want %#x", got, want)
	}

	p.clear()
	if !p.empty() || p.class != Unknown || p.data() != 0 {
		t.Fatalf("clear left state behind: n=%d class=%s data=%#x", p.len(), p.class, p.data())
	}
}

func TestStructPackerRejectsOverflow(t *testing.T) {
	var p structPacker
	p.push([]byte{1, 2, 3, 4, 5, 6})
	if p.push([]byte{7, 8, 9}) {
		t.Fatalf("push past 8 bytes succeeded")
	}
	if p.len() != 6 {
		t.Fatalf("failed push consumed bytes: len = %d", p.len())
	}
}

func TestStructPackerMerge(t *testing.T) {
	tests := []struct {
		in   []ArgType
		want ArgType
	}{
		{[]ArgType{Float}, Float},
		{[]ArgType{Float, Float}, Float},
		{[]ArgType{Float, Int}, Int},
		{[]ArgType{Int, Float}, Int},
		{[]ArgType{Int, Memory, Float}, Memory},
		{[]ArgType{Memory, Int}, Memory},
	}
	for _, tt := range tests {
		var p structPacker
		for _, c := range tt.in {
			p.merge(c)
		}
		if p.class != tt.want {
			t.Fatalf("merge %v = %s, want %s", tt.in, p.class, tt.want)
		}
	}
}
