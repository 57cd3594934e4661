package abi

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []ExternData{
		{Ptr: 0, Len: 0},
		{Ptr: 1, Len: 0},
		{Ptr: 1024, Len: 4096},
		{Ptr: 0xFFFFFFFF, Len: 0xFFFFFFFF},
	}
	for _, d := range cases {
		buf := Encode(d)
		got, ok := Decode(buf[:])
		if !ok {
			t.Fatalf("Decode(%v) failed", buf)
		}
		if got != d {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, d)
		}
	}
}

func TestIsNull(t *testing.T) {
	if !(ExternData{Ptr: 0, Len: 5}).IsNull() {
		t.Fatal("expected Ptr==0 to be null regardless of Len")
	}
	if (ExternData{Ptr: 1, Len: 0}).IsNull() {
		t.Fatal("expected Ptr!=0 to be non-null")
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, ok := Decode([]byte{1, 2, 3}); ok {
		t.Fatal("expected Decode to fail on short input")
	}
}

func TestEndOverflow(t *testing.T) {
	d := ExternData{Ptr: 0xFFFFFFF0, Len: 0x20}
	_, ok := d.End()
	if ok {
		t.Fatal("expected overflow to be detected")
	}
}
