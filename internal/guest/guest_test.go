package guest

import "testing"

func TestExternDataRoundTrip(t *testing.T) {
	d := externData{ptr: 0x1234, len: 0x10}
	buf := encodeExtern(d)
	got := decodeExtern(buf[:])
	if got != d {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, d)
	}
}

func TestExternDataZero(t *testing.T) {
	d := externData{}
	buf := encodeExtern(d)
	got := decodeExtern(buf[:])
	if got != d {
		t.Fatalf("round trip mismatch for zero value: got %+v", got)
	}
}
