package streamhandler

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestEncodeDecodeOpRoundTrip(t *testing.T) {
	op := Op{Tag: OpWriterNext, ID: 7, Buf: []byte("payload"), Len: 7}
	got, err := Decode(Encode(op))
	if err != nil {
		t.Fatal(err)
	}
	if got.Tag != op.Tag || got.ID != op.ID || got.Len != op.Len || !bytes.Equal(got.Buf, op.Buf) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, op)
	}
}

func TestReaderNextSmallCopy(t *testing.T) {
	mod := Module{}
	h, err := mod.NewHandler()
	if err != nil {
		t.Fatal(err)
	}
	sh := h.(*Handler)
	src := strings.NewReader("hello world!")
	id, err := sh.NewReader(src)
	if err != nil {
		t.Fatal(err)
	}

	out, err := sh.Invoke(context.Background(), nil, Encode(Op{Tag: OpReaderNext, ID: uint32(id), Len: 64}))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) < 4 {
		t.Fatalf("expected result payload, got %v", out)
	}
	n := int(out[0]) | int(out[1])<<8 | int(out[2])<<16 | int(out[3])<<24
	data := out[4 : 4+n]
	if string(data) != "hello world!" {
		t.Fatalf("got %q, want %q", data, "hello world!")
	}
}

func TestReaderNextEOFIsZeroLength(t *testing.T) {
	mod := Module{}
	h, _ := mod.NewHandler()
	sh := h.(*Handler)
	id, _ := sh.NewReader(strings.NewReader(""))

	out, err := sh.Invoke(context.Background(), nil, Encode(Op{Tag: OpReaderNext, ID: uint32(id), Len: 16}))
	if err != nil {
		t.Fatal(err)
	}
	n := int(out[0]) | int(out[1])<<8 | int(out[2])<<16 | int(out[3])<<24
	if n != 0 {
		t.Fatalf("expected EOF to read as 0 bytes, got %d", n)
	}
}

func TestWriterNextWritesThroughToDestination(t *testing.T) {
	mod := Module{}
	h, _ := mod.NewHandler()
	sh := h.(*Handler)
	var dst bytes.Buffer
	id, _ := sh.NewWriter(&dst)

	_, err := sh.Invoke(context.Background(), nil, Encode(Op{Tag: OpWriterNext, ID: uint32(id), Buf: []byte("hello world!")}))
	if err != nil {
		t.Fatal(err)
	}
	if dst.String() != "hello world!" {
		t.Fatalf("got %q", dst.String())
	}
}

func TestUnknownResourceIdErrors(t *testing.T) {
	mod := Module{}
	h, _ := mod.NewHandler()
	sh := h.(*Handler)
	_, err := sh.Invoke(context.Background(), nil, Encode(Op{Tag: OpReaderNext, ID: 999, Len: 4}))
	if err == nil {
		t.Fatal("expected error for unknown reader id")
	}
}

func TestReleaseDrainsWritersBeforeErrors(t *testing.T) {
	mod := Module{}
	h, _ := mod.NewHandler()
	sh := h.(*Handler)
	var dst bytes.Buffer
	sh.NewWriter(&dst)
	sh.NewReader(strings.NewReader("x"))

	if err := sh.Release(context.Background()); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	if sh.readers.Len() != 0 || sh.writers.Len() != 0 {
		t.Fatal("expected all resources drained after Release")
	}
}
