package programfetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ipwis/kernel/internal/domain"
)

type fakeGetter struct {
	calls int
	fail  int // number of leading calls that return an error
	body  []byte
	err   error
}

func (g *fakeGetter) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	g.calls++
	if g.calls <= g.fail {
		return nil, errors.New("transient object store error")
	}
	if g.err != nil {
		return nil, g.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(g.body))}, nil
}

func TestFetchRejectsEmptyContentHash(t *testing.T) {
	f := &S3Fetcher{client: &fakeGetter{}, bucket: "programs", maxRetries: 1}
	if _, err := f.Fetch(context.Background(), domain.ProgramRef{}); err == nil {
		t.Fatal("expected error for empty content hash")
	}
}

func TestFetchReturnsObjectBody(t *testing.T) {
	want := []byte("\x00asm fake wasm bytes")
	getter := &fakeGetter{body: want}
	f := &S3Fetcher{client: getter, bucket: "programs", maxRetries: 3}

	got, err := f.Fetch(context.Background(), domain.ProgramRef{ContentHash: "deadbeef"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	want := []byte("program bytes")
	getter := &fakeGetter{fail: 2, body: want}
	f := &S3Fetcher{client: getter, bucket: "programs", maxRetries: 5}

	got, err := f.Fetch(context.Background(), domain.ProgramRef{ContentHash: "deadbeef"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if getter.calls != 3 {
		t.Fatalf("expected 3 calls (2 failures + success), got %d", getter.calls)
	}
}

func TestFetchExhaustsRetryBudget(t *testing.T) {
	getter := &fakeGetter{fail: 10}
	f := &S3Fetcher{client: getter, bucket: "programs", maxRetries: 2}

	if _, err := f.Fetch(context.Background(), domain.ProgramRef{ContentHash: "deadbeef"}); err == nil {
		t.Fatal("expected error after exhausting retry budget")
	}
}
