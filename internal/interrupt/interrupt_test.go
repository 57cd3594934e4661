package interrupt

import (
	"context"
	"errors"
	"testing"

	"github.com/ipwis/kernel/internal/abi"
)

type stubHandler struct {
	id          abi.InterruptId
	released    *[]abi.InterruptId
	releaseErr  error
	invokeCount int
}

func (h *stubHandler) Invoke(ctx context.Context, mem MemoryAccessor, input []byte) ([]byte, error) {
	h.invokeCount++
	return input, nil
}

func (h *stubHandler) Release(ctx context.Context) error {
	*h.released = append(*h.released, h.id)
	return h.releaseErr
}

type stubModule struct {
	id       abi.InterruptId
	released *[]abi.InterruptId
	failNew  bool
}

func (m *stubModule) ID() abi.InterruptId { return m.id }
func (m *stubModule) NewHandler() (Handler, error) {
	if m.failNew {
		return nil, errors.New("cannot construct handler")
	}
	return &stubHandler{id: m.id, released: m.released}, nil
}

func TestRegisterDuplicateIsError(t *testing.T) {
	r := NewRegistry()
	var released []abi.InterruptId
	m := &stubModule{id: "ipwis_modules_stream", released: &released}
	if err := r.Register(m); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(m); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestSetFallbackReplacesSlot(t *testing.T) {
	r := NewRegistry()
	var released []abi.InterruptId
	first := &stubModule{id: "first", released: &released}
	second := &stubModule{id: "second", released: &released}
	r.SetFallback(first)
	r.SetFallback(second)
	h, ok := r.SpawnFallback()
	if !ok {
		t.Fatal("expected fallback handler")
	}
	sh := h.(*stubHandler)
	if sh.id != "second" {
		t.Fatalf("expected second fallback to win, got %s", sh.id)
	}
}

func TestHandlerCacheResolvesAndCaches(t *testing.T) {
	r := NewRegistry()
	var released []abi.InterruptId
	m := &stubModule{id: "ipwis_modules_stream", released: &released}
	r.Register(m)

	c := NewHandlerCache(r)
	h1, err := c.Resolve("ipwis_modules_stream")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := c.Resolve("ipwis_modules_stream")
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("expected the same handler instance to be cached across calls")
	}
}

func TestHandlerCacheFallsBackThenFails(t *testing.T) {
	c := NewHandlerCache(NewRegistry())
	_, err := c.Resolve("does_not_exist")
	if err == nil {
		t.Fatal("expected unknown-interrupt error")
	}
	var uerr *ErrUnknownInterrupt
	if !errors.As(err, &uerr) {
		t.Fatalf("expected ErrUnknownInterrupt, got %T", err)
	}
	if uerr.Error() != "failed to find the interrupt handler: does_not_exist" {
		t.Fatalf("unexpected message: %s", uerr.Error())
	}
}

func TestHandlerCacheUsesFallbackWhenNoSpecificHandler(t *testing.T) {
	r := NewRegistry()
	var released []abi.InterruptId
	r.SetFallback(&stubModule{id: "<fallback>", released: &released})

	c := NewHandlerCache(r)
	h, err := c.Resolve("anything")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.(*stubHandler); !ok {
		t.Fatal("expected fallback handler")
	}
	// Second distinct id should reuse the cached fallback, not spawn a new one.
	h2, err := c.Resolve("something_else")
	if err != nil {
		t.Fatal(err)
	}
	if h != h2 {
		t.Fatal("expected cached fallback to be reused")
	}
}

func TestReleaseAllOrdinaryFirstFallbackLast(t *testing.T) {
	r := NewRegistry()
	var released []abi.InterruptId
	r.Register(&stubModule{id: "a", released: &released})
	r.Register(&stubModule{id: "b", released: &released})
	r.SetFallback(&stubModule{id: "<fallback>", released: &released})

	c := NewHandlerCache(r)
	c.Resolve("a")
	c.Resolve("b")
	c.Resolve("unmapped") // forces the fallback to be spawned

	errs := c.ReleaseAll(context.Background())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(released) != 3 {
		t.Fatalf("expected 3 releases, got %v", released)
	}
	if released[len(released)-1] != "<fallback>" {
		t.Fatalf("expected fallback to release last, got order %v", released)
	}
	// "a" was inserted before "b"; ordinary handlers drain in reverse order.
	if released[0] != "b" || released[1] != "a" {
		t.Fatalf("expected reverse insertion order for ordinary handlers, got %v", released)
	}
}

func TestReleaseAllAggregatesErrorsWithoutMaskingOthers(t *testing.T) {
	r := NewRegistry()
	var released []abi.InterruptId
	boom := errors.New("release failed")
	r.Register(&stubModule{id: "a", released: &released})
	c := NewHandlerCache(r)
	c.Resolve("a")
	c.order[0].h.(*stubHandler).releaseErr = boom

	errs := c.ReleaseAll(context.Background())
	if len(errs) != 1 {
		t.Fatalf("expected 1 aggregated error, got %v", errs)
	}
	if len(released) != 1 {
		t.Fatalf("expected release to still be recorded despite erroring, got %v", released)
	}
}
