package restable

import (
	"errors"
	"testing"
)

type fakeResource struct {
	id       uint32
	released *[]uint32
	failOn   error
}

func (f *fakeResource) Release() error {
	if f.failOn != nil {
		return f.failOn
	}
	*f.released = append(*f.released, f.id)
	return nil
}

func TestInsertAssignsMonotonicIds(t *testing.T) {
	tbl := New[*fakeResource]()
	var released []uint32

	id1, err := tbl.Insert(func(id uint32) (*fakeResource, error) {
		return &fakeResource{id: id, released: &released}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := tbl.Insert(func(id uint32) (*fakeResource, error) {
		return &fakeResource{id: id, released: &released}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if id1 == 0 || id2 == 0 || id1 == id2 {
		t.Fatalf("expected distinct nonzero ids, got %d and %d", id1, id2)
	}
	if id2 != id1+1 {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", id1, id2)
	}
}

func TestInsertFailureDiscardsId(t *testing.T) {
	tbl := New[*fakeResource]()
	var released []uint32

	_, err := tbl.Insert(func(id uint32) (*fakeResource, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected no entries after failed insert, got %d", tbl.Len())
	}

	id, err := tbl.Insert(func(id uint32) (*fakeResource, error) {
		return &fakeResource{id: id, released: &released}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 2 {
		t.Fatalf("expected the failed insert's id to be burned, got id=%d", id)
	}
}

func TestReleaseRemovesEntry(t *testing.T) {
	tbl := New[*fakeResource]()
	var released []uint32
	id, _ := tbl.Insert(func(id uint32) (*fakeResource, error) {
		return &fakeResource{id: id, released: &released}, nil
	})
	if err := tbl.Release(id); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Get(id); ok {
		t.Fatal("expected entry to be gone after Release")
	}
	if len(released) != 1 || released[0] != id {
		t.Fatalf("expected Release hook invoked with id %d, got %v", id, released)
	}
}

func TestReleaseAllInInsertionOrder(t *testing.T) {
	tbl := New[*fakeResource]()
	var released []uint32
	for i := 0; i < 3; i++ {
		tbl.Insert(func(id uint32) (*fakeResource, error) {
			return &fakeResource{id: id, released: &released}, nil
		})
	}
	errs := tbl.ReleaseAll()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(released) != 3 {
		t.Fatalf("expected 3 releases, got %d", len(released))
	}
	for i := 1; i < len(released); i++ {
		if released[i] < released[i-1] {
			t.Fatalf("expected insertion order, got %v", released)
		}
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected table empty after ReleaseAll, got %d", tbl.Len())
	}
}

func TestReleaseAllAggregatesErrors(t *testing.T) {
	tbl := New[*fakeResource]()
	var released []uint32
	boom := errors.New("boom")
	tbl.Insert(func(id uint32) (*fakeResource, error) {
		return &fakeResource{id: id, released: &released, failOn: boom}, nil
	})
	tbl.Insert(func(id uint32) (*fakeResource, error) {
		return &fakeResource{id: id, released: &released}, nil
	})
	errs := tbl.ReleaseAll()
	if len(errs) != 1 {
		t.Fatalf("expected exactly 1 aggregated error, got %v", errs)
	}
	if tbl.Len() != 0 {
		t.Fatal("expected all entries removed even though one release errored")
	}
}
