package memory

import (
	"errors"
	"testing"
)

func TestArena_AllocRelease(t *testing.T) {
	a := NewArena("primary", 1000)

	b, err := a.Alloc(400)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if len(b) != 400 {
		t.Errorf("len = %d, want 400", len(b))
	}
	if got := a.Free(); got != 600 {
		t.Errorf("Free = %d, want 600", got)
	}
	if got := a.Outstanding(); got != 1 {
		t.Errorf("Outstanding = %d, want 1", got)
	}

	a.Release(b)
	if got := a.Free(); got != 1000 {
		t.Errorf("Free after release = %d, want 1000", got)
	}
	if got := a.MinFree(); got != 600 {
		t.Errorf("MinFree = %d, want 600", got)
	}
	if got := a.Outstanding(); got != 0 {
		t.Errorf("Outstanding = %d, want 0", got)
	}

	a.Release(nil)
	if got := a.Free(); got != 1000 {
		t.Errorf("Free after nil release = %d", got)
	}
}

func TestArena_Exhausted(t *testing.T) {
	a := NewArena("primary", 100)
	if _, err := a.Alloc(101); !errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
	if _, err := a.Alloc(0); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("err = %v, want ErrInvalidSize", err)
	}
}

func TestArena_FragmentAndCompact(t *testing.T) {
	a := NewArena("primary", 1000)
	a.Fragment(100)

	if _, err := a.Alloc(200); !errors.Is(err, ErrFragmented) {
		t.Fatalf("err = %v, want ErrFragmented", err)
	}
	if _, err := a.Alloc(50); err != nil {
		t.Fatalf("small alloc should fit a fragment: %v", err)
	}

	a.Compact()
	if a.Compactions() != 1 {
		t.Errorf("Compactions = %d, want 1", a.Compactions())
	}
	if _, err := a.Alloc(200); err != nil {
		t.Errorf("alloc after compact: %v", err)
	}
}

func TestArena_Reserve(t *testing.T) {
	a := NewArena("primary", 100)
	a.Reserve(150)
	if a.Free() != 0 {
		t.Errorf("Free = %d, want 0", a.Free())
	}
	if a.MinFree() != 0 {
		t.Errorf("MinFree = %d, want 0", a.MinFree())
	}
}
