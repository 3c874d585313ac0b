// Package memory models the device's memory pools and the telemetry the
// storage selector reads from them.
package memory

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrExhausted is returned when a pool has fewer free bytes than requested.
	ErrExhausted = errors.New("pool exhausted")
	// ErrFragmented is returned when free bytes exist but no contiguous block is large enough.
	ErrFragmented = errors.New("no contiguous block large enough")
	// ErrInvalidSize is returned for non-positive allocation sizes.
	ErrInvalidSize = errors.New("invalid allocation size")
)

// Pool is a source of exclusively owned buffers with live telemetry.
type Pool interface {
	// Name identifies the pool in logs ("primary", "secondary").
	Name() string
	// Free returns the bytes currently free.
	Free() int64
	// MinFree returns the lowest Free value observed since creation.
	MinFree() int64
	// Capacity returns the pool size in bytes.
	Capacity() int64
	// Alloc returns a zeroed buffer of length n.
	Alloc(n int64) ([]byte, error)
	// Release returns a buffer obtained from Alloc to the pool.
	Release(b []byte)
	// Compact is a hint to coalesce free space before a retry.
	Compact()
}

// Arena is a bounded Pool that accounts allocations against a fixed capacity.
//
// An arena can be marked fragmented, in which case no single allocation may
// exceed the largest free block until Compact is called. Arena is safe for
// concurrent use.
type Arena struct {
	name     string
	capacity int64

	mu           sync.Mutex
	used         int64
	minFree      int64
	largestBlock int64 // 0 means unfragmented
	compactions  int64
	outstanding  int64
}

// NewArena creates an arena of capacity bytes.
func NewArena(name string, capacity int64) *Arena {
	return &Arena{name: name, capacity: capacity, minFree: capacity}
}

// Name implements Pool.
func (a *Arena) Name() string { return a.name }

// Capacity implements Pool.
func (a *Arena) Capacity() int64 { return a.capacity }

// Free implements Pool.
func (a *Arena) Free() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capacity - a.used
}

// MinFree implements Pool.
func (a *Arena) MinFree() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.minFree
}

// Alloc implements Pool.
func (a *Arena) Alloc(n int64) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	free := a.capacity - a.used
	if n > free {
		return nil, fmt.Errorf("%s: %w: want %d, free %d", a.name, ErrExhausted, n, free)
	}
	if a.largestBlock > 0 && n > a.largestBlock {
		return nil, fmt.Errorf("%s: %w: want %d, largest block %d", a.name, ErrFragmented, n, a.largestBlock)
	}

	a.used += n
	a.outstanding++
	if f := a.capacity - a.used; f < a.minFree {
		a.minFree = f
	}
	return make([]byte, n), nil
}

// Release implements Pool. Releasing nil is a no-op.
func (a *Arena) Release(b []byte) {
	if b == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used -= int64(cap(b))
	if a.used < 0 {
		a.used = 0
	}
	if a.outstanding > 0 {
		a.outstanding--
	}
}

// Compact implements Pool. It clears any simulated fragmentation.
func (a *Arena) Compact() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.largestBlock = 0
	a.compactions++
}

// Fragment limits the largest single allocation to largest bytes until the
// next Compact. Passing 0 clears fragmentation.
func (a *Arena) Fragment(largest int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.largestBlock = largest
}

// Reserve accounts n bytes as used by something outside the transfer engine.
func (a *Arena) Reserve(n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used += n
	if a.used > a.capacity {
		a.used = a.capacity
	}
	if f := a.capacity - a.used; f < a.minFree {
		a.minFree = f
	}
}

// Outstanding returns the number of buffers allocated and not yet released.
func (a *Arena) Outstanding() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outstanding
}

// Compactions returns how many times Compact was called.
func (a *Arena) Compactions() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.compactions
}
