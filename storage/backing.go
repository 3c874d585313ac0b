// Package storage holds the per-session backings (in-memory buffer or
// spooled file), the artifact handed to render sinks, and the strategy
// selector that chooses between them.
package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pithecene-io/pixelport/iox"
	"github.com/pithecene-io/pixelport/memory"
	"github.com/pithecene-io/pixelport/types"
)

var (
	// ErrReleased is returned by operations on a released or detached backing.
	ErrReleased = errors.New("backing released")
	// ErrBackingFull is returned when an append would exceed the buffer.
	ErrBackingFull = errors.New("append exceeds buffer size")
)

// Yielder is serviced before and after each spool write so the host's
// liveness supervisor keeps running during slow storage I/O.
type Yielder interface {
	Yield()
}

// YieldFunc adapts a function to Yielder.
type YieldFunc func()

// Yield calls f.
func (f YieldFunc) Yield() { f() }

type nopYielder struct{}

func (nopYielder) Yield() {}

// NopYielder does nothing.
var NopYielder Yielder = nopYielder{}

// Backing exclusively owns the storage of one session.
type Backing interface {
	// Kind reports memory or spool.
	Kind() types.BackingKind
	// Append adds p at the end of the accumulated bytes.
	Append(p []byte) error
	// Len returns the number of bytes appended.
	Len() int64
	// Prefix returns up to n leading bytes.
	Prefix(n int) ([]byte, error)
	// Detach transfers the accumulated bytes to an Artifact. The backing
	// holds nothing afterwards and Release becomes a no-op.
	Detach(ch types.Channel) (*Artifact, error)
	// Release frees the storage. It is idempotent.
	Release() error
}

// MemoryBacking accumulates into a buffer drawn from a memory.Pool.
type MemoryBacking struct {
	pool memory.Pool
	buf  []byte
	n    int64
}

// NewMemoryBacking wraps buf, which must have been allocated from pool.
func NewMemoryBacking(pool memory.Pool, buf []byte) *MemoryBacking {
	return &MemoryBacking{pool: pool, buf: buf}
}

// Kind implements Backing.
func (b *MemoryBacking) Kind() types.BackingKind { return types.BackingMemory }

// Len implements Backing.
func (b *MemoryBacking) Len() int64 { return b.n }

// Pool returns the pool the buffer came from.
func (b *MemoryBacking) Pool() memory.Pool { return b.pool }

// Append implements Backing.
func (b *MemoryBacking) Append(p []byte) error {
	if b.buf == nil {
		return ErrReleased
	}
	if b.n+int64(len(p)) > int64(len(b.buf)) {
		return fmt.Errorf("%w: %d + %d > %d", ErrBackingFull, b.n, len(p), len(b.buf))
	}
	copy(b.buf[b.n:], p)
	b.n += int64(len(p))
	return nil
}

// Prefix implements Backing. The returned slice aliases the buffer.
func (b *MemoryBacking) Prefix(n int) ([]byte, error) {
	if b.buf == nil {
		return nil, ErrReleased
	}
	return b.buf[:min(int64(n), b.n)], nil
}

// Detach implements Backing.
func (b *MemoryBacking) Detach(ch types.Channel) (*Artifact, error) {
	if b.buf == nil {
		return nil, ErrReleased
	}
	buf, pool := b.buf, b.pool
	a := &Artifact{
		Channel: ch,
		Kind:    types.BackingMemory,
		Data:    buf[:b.n],
		Size:    b.n,
		release: func() error {
			pool.Release(buf)
			return nil
		},
	}
	b.buf = nil
	b.n = 0
	return a, nil
}

// Release implements Backing.
func (b *MemoryBacking) Release() error {
	if b.buf == nil {
		return nil
	}
	b.pool.Release(b.buf)
	b.buf = nil
	b.n = 0
	return nil
}

// spoolSlot tracks which transfer currently owns a channel's spool path.
type spoolSlot struct {
	mu  sync.Mutex
	gen uint64
}

func (s *spoolSlot) claim() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// removeIfOwner deletes path only while gen still owns the slot. The check
// and the delete hold mu so a concurrent claim cannot land between them.
func (s *spoolSlot) removeIfOwner(gen uint64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil
	}
	_, err := iox.RemoveIfExists(path)
	return err
}

// SpoolBacking appends to a file at a channel's well-known path.
type SpoolBacking struct {
	path    string
	f       *os.File
	n       int64
	yielder Yielder
	slot    *spoolSlot
	gen     uint64
}

// CreateSpool deletes any stale artifact at path and creates it empty,
// keeping an append handle open for the session.
func CreateSpool(path string, y Yielder) (*SpoolBacking, error) {
	return createSpool(path, y, nil)
}

func createSpool(path string, y Yielder, slot *spoolSlot) (*SpoolBacking, error) {
	if y == nil {
		y = NopYielder
	}
	var gen uint64
	if slot != nil {
		gen = slot.claim()
	}
	y.Yield()
	if _, err := iox.RemoveIfExists(path); err != nil {
		return nil, fmt.Errorf("remove stale spool %s: %w", path, err)
	}
	y.Yield()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create spool %s: %w", path, err)
	}
	return &SpoolBacking{path: path, f: f, yielder: y, slot: slot, gen: gen}, nil
}

// Kind implements Backing.
func (b *SpoolBacking) Kind() types.BackingKind { return types.BackingSpool }

// Len implements Backing.
func (b *SpoolBacking) Len() int64 { return b.n }

// Path returns the spool file path.
func (b *SpoolBacking) Path() string { return b.path }

// Append implements Backing. The yielder runs before and after the write.
func (b *SpoolBacking) Append(p []byte) error {
	if b.f == nil {
		return ErrReleased
	}
	b.yielder.Yield()
	n, err := b.f.Write(p)
	b.n += int64(n)
	b.yielder.Yield()
	if err != nil {
		return fmt.Errorf("append spool %s: %w", b.path, err)
	}
	return nil
}

// Prefix implements Backing with a short read of the file head.
func (b *SpoolBacking) Prefix(n int) ([]byte, error) {
	if b.f == nil {
		return nil, ErrReleased
	}
	return iox.ReadPrefix(b.path, n)
}

// OnDiskSize stats the spool file.
func (b *SpoolBacking) OnDiskSize() (int64, error) {
	fi, err := os.Stat(b.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Detach implements Backing. The handle is closed and the file stays on
// storage until the artifact is released.
func (b *SpoolBacking) Detach(ch types.Channel) (*Artifact, error) {
	if b.f == nil {
		return nil, ErrReleased
	}
	if err := b.f.Close(); err != nil {
		b.f = nil
		_, _ = iox.RemoveIfExists(b.path)
		return nil, fmt.Errorf("close spool %s: %w", b.path, err)
	}
	b.f = nil
	a := newFileArtifact(ch, b.path, b.n, b.slot, b.gen)
	b.n = 0
	return a, nil
}

// Release implements Backing. It closes the handle and deletes the file.
func (b *SpoolBacking) Release() error {
	if b.f == nil {
		return nil
	}
	iox.DiscardClose(b.f)
	b.f = nil
	b.n = 0
	b.yielder.Yield()
	_, err := iox.RemoveIfExists(b.path)
	b.yielder.Yield()
	return err
}
