package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pithecene-io/pixelport/memory"
	"github.com/pithecene-io/pixelport/types"
)

type countingYielder struct{ n int }

func (c *countingYielder) Yield() { c.n++ }

func TestMemoryBacking_AppendDetachRelease(t *testing.T) {
	pool := memory.NewArena("primary", 1024)
	buf, err := pool.Alloc(10)
	if err != nil {
		t.Fatal(err)
	}
	b := NewMemoryBacking(pool, buf)

	if err := b.Append([]byte("GIF89a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append([]byte("1234")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append([]byte("x")); !errors.Is(err, ErrBackingFull) {
		t.Errorf("overfull Append err = %v, want ErrBackingFull", err)
	}
	if b.Len() != 10 {
		t.Errorf("Len = %d, want 10", b.Len())
	}
	prefix, err := b.Prefix(6)
	if err != nil || string(prefix) != "GIF89a" {
		t.Errorf("Prefix = %q, %v", prefix, err)
	}

	a, err := b.Detach(types.ChannelAnimation)
	if err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if a.Size != 10 || string(a.Data) != "GIF89a1234" {
		t.Errorf("artifact = %d %q", a.Size, a.Data)
	}
	// Detached backing owns nothing.
	if err := b.Release(); err != nil {
		t.Errorf("Release after detach: %v", err)
	}
	if pool.Outstanding() != 1 {
		t.Errorf("Outstanding = %d, want 1 (artifact owns the buffer)", pool.Outstanding())
	}

	if err := a.Release(); err != nil {
		t.Fatalf("artifact Release: %v", err)
	}
	if err := a.Release(); err != nil {
		t.Fatalf("second artifact Release: %v", err)
	}
	if pool.Outstanding() != 0 || pool.Free() != 1024 {
		t.Errorf("pool not restored: outstanding=%d free=%d", pool.Outstanding(), pool.Free())
	}
}

func TestMemoryBacking_ReleaseIdempotent(t *testing.T) {
	pool := memory.NewArena("primary", 100)
	buf, _ := pool.Alloc(50)
	b := NewMemoryBacking(pool, buf)

	_ = b.Release()
	_ = b.Release()
	if pool.Free() != 100 {
		t.Errorf("Free = %d, want 100", pool.Free())
	}
	if err := b.Append([]byte("x")); !errors.Is(err, ErrReleased) {
		t.Errorf("Append after release err = %v, want ErrReleased", err)
	}
}

func TestSpoolBacking_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "animation.spool")
	if err := os.WriteFile(path, []byte("stale artifact"), 0o644); err != nil {
		t.Fatal(err)
	}

	y := &countingYielder{}
	b, err := CreateSpool(path, y)
	if err != nil {
		t.Fatalf("CreateSpool: %v", err)
	}
	if size, _ := b.OnDiskSize(); size != 0 {
		t.Fatalf("stale content not truncated: size %d", size)
	}

	before := y.n
	if err := b.Append([]byte("GIF87a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append([]byte("body")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if y.n-before != 4 {
		t.Errorf("yields during two appends = %d, want 4", y.n-before)
	}
	if b.Len() != 10 {
		t.Errorf("Len = %d, want 10", b.Len())
	}
	prefix, err := b.Prefix(6)
	if err != nil || string(prefix) != "GIF87a" {
		t.Errorf("Prefix = %q, %v", prefix, err)
	}

	a, err := b.Detach(types.ChannelAnimation)
	if err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if a.Path != path || a.Size != 10 {
		t.Errorf("artifact = %+v", a)
	}
	data, err := a.Bytes()
	if err != nil || !bytes.Equal(data, []byte("GIF87abody")) {
		t.Errorf("Bytes = %q, %v", data, err)
	}

	// Release of the detached backing must not delete the artifact.
	_ = b.Release()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact file removed by backing release: %v", err)
	}

	if err := a.Release(); err != nil {
		t.Fatalf("artifact Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("artifact file should be deleted on release")
	}
}

func TestSpoolBacking_ReleaseDeletes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.spool")
	b, err := CreateSpool(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = b.Append([]byte("partial"))

	if err := b.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("spool should be deleted")
	}
	if err := b.Append([]byte("x")); !errors.Is(err, ErrReleased) {
		t.Errorf("Append after release err = %v", err)
	}
}

func TestCreateSpool_Failure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "image.spool")
	if _, err := CreateSpool(path, nil); err == nil {
		t.Fatal("expected error creating spool in missing directory")
	}
}

func TestArtifact_ReadInto(t *testing.T) {
	a := NewMemoryArtifact(types.ChannelImage, []byte("abcdef"), nil)
	buf := make([]byte, 4)
	n, err := a.ReadInto(buf)
	if err != nil || n != 4 || string(buf) != "abcd" {
		t.Errorf("ReadInto = %d %q %v", n, buf, err)
	}

	big := make([]byte, 10)
	n, err = a.ReadInto(big)
	if err != nil || n != 6 {
		t.Errorf("ReadInto short = %d, %v", n, err)
	}

	released := 0
	a = NewMemoryArtifact(types.ChannelImage, []byte("x"), func() { released++ })
	_ = a.Release()
	_ = a.Release()
	if released != 1 {
		t.Errorf("release func called %d times, want 1", released)
	}
}

func TestSpoolArtifact_ReleaseSkipsReclaimedPath(t *testing.T) {
	s, err := NewSelector(memory.NewArena("primary", 1024), nil, SelectorConfig{SpoolDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	first, _, err := s.Select(types.ChannelAnimation, 200*1024)
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Append([]byte("GIF89a"))
	old, err := first.Detach(types.ChannelAnimation)
	if err != nil {
		t.Fatal(err)
	}

	// A newer transfer reclaims the same path before the sink lets go.
	second, _, err := s.Select(types.ChannelAnimation, 200*1024)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = second.Release() }()

	if err := old.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(s.SpoolPath(types.ChannelAnimation)); err != nil {
		t.Fatalf("new spool deleted by stale artifact release: %v", err)
	}
}

func TestSpoolSlot_RemoveIfOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "animation.spool")
	slot := &spoolSlot{}

	stale := slot.claim()
	current := slot.claim()
	if err := os.WriteFile(path, []byte("GIF89a"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := slot.removeIfOwner(stale, path); err != nil {
		t.Fatalf("removeIfOwner(stale): %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stale generation removed the spool: %v", err)
	}

	if err := slot.removeIfOwner(current, path); err != nil {
		t.Fatalf("removeIfOwner(current): %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("owner should remove the spool")
	}
}

// A stale release racing a new claim must never delete the new spool: the
// new transfer creates its file after claiming, and the release may only
// delete before that claim.
func TestSpoolArtifact_ReleaseRacingClaim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "animation.spool")
	slot := &spoolSlot{}

	for i := 0; i < 200; i++ {
		old, err := createSpool(path, nil, slot)
		if err != nil {
			t.Fatal(err)
		}
		_ = old.Append([]byte("GIF89a"))
		art, err := old.Detach(types.ChannelAnimation)
		if err != nil {
			t.Fatal(err)
		}

		var (
			wg   sync.WaitGroup
			next *SpoolBacking
			cerr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = art.Release()
		}()
		go func() {
			defer wg.Done()
			next, cerr = createSpool(path, nil, slot)
		}()
		wg.Wait()
		if cerr != nil {
			t.Fatal(cerr)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("iteration %d: new spool deleted by stale release: %v", i, err)
		}
		if err := next.Release(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestArtifact_Link(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "animation.spool")
	if err := os.WriteFile(path, []byte("GIF89a"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := NewFileArtifact(types.ChannelAnimation, path, 6)

	staged := filepath.Join(dir, "animation.spool.staged")
	if err := a.Link(staged); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := a.Release(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(staged)
	if err != nil || string(got) != "GIF89a" {
		t.Errorf("staged = %q, %v; want bytes to outlive release", got, err)
	}

	mem := NewMemoryArtifact(types.ChannelAnimation, []byte("GIF89a"), nil)
	if err := mem.Link(filepath.Join(dir, "mem")); err == nil {
		t.Error("Link on memory artifact should fail")
	}
}
