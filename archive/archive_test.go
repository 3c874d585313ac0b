package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/storage"
	"github.com/pithecene-io/pixelport/types"
)

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenWithFactory("", "matrix-01", sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

var day1 = time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

func TestStore_PutGetList(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	still, err := s.Put(ctx, Entry{Content: types.ContentStillImage, Width: 64, Height: 64, ReceivedAt: day1}, []byte("pixels"))
	if err != nil {
		t.Fatalf("put still: %v", err)
	}
	anim, err := s.Put(ctx, Entry{Content: types.ContentAnimation, Channel: "animation", ReceivedAt: day1.Add(25 * time.Hour)}, []byte("GIF89a..."))
	if err != nil {
		t.Fatalf("put animation: %v", err)
	}

	if still.Day != "2026-02-07" || anim.Day != "2026-02-08" {
		t.Errorf("days = %s, %s", still.Day, anim.Day)
	}
	wantPrefix := "datasets/pixelport/partitions/device=matrix-01/day=2026-02-07/content=still_image/files/"
	if !strings.HasPrefix(still.Path, wantPrefix) || !strings.HasSuffix(still.Path, ".raw") {
		t.Errorf("still path = %s", still.Path)
	}
	if !strings.HasSuffix(anim.Path, ".gif") {
		t.Errorf("animation path = %s", anim.Path)
	}
	// sha256("pixels")
	if len(still.Checksum) != 64 || still.Size != 6 {
		t.Errorf("still entry = %+v", still)
	}

	got, err := s.Get(ctx, anim.Path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "GIF89a..." {
		t.Errorf("get = %q", got)
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list = %d entries, want 2", len(all))
	}
	if all[0].Path != still.Path || all[1].Path != anim.Path {
		t.Errorf("order = %s, %s", all[0].Path, all[1].Path)
	}
	if all[0].Width != 64 || all[0].Height != 64 || all[0].Size != 6 || !all[0].ReceivedAt.Equal(day1) {
		t.Errorf("round trip = %+v", all[0])
	}
	if all[1].Channel != "animation" || all[1].Content != types.ContentAnimation {
		t.Errorf("round trip = %+v", all[1])
	}
}

func TestStore_ListFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	for i := range 3 {
		kind := types.ContentStillImage
		if i == 1 {
			kind = types.ContentAnimation
		}
		if _, err := s.Put(ctx, Entry{Content: kind, ReceivedAt: day1.Add(time.Duration(i) * 24 * time.Hour)}, []byte{byte(i)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"stills", Filter{Content: types.ContentStillImage}, 2},
		{"animations", Filter{Content: types.ContentAnimation}, 1},
		{"day", Filter{Day: "2026-02-09"}, 1},
		{"day and kind miss", Filter{Day: "2026-02-09", Content: types.ContentAnimation}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestOpen_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown backend", Config{Backend: "ftp"}},
		{"fs without root", Config{Backend: BackendFS}},
		{"s3 without bucket", Config{Backend: BackendS3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(t.Context(), tt.cfg, "matrix-01"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := OpenWithFactory("", "", lode.NewMemoryFactory()); err == nil {
		t.Error("expected error for missing device")
	}
}

func TestOpen_FS(t *testing.T) {
	root := t.TempDir()
	s, err := Open(t.Context(), Config{Backend: BackendFS, Root: root}, "matrix-01")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e, err := s.Put(t.Context(), Entry{Content: types.ContentStillImage, ReceivedAt: day1}, []byte("abc"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	b, err := os.ReadFile(root + "/" + e.Path)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if string(b) != "abc" {
		t.Errorf("sidecar = %q", b)
	}
}

func TestOpen_FactoryError(t *testing.T) {
	factory := func() (lode.Store, error) { return nil, syscall.ENOSPC }
	_, err := OpenWithFactory("", "matrix-01", factory)
	if !errors.Is(err, ErrDiskFull) {
		t.Errorf("err = %v, want ErrDiskFull", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{os.ErrNotExist, ErrNotFound},
		{syscall.EACCES, ErrPermissionDenied},
		{errors.New("AccessDenied: 403 Forbidden"), ErrAccessDenied},
		{syscall.ENOSPC, ErrDiskFull},
		{context.DeadlineExceeded, ErrTimeout},
		{errors.New("SlowDown: please reduce your request rate"), ErrThrottled},
		{errors.New("NoCredentialProviders: no valid providers in chain"), ErrAuth},
		{errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), ErrNetwork},
		{errors.New("something odd"), errUnclassified},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			err := wrap("write", "x", tt.err)
			if !errors.Is(err, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, err, tt.want)
			}
			var se *StorageError
			if !errors.As(err, &se) || se.Op != "write" || !errors.Is(err, tt.err) {
				t.Errorf("storage error = %#v", err)
			}
		})
	}
	if wrap("write", "", nil) != nil {
		t.Error("wrap(nil) should be nil")
	}
}

type fakeAnimation struct {
	err error
	got *storage.Artifact
}

func (f *fakeAnimation) RenderAnimation(a *storage.Artifact) error {
	if f.err != nil {
		return f.err
	}
	f.got = a
	return a.Release()
}

type fakeStill struct {
	err error
	buf []byte
}

func (f *fakeStill) RenderStillImage(buf []byte, _, _ int) error {
	if f.err != nil {
		return f.err
	}
	f.buf = buf
	return nil
}

func newTestArchiver(t *testing.T, store *Store) (*Archiver, *metrics.Collector) {
	t.Helper()
	return newTestArchiverWith(t, store, Options{})
}

func newTestArchiverWith(t *testing.T, store *Store, opts Options) (*Archiver, *metrics.Collector) {
	t.Helper()
	m := metrics.NewCollector("matrix-01", "memory", "")
	opts.Now = func() time.Time { return day1 }
	opts.Metrics = m
	a := NewArchiver(store, opts)
	t.Cleanup(func() { _ = a.Close() })
	return a, m
}

func TestArchiver_Animation(t *testing.T) {
	s := newTestStore(t)
	a, m := newTestArchiver(t, s)

	dir := t.TempDir()
	path := dir + "/anim.spool"
	if err := os.WriteFile(path, []byte("GIF89a-frames"), 0o600); err != nil {
		t.Fatal(err)
	}
	inner := &fakeAnimation{}
	art := storage.NewFileArtifact(types.ChannelAnimation, path, 13)
	if err := a.Animation(inner).RenderAnimation(art); err != nil {
		t.Fatalf("render: %v", err)
	}
	if inner.got != art {
		t.Fatal("inner sink not called")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := s.List(t.Context(), Filter{Content: types.ContentAnimation})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Channel != "animation" || entries[0].Size != 13 {
		t.Fatalf("entries = %+v", entries)
	}
	data, err := s.Get(t.Context(), entries[0].Path)
	if err != nil || string(data) != "GIF89a-frames" {
		t.Errorf("archived = %q, %v", data, err)
	}
	if snap := m.Snapshot(); snap.ArchiveWrites != 1 || snap.ArchiveFailures != 0 {
		t.Errorf("metrics = %+v", snap)
	}
	left, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("spool dir not empty after archive: %v", left)
	}
}

func TestArchiver_MemoryAnimationCopied(t *testing.T) {
	s := newTestStore(t)
	a, _ := newTestArchiver(t, s)

	payload := []byte("GIF89a-small")
	art := storage.NewMemoryArtifact(types.ChannelAnimation, payload, func() {
		// The arena hands the buffer to the next transfer.
		copy(payload, "xxxxxxxxxxxx")
	})
	if err := a.Animation(&fakeAnimation{}).RenderAnimation(art); err != nil {
		t.Fatalf("render: %v", err)
	}
	mustClose(t, a)

	entries, err := s.List(t.Context(), Filter{Content: types.ContentAnimation})
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %+v, %v", entries, err)
	}
	data, _ := s.Get(t.Context(), entries[0].Path)
	if string(data) != "GIF89a-small" {
		t.Errorf("archived = %q, want bytes from before release", data)
	}
}

func TestArchiver_Still(t *testing.T) {
	s := newTestStore(t)
	a, _ := newTestArchiver(t, s)

	inner := &fakeStill{}
	buf := []byte{1, 2, 3, 4}
	if err := a.Still(inner).RenderStillImage(buf, 2, 1); err != nil {
		t.Fatalf("render: %v", err)
	}
	buf[0] = 9
	mustClose(t, a)

	entries, err := s.List(t.Context(), Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Width != 2 || entries[0].Height != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	data, _ := s.Get(t.Context(), entries[0].Path)
	if len(data) != 4 || data[0] != 1 {
		t.Errorf("archived = %v, want copy of original", data)
	}
}

func TestArchiver_InnerFailureSkipsArchive(t *testing.T) {
	s := newTestStore(t)
	a, m := newTestArchiver(t, s)
	boom := errors.New("panel offline")

	if err := a.Still(&fakeStill{err: boom}).RenderStillImage([]byte{1}, 1, 1); !errors.Is(err, boom) {
		t.Errorf("still err = %v", err)
	}
	art := storage.NewMemoryArtifact(types.ChannelAnimation, []byte("GIF89a"), nil)
	if err := a.Animation(&fakeAnimation{err: boom}).RenderAnimation(art); !errors.Is(err, boom) {
		t.Errorf("animation err = %v", err)
	}

	dir := t.TempDir()
	path := dir + "/anim.spool"
	if err := os.WriteFile(path, []byte("GIF89a"), 0o600); err != nil {
		t.Fatal(err)
	}
	spooled := storage.NewFileArtifact(types.ChannelAnimation, path, 6)
	if err := a.Animation(&fakeAnimation{err: boom}).RenderAnimation(spooled); !errors.Is(err, boom) {
		t.Errorf("spooled animation err = %v", err)
	}
	if links, _ := storage.StagedLinks(path); len(links) != 0 {
		t.Errorf("staged links left after failed render: %v", links)
	}

	mustClose(t, a)
	if snap := m.Snapshot(); snap.ArchiveWrites != 0 || snap.ArchiveFailures != 0 || snap.ArchiveDropped != 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

type failingStore struct {
	lode.Store
}

func (failingStore) Put(context.Context, string, io.Reader) error {
	return syscall.ENOSPC
}

func TestArchiver_StoreFailureDoesNotFailRender(t *testing.T) {
	s, err := OpenWithFactory("", "matrix-01", sharedFactory(failingStore{Store: lode.NewMemory()}))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a, m := newTestArchiver(t, s)
	if err := a.Still(&fakeStill{}).RenderStillImage([]byte{1, 2}, 1, 1); err != nil {
		t.Fatalf("render: %v", err)
	}
	mustClose(t, a)
	if snap := m.Snapshot(); snap.ArchiveFailures != 1 || snap.ArchiveWrites != 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

// gatedStore holds every Put until gate is closed.
type gatedStore struct {
	lode.Store
	entered chan struct{}
	gate    chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		Store:   lode.NewMemory(),
		entered: make(chan struct{}, 64),
		gate:    make(chan struct{}),
	}
}

func (g *gatedStore) Put(ctx context.Context, path string, r io.Reader) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Store.Put(ctx, path, r)
}

func TestArchiver_SlowStoreDoesNotBlockRender(t *testing.T) {
	gs := newGatedStore()
	s, err := OpenWithFactory("", "matrix-01", sharedFactory(gs))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a, m := newTestArchiver(t, s)

	done := make(chan error, 1)
	go func() {
		done <- a.Still(&fakeStill{}).RenderStillImage([]byte{1, 2, 3, 4}, 2, 1)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("render: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("render blocked on the archive store")
	}

	<-gs.entered
	close(gs.gate)
	mustClose(t, a)
	if snap := m.Snapshot(); snap.ArchiveWrites != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestArchiver_FullQueueDropsAndCounts(t *testing.T) {
	gs := newGatedStore()
	s, err := OpenWithFactory("", "matrix-01", sharedFactory(gs))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a, m := newTestArchiverWith(t, s, Options{QueueSize: 1})
	sink := a.Still(&fakeStill{})

	// First artifact occupies the writer, second fills the queue.
	mustNil(t, sink.RenderStillImage([]byte{1}, 1, 1))
	<-gs.entered
	mustNil(t, sink.RenderStillImage([]byte{2}, 1, 1))
	mustNil(t, sink.RenderStillImage([]byte{3}, 1, 1))

	if snap := m.Snapshot(); snap.ArchiveDropped != 1 {
		t.Errorf("ArchiveDropped = %d, want 1", snap.ArchiveDropped)
	}

	close(gs.gate)
	mustClose(t, a)
	if snap := m.Snapshot(); snap.ArchiveWrites != 2 || snap.ArchiveDropped != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestArchiver_ClosedDropsSpooledAnimation(t *testing.T) {
	s := newTestStore(t)
	a, m := newTestArchiver(t, s)
	mustClose(t, a)
	mustClose(t, a)

	path := t.TempDir() + "/anim.spool"
	if err := os.WriteFile(path, []byte("GIF89a"), 0o600); err != nil {
		t.Fatal(err)
	}
	art := storage.NewFileArtifact(types.ChannelAnimation, path, 6)
	if err := a.Animation(&fakeAnimation{}).RenderAnimation(art); err != nil {
		t.Fatalf("render after close: %v", err)
	}
	if links, _ := storage.StagedLinks(path); len(links) != 0 {
		t.Errorf("staged links left after drop: %v", links)
	}
	if snap := m.Snapshot(); snap.ArchiveDropped != 1 || snap.ArchiveWrites != 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func mustClose(t *testing.T, a *Archiver) {
	t.Helper()
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
