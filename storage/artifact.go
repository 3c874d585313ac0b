package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pithecene-io/pixelport/iox"
	"github.com/pithecene-io/pixelport/types"
)

// Artifact is a completed payload handed from the engine to a render sink.
//
// Exactly one of Data (memory) or Path (spool) is set. The holder must call
// Release when done; for spooled artifacts that deletes the file.
type Artifact struct {
	Channel types.Channel
	Kind    types.BackingKind
	Path    string
	Data    []byte
	Size    int64

	once    sync.Once
	release func() error
	err     error
}

// NewMemoryArtifact wraps data. release may be nil.
func NewMemoryArtifact(ch types.Channel, data []byte, release func()) *Artifact {
	a := &Artifact{Channel: ch, Kind: types.BackingMemory, Data: data, Size: int64(len(data))}
	if release != nil {
		a.release = func() error { release(); return nil }
	}
	return a
}

// NewFileArtifact wraps a file of size bytes at path. Release deletes it.
func NewFileArtifact(ch types.Channel, path string, size int64) *Artifact {
	return newFileArtifact(ch, path, size, nil, 0)
}

// newFileArtifact deletes path on release only while slot still records gen,
// so a stale artifact never removes a newer transfer's spool.
func newFileArtifact(ch types.Channel, path string, size int64, slot *spoolSlot, gen uint64) *Artifact {
	return &Artifact{
		Channel: ch,
		Kind:    types.BackingSpool,
		Path:    path,
		Size:    size,
		release: func() error {
			if slot != nil {
				return slot.removeIfOwner(gen, path)
			}
			_, err := iox.RemoveIfExists(path)
			return err
		},
	}
}

// Prefix returns up to n leading bytes.
func (a *Artifact) Prefix(n int) ([]byte, error) {
	if a.Kind == types.BackingMemory {
		return a.Data[:min(n, len(a.Data))], nil
	}
	return iox.ReadPrefix(a.Path, n)
}

// Open returns a reader over the artifact.
func (a *Artifact) Open() (io.ReadCloser, error) {
	if a.Kind == types.BackingMemory {
		return io.NopCloser(bytes.NewReader(a.Data)), nil
	}
	return os.Open(a.Path)
}

// ReadInto fills buf from the start of the artifact and returns the bytes read.
// A memory artifact is copied; callers that can use Data directly should.
func (a *Artifact) ReadInto(buf []byte) (int, error) {
	r, err := a.Open()
	if err != nil {
		return 0, err
	}
	defer iox.DiscardClose(r)
	n, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return n, err
}

// Bytes returns the full payload, reading spooled artifacts from storage.
func (a *Artifact) Bytes() ([]byte, error) {
	if a.Kind == types.BackingMemory {
		return a.Data, nil
	}
	return os.ReadFile(a.Path)
}

// Link makes dst a second name for a spooled artifact's file, so the bytes
// outlive Release until dst is removed. Memory artifacts have no file.
func (a *Artifact) Link(dst string) error {
	if a.Kind != types.BackingSpool {
		return fmt.Errorf("link %s: artifact is not spooled", dst)
	}
	return os.Link(a.Path, dst)
}

// Release frees the artifact's storage. Safe to call more than once.
func (a *Artifact) Release() error {
	a.once.Do(func() {
		if a.release != nil {
			a.err = a.release()
		}
	})
	return a.err
}
