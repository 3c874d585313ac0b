package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/pixelport/dispatch"
	"github.com/pithecene-io/pixelport/iox"
	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/storage"
	"github.com/pithecene-io/pixelport/types"
)

// DefaultTimeout bounds a single archive write.
const DefaultTimeout = 10 * time.Second

// DefaultQueueSize bounds artifacts waiting for the store.
const DefaultQueueSize = 16

// Options configures an Archiver. Logger and Metrics are optional.
type Options struct {
	Timeout time.Duration
	// QueueSize defaults to DefaultQueueSize.
	QueueSize int
	Now       func() time.Time
	Logger    *log.Logger
	Metrics   *metrics.Collector
}

// Archiver decorates the dispatch sinks so that every artifact the panel
// accepts is also saved to a Store.
//
// Writes happen on the archiver's own goroutine. A render only snapshots the
// artifact and queues it; when the queue is full the artifact is dropped
// and counted. Archive failures never fail the render. Close drains the
// queue.
type Archiver struct {
	store   *Store
	opts    Options
	logger  *log.Logger
	metrics *metrics.Collector

	queue  chan archiveJob
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	seq    atomic.Uint64
}

// archiveJob is one pending write. Exactly one of data or path is set; path
// is a staged link the worker removes once the write finishes.
type archiveJob struct {
	entry Entry
	data  []byte
	path  string
}

// NewArchiver creates an Archiver over store and starts its writer.
func NewArchiver(store *Store, opts Options) *Archiver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	a := &Archiver{
		store:   store,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		queue:   make(chan archiveJob, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Animation wraps inner so that played animations are archived.
func (a *Archiver) Animation(inner dispatch.AnimationSink) dispatch.AnimationSink {
	return &animationSink{archiver: a, inner: inner}
}

// Still wraps inner so that drawn still images are archived.
func (a *Archiver) Still(inner dispatch.StillImageSink) dispatch.StillImageSink {
	return &stillSink{archiver: a, inner: inner}
}

// Close stops accepting artifacts and waits for queued writes to finish.
func (a *Archiver) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return nil
}

func (a *Archiver) enqueue(j archiveJob) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.closed {
		select {
		case a.queue <- j:
			return
		default:
		}
	}
	a.discard(j)
	a.metrics.IncArchiveDropped()
	a.logger.Warn("archive queue unavailable, dropping artifact", map[string]any{
		"content": string(j.entry.Content),
		"closed":  a.closed,
	})
}

// discard drops a job's staged link, if any.
func (a *Archiver) discard(j archiveJob) {
	if j.path == "" {
		return
	}
	if _, err := iox.RemoveIfExists(j.path); err != nil {
		a.logger.Warn("staged archive link not removed", map[string]any{
			"path":  j.path,
			"error": err.Error(),
		})
	}
}

func (a *Archiver) run() {
	defer close(a.done)
	for j := range a.queue {
		a.write(j)
	}
}

func (a *Archiver) write(j archiveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.Timeout)
	defer cancel()
	defer a.discard(j)

	var (
		saved Entry
		err   error
	)
	if j.path != "" {
		saved, err = a.store.PutFile(ctx, j.entry, j.path)
	} else {
		saved, err = a.store.Put(ctx, j.entry, j.data)
	}
	if err != nil {
		a.metrics.IncArchiveFailure()
		a.logger.Warn("archive write failed", map[string]any{
			"content": string(j.entry.Content),
			"error":   err.Error(),
		})
		return
	}
	a.metrics.IncArchiveWrite()
	a.logger.Debug("artifact archived", map[string]any{
		"path": saved.Path,
		"size": saved.Size,
	})
}

// stage snapshots art before playback takes ownership of it. Memory
// artifacts are copied out of the arena; spooled ones get a second name in
// the spool directory so the worker can stream them after Release.
func (a *Archiver) stage(art *storage.Artifact) (archiveJob, error) {
	j := archiveJob{entry: Entry{
		Content:    types.ContentAnimation,
		Channel:    art.Channel.String(),
		ReceivedAt: a.opts.Now(),
	}}
	if art.Kind == types.BackingMemory {
		j.data = make([]byte, len(art.Data))
		copy(j.data, art.Data)
		return j, nil
	}
	path := storage.StagedLinkPath(art.Path, a.seq.Add(1))
	if err := art.Link(path); err != nil {
		return archiveJob{}, err
	}
	j.path = path
	return j, nil
}

type animationSink struct {
	archiver *Archiver
	inner    dispatch.AnimationSink
}

// RenderAnimation stages the artifact before handing it over, since
// playback owns the artifact afterwards.
func (s *animationSink) RenderAnimation(art *storage.Artifact) error {
	channel := art.Channel.String()
	j, stageErr := s.archiver.stage(art)
	if err := s.inner.RenderAnimation(art); err != nil {
		s.archiver.discard(j)
		return err
	}
	if stageErr != nil {
		s.archiver.metrics.IncArchiveFailure()
		s.archiver.logger.Warn("archive staging failed", map[string]any{
			"channel": channel,
			"error":   stageErr.Error(),
		})
		return nil
	}
	s.archiver.enqueue(j)
	return nil
}

type stillSink struct {
	archiver *Archiver
	inner    dispatch.StillImageSink
}

func (s *stillSink) RenderStillImage(buf []byte, width, height int) error {
	if err := s.inner.RenderStillImage(buf, width, height); err != nil {
		return err
	}
	data := make([]byte, len(buf))
	copy(data, buf)
	s.archiver.enqueue(archiveJob{
		entry: Entry{
			Content:    types.ContentStillImage,
			Width:      width,
			Height:     height,
			ReceivedAt: s.archiver.opts.Now(),
		},
		data: data,
	})
	return nil
}

var (
	_ dispatch.AnimationSink  = (*animationSink)(nil)
	_ dispatch.StillImageSink = (*stillSink)(nil)
)
