package runtime

import (
	goruntime "runtime"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/pixelport/storage"
)

// Liveness records the last time the host loop made progress. It stands in
// for the hardware watchdog that long spool operations must keep feeding.
type Liveness struct {
	now   func() time.Time
	last  atomic.Int64
	feeds atomic.Int64
}

// NewLiveness creates a Liveness fed at creation. now may be nil.
func NewLiveness(now func() time.Time) *Liveness {
	if now == nil {
		now = time.Now
	}
	l := &Liveness{now: now}
	l.Feed()
	return l
}

// Feed marks progress.
func (l *Liveness) Feed() {
	l.last.Store(l.now().UnixNano())
	l.feeds.Add(1)
}

// Age returns the time since the last feed.
func (l *Liveness) Age() time.Duration {
	return l.now().Sub(time.Unix(0, l.last.Load()))
}

// Feeds returns how many times Feed was called.
func (l *Liveness) Feeds() int64 {
	return l.feeds.Load()
}

// Yielder returns a storage.Yielder that feeds l and lets other goroutines
// run. Spool appends and the dispatcher's stop sequence call it.
func (l *Liveness) Yielder() storage.Yielder {
	return storage.YieldFunc(func() {
		l.Feed()
		goruntime.Gosched()
	})
}
