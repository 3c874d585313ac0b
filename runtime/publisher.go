package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/pithecene-io/pixelport/adapter"
	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/transfer"
	"github.com/pithecene-io/pixelport/types"
)

// DefaultPublishQueue bounds events waiting for the adapter.
const DefaultPublishQueue = 64

// Publisher forwards engine events to an adapter from its own goroutine.
// Emit never blocks: when the queue is full the event is dropped and
// counted.
type Publisher struct {
	adapter  adapter.Adapter
	deviceID string
	logger   *log.Logger
	metrics  *metrics.Collector

	queue     chan types.TransferEvent
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	startOnce sync.Once
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	// QueueSize defaults to DefaultPublishQueue.
	QueueSize int
	Logger    *log.Logger
	Metrics   *metrics.Collector
}

// NewPublisher creates a publisher for a. Call Start before emitting.
func NewPublisher(a adapter.Adapter, deviceID string, opts PublisherOptions) (*Publisher, error) {
	if a == nil {
		return nil, errors.New("publisher: adapter is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultPublishQueue
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Publisher{
		adapter:  a,
		deviceID: deviceID,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		queue:    make(chan types.TransferEvent, opts.QueueSize),
		done:     make(chan struct{}),
	}, nil
}

// Emit implements transfer.EventSink.
func (p *Publisher) Emit(ev types.TransferEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.IncEventDropped()
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.metrics.IncEventDropped()
		p.logger.Warn("event queue full, dropping event", map[string]any{
			"event_type": string(ev.Type),
			"channel":    ev.Channel,
		})
	}
}

// Start launches the publishing goroutine. Publishes use ctx; canceling it
// abandons in-flight retries but queued events are still attempted.
func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.run(ctx)
	})
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)
	for ev := range p.queue {
		event := adapter.NewEvent(p.deviceID, ev)
		if err := p.adapter.Publish(ctx, event); err != nil {
			p.metrics.IncEventPublishError()
			p.logger.Warn("event publish failed", map[string]any{
				"event_type": string(ev.Type),
				"channel":    ev.Channel,
				"error":      err.Error(),
			})
			continue
		}
		p.metrics.IncEventPublished()
	}
}

// Close stops accepting events, drains the queue and closes the adapter.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.Start(context.Background())
	<-p.done
	return p.adapter.Close()
}

var _ transfer.EventSink = (*Publisher)(nil)
