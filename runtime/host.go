package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/pixelport/capture"
	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/transfer"
	"github.com/pithecene-io/pixelport/types"
)

// ErrHostStopped is returned by Submit once the host loop has exited.
var ErrHostStopped = errors.New("host stopped")

// Host defaults.
const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultQueueSize    = 256
)

// HostConfig tunes the loop.
type HostConfig struct {
	// TickInterval is the period of watchdog and delayed-reset polls.
	TickInterval time.Duration
	// QueueSize bounds fragments waiting for the loop.
	QueueSize int
}

// HostOptions wires optional collaborators.
type HostOptions struct {
	// Liveness is fed on every loop iteration. Defaults to a fresh one.
	Liveness *Liveness
	// Recorder, if set, captures every fragment before it reaches the engine.
	Recorder *capture.Recorder
	Logger   *log.Logger
}

// Host is the cooperative main loop. One goroutine runs Run and is the only
// caller of the engine; producers hand fragments over with Submit.
type Host struct {
	engine    *transfer.Engine
	config    HostConfig
	fragments chan types.Fragment
	done      chan struct{}
	liveness  *Liveness
	recorder  *capture.Recorder
	logger    *log.Logger
}

// NewHost creates a host driving engine.
func NewHost(engine *transfer.Engine, config HostConfig, opts HostOptions) (*Host, error) {
	if engine == nil {
		return nil, errors.New("host: engine is required")
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if opts.Liveness == nil {
		opts.Liveness = NewLiveness(nil)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Host{
		engine:    engine,
		config:    config,
		fragments: make(chan types.Fragment, config.QueueSize),
		done:      make(chan struct{}),
		liveness:  opts.Liveness,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
	}, nil
}

// Liveness returns the loop's liveness record.
func (h *Host) Liveness() *Liveness { return h.liveness }

// Submit queues a fragment for the loop, blocking while the queue is full.
func (h *Host) Submit(ctx context.Context, f types.Fragment) error {
	select {
	case <-h.done:
		return ErrHostStopped
	default:
	}
	select {
	case h.fragments <- f:
		return nil
	case <-h.done:
		return ErrHostStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the engine until ctx is done. Startup recovery runs first;
// every session is released on exit.
func (h *Host) Run(ctx context.Context) error {
	defer close(h.done)

	if err := h.engine.Recover(); err != nil {
		h.logger.Warn("startup recovery incomplete", map[string]any{"error": err.Error()})
	}

	ticker := time.NewTicker(h.config.TickInterval)
	defer ticker.Stop()

	h.logger.Info("host loop started", map[string]any{
		"tick_ms":    h.config.TickInterval.Milliseconds(),
		"queue_size": h.config.QueueSize,
	})
	for {
		select {
		case <-ctx.Done():
			err := h.engine.Close()
			h.logger.Info("host loop stopped", nil)
			return err
		case f := <-h.fragments:
			h.deliver(f)
		case <-ticker.C:
			h.engine.PollWatchdog()
			h.engine.PollDelayedReset()
		}
		h.liveness.Feed()
	}
}

func (h *Host) deliver(f types.Fragment) {
	if h.recorder != nil {
		if err := h.recorder.Record(f.Channel, f.Data); err != nil {
			h.logger.Warn("capture record failed", map[string]any{"error": err.Error()})
		}
	}
	// The engine logs and counts its own rejections.
	if err := h.engine.OnWrite(f.Channel, f.Data); err != nil {
		h.logger.Debug("fragment rejected", map[string]any{
			"channel": f.Channel.String(),
			"size":    len(f.Data),
			"error":   err.Error(),
		})
	}
}
