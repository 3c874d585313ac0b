package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pithecene-io/pixelport/archive"
	"github.com/pithecene-io/pixelport/capture"
	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/transfer"
	"github.com/pithecene-io/pixelport/types"
)

// ReplayEpoch is the manual clock reading at a capture's zero offset.
var ReplayEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ReplayOptions configures Replay.
type ReplayOptions struct {
	Device DeviceConfig
	// NoDrain skips advancing the clock past the timeout and grace period
	// after the last record, leaving open sessions visible in the report.
	NoDrain bool
	// Frame, if set, receives the panel's final frame as PNG.
	Frame    io.Writer
	Archiver *archive.Archiver
	Logger   *log.Logger
	// Metrics defaults to a fresh collector.
	Metrics *metrics.Collector
}

// Replay drives a fresh device with the records of c on a manual clock.
// Record offsets become clock readings; the watchdog and delayed reset are
// polled before every write as the host loop would between fragments.
// When Device.SpoolDir is empty a temporary directory is used.
func Replay(ctx context.Context, c *capture.Capture, opts ReplayOptions) (*ReplayReport, error) {
	cfg := opts.Device
	if c.Header.MTU > 0 {
		cfg.Transfer.MTU = c.Header.MTU
	}
	if cfg.SpoolDir == "" {
		dir, err := os.MkdirTemp("", "pixelport-replay-")
		if err != nil {
			return nil, fmt.Errorf("replay spool dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		cfg.SpoolDir = dir
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector(c.Header.DeviceID, "replay", "")
	}

	report := newReplayReport()
	report.DeviceID = c.Header.DeviceID
	report.Version = c.Header.Version
	report.MTU = cfg.Transfer.MTU
	report.Records = len(c.Records)
	report.Skipped = c.Skipped
	report.DurationMs = c.Duration().Milliseconds()

	clock := transfer.NewManualClock(ReplayEpoch)
	device, err := NewDevice(cfg, DeviceOptions{
		Clock:    clock,
		Events:   report,
		Archiver: opts.Archiver,
		Logger:   opts.Logger,
		Metrics:  collector,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = device.Close() }()

	engine := device.Engine
	for _, rec := range c.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at := ReplayEpoch.Add(time.Duration(rec.OffsetMs) * time.Millisecond)
		if at.After(clock.Now()) {
			clock.Set(at)
		}
		engine.PollWatchdog()
		engine.PollDelayedReset()

		if cs, ok := report.Channels[rec.Channel.String()]; ok {
			cs.Fragments++
			cs.Bytes += int64(len(rec.Data))
		}
		// Rejections surface as reset events and metrics.
		_ = engine.OnWrite(rec.Channel, rec.Data)
	}

	if !opts.NoDrain {
		clock.Advance(cfg.Transfer.Timeout + cfg.Transfer.GracePeriod + time.Millisecond)
		engine.PollWatchdog()
		engine.PollDelayedReset()
	}
	for _, ch := range types.Channels {
		if engine.Snapshot(ch).State == types.StateAwaitingData {
			report.Channels[ch.String()].Open = true
		}
	}

	if opts.Frame != nil {
		if err := device.Panel.WritePNG(opts.Frame); err != nil {
			return nil, fmt.Errorf("write frame: %w", err)
		}
	}

	snap := collector.Snapshot()
	report.Metrics = &snap
	report.Outcome, report.Message, report.ExitCode = DetermineOutcome(report)
	return report, nil
}
