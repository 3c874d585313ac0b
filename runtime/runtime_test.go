package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/pixelport/adapter"
	"github.com/pithecene-io/pixelport/capture"
	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/transfer"
	"github.com/pithecene-io/pixelport/types"
)

func testDeviceConfig(t *testing.T) DeviceConfig {
	t.Helper()
	cfg := DefaultDeviceConfig()
	cfg.SpoolDir = t.TempDir()
	return cfg
}

func stillPayload() []byte {
	b := make([]byte, 64*64*2)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func gifPayload(t *testing.T) []byte {
	t.Helper()
	pal := color.Palette{color.Black, color.White}
	g := &gif.GIF{}
	for i := range 2 {
		frame := image.NewPaletted(image.Rect(0, 0, 8, 8), pal)
		frame.SetColorIndex(i, i, 1)
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, 5)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

func synth(t *testing.T, ch types.Channel, payload []byte) []types.CaptureRecord {
	t.Helper()
	recs, err := capture.Synthesize(ch, payload, capture.SynthOptions{Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	return recs
}

func newCapture(recs ...[]types.CaptureRecord) *capture.Capture {
	c := &capture.Capture{Header: capture.NewHeader(512, "matrix-01")}
	for _, r := range recs {
		c.Records = append(c.Records, r...)
	}
	return c
}

func TestReplay_StillImage(t *testing.T) {
	c := newCapture(synth(t, types.ChannelImage, stillPayload()))
	var frame bytes.Buffer
	report, err := Replay(t.Context(), c, ReplayOptions{Device: testDeviceConfig(t), Frame: &frame})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if report.Outcome != OutcomeClean || report.ExitCode != ExitCodeClean {
		t.Errorf("outcome = %s (%s)", report.Outcome, report.Message)
	}
	sum := report.Channels["image"]
	if sum.Started != 1 || sum.Completed != 1 || sum.Content["still_image"] != 1 {
		t.Errorf("image summary = %+v", sum)
	}
	// Header plus ceil(8192/510) chunks.
	if sum.Fragments != 18 || sum.Bytes < 8192 {
		t.Errorf("fragments = %d, bytes = %d", sum.Fragments, sum.Bytes)
	}
	if report.Metrics == nil || report.Metrics.BytesReceived != 8192 {
		t.Errorf("metrics = %+v", report.Metrics)
	}

	img, err := png.Decode(&frame)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Errorf("frame bounds = %v", img.Bounds())
	}
}

func TestReplay_Animation(t *testing.T) {
	c := newCapture(synth(t, types.ChannelAnimation, gifPayload(t)))
	report, err := Replay(t.Context(), c, ReplayOptions{Device: testDeviceConfig(t)})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	anim := report.Channels["animation"]
	if anim.Completed != 1 || anim.Content["animation"] != 1 {
		t.Errorf("animation summary = %+v (%s)", anim, report.Message)
	}
}

func TestReplay_Truncated(t *testing.T) {
	recs := synth(t, types.ChannelImage, stillPayload())
	recs = recs[:len(recs)-1]

	tests := []struct {
		name     string
		noDrain  bool
		outcome  Outcome
		exitCode int
		resets   int64
	}{
		{"drained times out", false, OutcomeResets, ExitCodeResets, 1},
		{"undrained stays open", true, OutcomeIncomplete, ExitCodeIncomplete, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Replay(t.Context(), newCapture(recs), ReplayOptions{Device: testDeviceConfig(t), NoDrain: tt.noDrain})
			if err != nil {
				t.Fatalf("replay: %v", err)
			}
			if report.Outcome != tt.outcome || report.ExitCode != tt.exitCode {
				t.Errorf("outcome = %s/%d, want %s/%d", report.Outcome, report.ExitCode, tt.outcome, tt.exitCode)
			}
			sum := report.Channels["image"]
			if sum.Resets != tt.resets {
				t.Errorf("resets = %d, want %d", sum.Resets, tt.resets)
			}
			if tt.resets > 0 && sum.ResetReasons["timeout"] != 1 {
				t.Errorf("reasons = %v", sum.ResetReasons)
			}
		})
	}
}

func TestReplay_WatchdogBetweenRecords(t *testing.T) {
	recs := synth(t, types.ChannelImage, stillPayload())
	// A 31s gap before the last chunk trips the watchdog first.
	last := recs[len(recs)-1]
	last.OffsetMs += 31_000
	recs[len(recs)-1] = last

	report, err := Replay(t.Context(), newCapture(recs), ReplayOptions{Device: testDeviceConfig(t)})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	sum := report.Channels["image"]
	if sum.Completed != 0 || sum.ResetReasons["timeout"] != 1 {
		t.Errorf("image summary = %+v", sum)
	}
	if report.Metrics.StraysDropped != 1 {
		t.Errorf("strays = %d, want 1", report.Metrics.StraysDropped)
	}
}

func TestReplay_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := Replay(ctx, newCapture(synth(t, types.ChannelImage, stillPayload())), ReplayOptions{Device: testDeviceConfig(t)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDetermineOutcome(t *testing.T) {
	tests := []struct {
		name     string
		summary  ChannelSummary
		want     Outcome
		exitCode int
	}{
		{"clean", ChannelSummary{Started: 2, Completed: 2}, OutcomeClean, ExitCodeClean},
		{"resets", ChannelSummary{Started: 2, Completed: 1, Resets: 1}, OutcomeResets, ExitCodeResets},
		{"open", ChannelSummary{Started: 1, Open: true}, OutcomeIncomplete, ExitCodeIncomplete},
		{"empty", ChannelSummary{}, OutcomeEmpty, ExitCodeIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReplayReport()
			*r.Channels["image"] = tt.summary
			got, msg, code := DetermineOutcome(r)
			if got != tt.want || code != tt.exitCode || msg == "" {
				t.Errorf("got %s/%d %q, want %s/%d", got, code, msg, tt.want, tt.exitCode)
			}
		})
	}
}

func TestWriteReport(t *testing.T) {
	r := newReplayReport()
	r.Emit(types.TransferEvent{Type: types.EventSessionStarted, Channel: "image"})
	r.Emit(types.TransferEvent{Type: types.EventSessionReset, Channel: "image", Reason: types.ResetOverflow})
	r.Outcome, r.Message, r.ExitCode = DetermineOutcome(r)

	var buf bytes.Buffer
	if err := writeReportTo(r, &buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["outcome"] != "resets" || decoded["exit_code"] != float64(1) {
		t.Errorf("decoded = %v", decoded)
	}
	channels := decoded["channels"].(map[string]any)
	imageSum := channels["image"].(map[string]any)
	if imageSum["reset_reasons"].(map[string]any)["overflow"] != float64(1) {
		t.Errorf("image = %v", imageSum)
	}

	path := t.TempDir() + "/report.json"
	if err := WriteReport(r, path); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := WriteReport(r, ""); err == nil {
		t.Error("expected error for empty path")
	}
}

type eventCollector struct {
	ch chan types.TransferEvent
}

func (c *eventCollector) Emit(ev types.TransferEvent) { c.ch <- ev }

func waitEvent(t *testing.T, ch <-chan types.TransferEvent, typ types.TransferEventType) types.TransferEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestHost_DeliversFragmentsAndRecords(t *testing.T) {
	events := &eventCollector{ch: make(chan types.TransferEvent, 16)}
	device, err := NewDevice(testDeviceConfig(t), DeviceOptions{Events: events})
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	defer func() { _ = device.Close() }()

	var captured bytes.Buffer
	rec, err := capture.NewRecorder(&captured, capture.NewHeader(512, "matrix-01"), nil)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	host, err := NewHost(device.Engine, HostConfig{TickInterval: 10 * time.Millisecond}, HostOptions{Recorder: rec})
	if err != nil {
		t.Fatalf("host: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- host.Run(ctx) }()

	recs := synth(t, types.ChannelImage, stillPayload())
	for _, r := range recs {
		if err := host.Submit(ctx, types.Fragment{Channel: r.Channel, Data: r.Data}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	ev := waitEvent(t, events.ch, types.EventSessionCompleted)
	if ev.Content != types.ContentStillImage {
		t.Errorf("content = %s", ev.Content)
	}
	if device.Panel.Draws() == 0 {
		t.Error("panel was not drawn")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}
	if err := host.Submit(t.Context(), types.Fragment{}); !errors.Is(err, ErrHostStopped) {
		t.Errorf("submit after stop = %v", err)
	}
	if host.Liveness().Feeds() < int64(len(recs)) {
		t.Errorf("feeds = %d", host.Liveness().Feeds())
	}

	replayed, err := capture.Read(&captured)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if len(replayed.Records) != len(recs) {
		t.Errorf("recorded = %d, want %d", len(replayed.Records), len(recs))
	}
}

func TestLiveness(t *testing.T) {
	clock := transfer.NewManualClock(ReplayEpoch)
	l := NewLiveness(clock.Now)
	clock.Advance(3 * time.Second)
	if got := l.Age(); got != 3*time.Second {
		t.Errorf("age = %v", got)
	}
	l.Yielder().Yield()
	if l.Age() != 0 || l.Feeds() != 2 {
		t.Errorf("after yield: age = %v, feeds = %d", l.Age(), l.Feeds())
	}
}

type fakeAdapter struct {
	mu     sync.Mutex
	events []*adapter.Event
	err    error
	block  chan struct{}
	closed bool
}

func (f *fakeAdapter) Publish(_ context.Context, ev *adapter.Event) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestPublisher_ForwardsAndDrains(t *testing.T) {
	a := &fakeAdapter{}
	m := metrics.NewCollector("matrix-01", "memory", "fake")
	p, err := NewPublisher(a, "matrix-01", PublisherOptions{Metrics: m})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(t.Context())
	for range 3 {
		p.Emit(types.TransferEvent{Type: types.EventSessionStarted, Channel: "image"})
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(a.events) != 3 || !a.closed {
		t.Fatalf("events = %d, closed = %v", len(a.events), a.closed)
	}
	if a.events[0].DeviceID != "matrix-01" || a.events[0].ContractVersion != types.EventContractVersion {
		t.Errorf("event = %+v", a.events[0])
	}
	if snap := m.Snapshot(); snap.EventsPublished != 3 {
		t.Errorf("published = %d", snap.EventsPublished)
	}

	p.Emit(types.TransferEvent{Type: types.EventSessionStarted})
	if snap := m.Snapshot(); snap.EventsDropped != 1 {
		t.Errorf("dropped after close = %d", snap.EventsDropped)
	}
}

func TestPublisher_DropsWhenFull(t *testing.T) {
	a := &fakeAdapter{block: make(chan struct{})}
	m := metrics.NewCollector("matrix-01", "memory", "fake")
	p, err := NewPublisher(a, "matrix-01", PublisherOptions{QueueSize: 2, Metrics: m})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// Not started: nothing drains the queue.
	for range 5 {
		p.Emit(types.TransferEvent{Type: types.EventSessionReset, Channel: "animation"})
	}
	if snap := m.Snapshot(); snap.EventsDropped != 3 {
		t.Errorf("dropped = %d, want 3", snap.EventsDropped)
	}
	close(a.block)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(a.events) != 2 {
		t.Errorf("published = %d, want 2", len(a.events))
	}
}

func TestPublisher_CountsFailures(t *testing.T) {
	a := &fakeAdapter{err: errors.New("broker down")}
	m := metrics.NewCollector("matrix-01", "memory", "fake")
	p, err := NewPublisher(a, "matrix-01", PublisherOptions{Metrics: m})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(t.Context())
	p.Emit(types.TransferEvent{Type: types.EventSessionCompleted, Channel: "image"})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if snap := m.Snapshot(); snap.EventPublishErrors != 1 || snap.EventsPublished != 0 {
		t.Errorf("metrics = %+v", snap)
	}
	if _, err := NewPublisher(nil, "x", PublisherOptions{}); err == nil {
		t.Error("expected error for nil adapter")
	}
}

func TestNewDevice_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DeviceConfig)
	}{
		{"no primary", func(c *DeviceConfig) { c.PrimaryCapacity = 0 }},
		{"negative secondary", func(c *DeviceConfig) { c.SecondaryCapacity = -1 }},
		{"no spool dir", func(c *DeviceConfig) { c.SpoolDir = "" }},
		{"bad panel", func(c *DeviceConfig) { c.Dispatch.Panel.Width = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testDeviceConfig(t)
			tt.mutate(&cfg)
			if _, err := NewDevice(cfg, DeviceOptions{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
