// Package transfer implements the per-channel transfer session state machine:
// header acceptance, chunk accumulation, completion and dispatch, the
// inactivity watchdog and the post-dispatch grace window.
//
// An Engine is not safe for concurrent use. The host drives it from a single
// goroutine that serializes fragment delivery and timer polls.
package transfer

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/pixelport/iox"
	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/storage"
	"github.com/pithecene-io/pixelport/types"
	"github.com/pithecene-io/pixelport/wire"
)

// Dispatcher classifies completed artifacts and hands them to render sinks.
type Dispatcher interface {
	// Dispatch takes ownership of a on success. On error the caller keeps
	// ownership and releases it.
	Dispatch(a *storage.Artifact) (types.ContentKind, error)
	// StopAnimation ends any animation playback before its spool path is reused.
	StopAnimation()
}

// EventSink receives lifecycle events. Emit must not block.
type EventSink interface {
	Emit(ev types.TransferEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(types.TransferEvent)

// Emit calls f.
func (f EventSinkFunc) Emit(ev types.TransferEvent) { f(ev) }

// Options wires an Engine to its collaborators.
type Options struct {
	// Selector chooses backings. Required.
	Selector *storage.Selector
	// Dispatcher receives completed artifacts. Required.
	Dispatcher Dispatcher
	// Clock defaults to SystemClock.
	Clock TimeProvider
	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
	// Events is optional.
	Events EventSink
}

// Engine owns one Session per channel.
type Engine struct {
	config     Config
	selector   *storage.Selector
	dispatcher Dispatcher
	clock      TimeProvider
	logger     *log.Logger
	metrics    *metrics.Collector
	events     EventSink

	sessions [types.ChannelCount]*Session
}

// NewEngine creates an engine with every session Idle.
func NewEngine(config Config, opts Options) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if opts.Selector == nil {
		return nil, errors.New("transfer: selector is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("transfer: dispatcher is required")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}

	e := &Engine{
		config:     config,
		selector:   opts.Selector,
		dispatcher: opts.Dispatcher,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		events:     opts.Events,
	}
	for _, ch := range types.Channels {
		e.sessions[ch] = newSession(ch)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// Snapshot returns the observable state of ch's session.
func (e *Engine) Snapshot(ch types.Channel) SessionSnapshot {
	if !ch.Valid() {
		return SessionSnapshot{Channel: ch}
	}
	return e.sessions[ch].snapshot()
}

// OnWrite routes one raw wireless write on ch to the header or data path.
//
// Animation writes are typed packets: 0x01 goes to OnHeaderFragment with the
// whole packet and 0x02 to OnDataFragment with the prefix stripped. Short or
// unknown packets are dropped. Image writes are data while a session awaits
// data; otherwise a write shaped like "<size>,<count>" is a header and
// anything else is a stray data fragment.
//
// An image header re-sent mid-transfer is therefore appended as payload and
// usually ends the session with an overflow. Callers that can tell header
// writes apart superseding an image transfer call OnHeaderFragment directly.
func (e *Engine) OnWrite(ch types.Channel, b []byte) error {
	switch ch {
	case types.ChannelAnimation:
		p, err := wire.DecodePacket(b)
		if err != nil {
			e.metrics.IncPacketRejected()
			e.logger.Debug("packet dropped", map[string]any{
				"channel": ch.String(),
				"length":  len(b),
				"error":   err.Error(),
			})
			return nil
		}
		if p.Type == wire.PacketHeader {
			return e.OnHeaderFragment(ch, b)
		}
		return e.OnDataFragment(ch, p.Payload)
	case types.ChannelImage:
		if e.sessions[ch].state != types.StateAwaitingData && wire.LooksLikeImageHeader(b) {
			return e.OnHeaderFragment(ch, b)
		}
		return e.OnDataFragment(ch, b)
	default:
		return fmt.Errorf("transfer: unknown channel %d", ch)
	}
}

// OnHeaderFragment starts a session on ch from a header fragment: the
// "<size>,<count>" text on the image channel, or the whole 0x01 packet on
// the animation channel.
//
// Any previous session on ch is discarded first. A header that fails to
// parse leaves ch Idle and is reported as a *types.TransferError; nothing
// is allocated for it.
func (e *Engine) OnHeaderFragment(ch types.Channel, b []byte) error {
	if !ch.Valid() {
		return fmt.Errorf("transfer: unknown channel %d", ch)
	}
	s := e.sessions[ch]

	var (
		h   wire.Header
		err error
	)
	if ch == types.ChannelImage {
		h, err = wire.ParseImageHeader(b, e.config.MaxArtifactSize)
	} else {
		h, err = wire.ParseAnimationHeader(b, e.config.MTU, e.config.MaxArtifactSize)
	}
	if err != nil {
		// The dispatched artifact is done with; the reset describes the
		// rejected header alone.
		if s.state == types.StateComplete {
			e.expire(s)
		}
		e.fail(s, err)
		return err
	}

	switch s.state {
	case types.StateAwaitingData:
		e.reset(s, types.ResetSupersede, nil)
	case types.StateComplete:
		e.expire(s)
	}

	if ch == types.ChannelAnimation {
		e.dispatcher.StopAnimation()
	}

	backing, d, err := e.selector.Select(ch, h.ExpectedBytes)
	if err != nil {
		e.fail(s, err)
		return err
	}

	now := e.clock.Now()
	s.begin(h.ExpectedBytes, h.ExpectedChunks, backing, d, now)

	e.metrics.IncSessionStarted()
	e.metrics.IncBacking(d.Kind == types.BackingSpool, d.Rung.Fallback(), d.Compacted)
	e.emit(s.event(types.EventSessionStarted, now))
	e.logger.Info("session started", withFields(s.fields(), map[string]any{
		"backing": d.Kind.String(),
		"rung":    string(d.Rung),
	}))
	return nil
}

// OnDataFragment appends payload to ch's session. For the animation channel
// payload is the packet body with its two-byte prefix removed.
//
// Fragments with no session to receive them are dropped without a reset, as
// are stragglers inside the post-dispatch grace window. A fragment that
// would exceed the declared size resets the session.
func (e *Engine) OnDataFragment(ch types.Channel, payload []byte) error {
	if !ch.Valid() {
		return fmt.Errorf("transfer: unknown channel %d", ch)
	}
	s := e.sessions[ch]
	now := e.clock.Now()

	switch s.state {
	case types.StateComplete:
		if s.inGrace(now) {
			e.metrics.IncStragglerDropped()
			e.logger.Debug("straggler dropped", map[string]any{
				"channel": ch.String(),
				"length":  len(payload),
			})
			return nil
		}
		e.expire(s)
	case types.StateAwaitingData:
		if s.stalled(now, e.config.Timeout) {
			e.reset(s, types.ResetTimeout, nil)
		}
	}

	if s.state != types.StateAwaitingData || s.backing == nil {
		e.metrics.IncStrayDropped()
		e.logger.Debug("stray fragment dropped", map[string]any{
			"channel": ch.String(),
			"length":  len(payload),
		})
		return nil
	}
	if len(payload) == 0 {
		return nil
	}

	if s.receivedBytes+int64(len(payload)) > s.expectedBytes {
		err := types.NewTransferError(types.ErrOverflow, ch,
			fmt.Sprintf("fragment of %d bytes at %d/%d", len(payload), s.receivedBytes, s.expectedBytes), nil)
		e.fail(s, err)
		return err
	}

	if err := s.backing.Append(payload); err != nil {
		terr := types.NewTransferError(types.ErrStorageIO, ch, "append fragment", err)
		e.fail(s, terr)
		return terr
	}
	s.receivedBytes += int64(len(payload))
	s.receivedChunks++
	s.lastActivity = now
	e.metrics.AddChunk(len(payload))

	if s.receivedChunks%e.config.MemoryCheckInterval == 0 {
		e.checkMemory(s)
	}
	if s.receivedChunks%e.config.ProgressInterval == 0 {
		e.logger.Info("transfer progress", withFields(s.fields(), map[string]any{
			"percent":      s.receivedBytes * 100 / s.expectedBytes,
			"primary_free": e.selector.Primary().Free(),
		}))
	}

	if s.satisfied() {
		return e.complete(s)
	}
	return nil
}

// PollWatchdog resets every session that has awaited data longer than the
// timeout and returns how many were reset.
func (e *Engine) PollWatchdog() int {
	now := e.clock.Now()
	n := 0
	for _, s := range e.sessions {
		if s.stalled(now, e.config.Timeout) {
			e.reset(s, types.ResetTimeout, nil)
			n++
		}
	}
	return n
}

// PollDelayedReset returns every completed session whose grace window has
// passed to Idle and returns how many were reset. Dispatched artifacts are
// owned by their render sinks and are not touched.
func (e *Engine) PollDelayedReset() int {
	now := e.clock.Now()
	n := 0
	for _, s := range e.sessions {
		if s.state == types.StateComplete && !s.inGrace(now) {
			e.expire(s)
			n++
		}
	}
	return n
}

// Recover releases every session and removes spool files left on storage
// by a previous process. Call once at startup.
func (e *Engine) Recover() error {
	var errs []error
	for _, s := range e.sessions {
		if s.state != types.StateIdle {
			e.reset(s, types.ResetRecovery, nil)
		}
		path := e.selector.SpoolPath(s.channel)
		removed, err := iox.RemoveIfExists(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		if removed {
			e.logger.Info("stale spool removed", map[string]any{
				"channel": s.channel.String(),
				"path":    path,
			})
		}
		links, err := storage.StagedLinks(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("list staged links of %s: %w", path, err))
			continue
		}
		for _, link := range links {
			if _, err := iox.RemoveIfExists(link); err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", link, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close releases every session's backing without emitting events.
func (e *Engine) Close() error {
	var errs []error
	for _, s := range e.sessions {
		if s.backing != nil {
			if err := s.backing.Release(); err != nil {
				errs = append(errs, err)
			}
		}
		s.zero()
	}
	return errors.Join(errs...)
}

// complete verifies, detaches and dispatches a satisfied session.
func (e *Engine) complete(s *Session) error {
	e.metrics.IncSessionCompleted()

	if gap := s.expectedBytes - s.receivedBytes; gap > e.config.CompletionSlack {
		err := types.NewTransferError(types.ErrCorrupt, s.channel,
			fmt.Sprintf("chunk count reached %d bytes short (slack %d)", gap, e.config.CompletionSlack), nil)
		e.fail(s, err)
		return err
	}

	if sb, ok := s.backing.(*storage.SpoolBacking); ok {
		size, err := sb.OnDiskSize()
		if err == nil && size != s.receivedBytes {
			err = fmt.Errorf("on-disk size %d, received %d", size, s.receivedBytes)
		}
		if err != nil {
			terr := types.NewTransferError(types.ErrStorageIO, s.channel, "verify spool", err)
			e.fail(s, terr)
			return terr
		}
	}

	artifact, err := s.backing.Detach(s.channel)
	if err != nil {
		terr := types.NewTransferError(types.ErrStorageIO, s.channel, "detach artifact", err)
		e.fail(s, terr)
		return terr
	}
	s.backing = nil

	kind, err := e.dispatcher.Dispatch(artifact)
	if err != nil {
		if rerr := artifact.Release(); rerr != nil {
			e.logger.Warn("artifact release failed", map[string]any{
				"channel": s.channel.String(),
				"error":   rerr.Error(),
			})
		}
		e.metrics.IncDispatchFailure()
		e.reset(s, types.ResetDispatchFailed, err)
		return fmt.Errorf("dispatch %s: %w", s.channel, err)
	}

	now := e.clock.Now()
	s.state = types.StateComplete
	s.resetDeadline = now.Add(e.config.GracePeriod)

	e.metrics.IncDispatched(string(kind))
	ev := s.event(types.EventSessionCompleted, now)
	ev.Content = kind
	e.emit(ev)
	e.logger.Info("session completed", withFields(s.fields(), map[string]any{
		"content":     string(kind),
		"duration_ms": now.Sub(s.startedAt).Milliseconds(),
	}))
	return nil
}

func (e *Engine) checkMemory(s *Session) {
	tel := e.selector.Telemetry()
	if tel.PrimaryFree >= e.config.LowMemoryWarning {
		return
	}
	e.metrics.IncLowMemoryWarning()
	e.logger.Warn("low memory during transfer", map[string]any{
		"channel":        s.channel.String(),
		"primary_free":   tel.PrimaryFree,
		"min_free":       tel.PrimaryMinFree,
		"received_bytes": s.receivedBytes,
	})
}

// fail resets s for a classified error.
func (e *Engine) fail(s *Session, err error) {
	e.reset(s, types.ReasonForKind(types.KindOf(err)), err)
}

// reset releases s's backing and returns it to Idle.
func (e *Engine) reset(s *Session, reason types.ResetReason, cause error) {
	now := e.clock.Now()
	prev := s.state
	s.state = types.StateError

	if s.backing != nil {
		if err := s.backing.Release(); err != nil {
			e.logger.Warn("backing release failed", map[string]any{
				"channel": s.channel.String(),
				"error":   err.Error(),
			})
		}
		s.backing = nil
	}

	ev := s.event(types.EventSessionReset, now)
	ev.Reason = reason
	fields := withFields(s.fields(), map[string]any{
		"reason":     string(reason),
		"from_state": prev.String(),
	})
	if cause != nil {
		fields["error"] = cause.Error()
	}

	s.zero()
	e.metrics.IncReset(string(reason))
	e.emit(ev)
	e.logger.Warn("session reset", fields)
}

// expire ends a completed session's grace window.
func (e *Engine) expire(s *Session) {
	e.logger.Debug("grace window ended", map[string]any{
		"channel": s.channel.String(),
		"reason":  string(types.ResetDelayed),
	})
	s.zero()
}

func (e *Engine) emit(ev types.TransferEvent) {
	if e.events != nil {
		e.events.Emit(ev)
	}
}

func withFields(base, extra map[string]any) map[string]any {
	for k, v := range extra {
		base[k] = v
	}
	return base
}
