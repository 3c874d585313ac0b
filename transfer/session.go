package transfer

import (
	"time"

	"github.com/pithecene-io/pixelport/storage"
	"github.com/pithecene-io/pixelport/types"
)

// Session is the live state of one channel's transfer.
// Counters are zero and backing is nil whenever state is Idle.
type Session struct {
	channel types.Channel
	state   types.SessionState

	expectedBytes  int64
	expectedChunks int64
	receivedBytes  int64
	receivedChunks int64

	backing  storage.Backing
	decision storage.Decision

	startedAt     time.Time
	lastActivity  time.Time
	resetDeadline time.Time
}

func newSession(ch types.Channel) *Session {
	return &Session{channel: ch}
}

// SessionSnapshot is a copy of a session's observable state.
type SessionSnapshot struct {
	Channel        types.Channel      `json:"channel"`
	State          types.SessionState `json:"state"`
	Backing        types.BackingKind  `json:"backing"`
	ExpectedBytes  int64              `json:"expected_bytes"`
	ExpectedChunks int64              `json:"expected_chunks"`
	ReceivedBytes  int64              `json:"received_bytes"`
	ReceivedChunks int64              `json:"received_chunks"`
	LastActivity   time.Time          `json:"last_activity"`
	ResetDeadline  time.Time          `json:"reset_deadline"`
}

func (s *Session) snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		Channel:        s.channel,
		State:          s.state,
		ExpectedBytes:  s.expectedBytes,
		ExpectedChunks: s.expectedChunks,
		ReceivedBytes:  s.receivedBytes,
		ReceivedChunks: s.receivedChunks,
		LastActivity:   s.lastActivity,
		ResetDeadline:  s.resetDeadline,
	}
	if s.backing != nil {
		snap.Backing = s.backing.Kind()
	}
	return snap
}

func (s *Session) begin(expectedBytes, expectedChunks int64, b storage.Backing, d storage.Decision, now time.Time) {
	s.state = types.StateAwaitingData
	s.expectedBytes = expectedBytes
	s.expectedChunks = expectedChunks
	s.receivedBytes = 0
	s.receivedChunks = 0
	s.backing = b
	s.decision = d
	s.startedAt = now
	s.lastActivity = now
	s.resetDeadline = time.Time{}
}

// zero returns the session to Idle. The caller must have released or
// detached the backing.
func (s *Session) zero() {
	*s = Session{channel: s.channel}
}

func (s *Session) stalled(now time.Time, timeout time.Duration) bool {
	return s.state == types.StateAwaitingData && now.Sub(s.lastActivity) > timeout
}

func (s *Session) inGrace(now time.Time) bool {
	return s.state == types.StateComplete && now.Before(s.resetDeadline)
}

// satisfied reports completion by bytes or by chunk count.
func (s *Session) satisfied() bool {
	return s.receivedBytes >= s.expectedBytes || s.receivedChunks >= s.expectedChunks
}

func (s *Session) event(typ types.TransferEventType, now time.Time) types.TransferEvent {
	ev := types.TransferEvent{
		Type:           typ,
		Channel:        s.channel.String(),
		ExpectedBytes:  s.expectedBytes,
		ReceivedBytes:  s.receivedBytes,
		ExpectedChunks: s.expectedChunks,
		ReceivedChunks: s.receivedChunks,
		Timestamp:      now,
	}
	if s.decision.Kind != types.BackingNone {
		ev.Backing = s.decision.Kind.String()
	}
	return ev
}

func (s *Session) fields() map[string]any {
	return map[string]any{
		"channel":         s.channel.String(),
		"state":           s.state.String(),
		"expected_bytes":  s.expectedBytes,
		"expected_chunks": s.expectedChunks,
		"received_bytes":  s.receivedBytes,
		"received_chunks": s.receivedChunks,
	}
}
