package types

import "time"

// ResetReason records why a session returned to Idle.
type ResetReason string

// Reset reasons.
const (
	ResetTimeout         ResetReason = "timeout"
	ResetHeaderMalformed ResetReason = "header_malformed"
	ResetSizeOutOfRange  ResetReason = "size_out_of_range"
	ResetOverflow        ResetReason = "overflow"
	ResetSupersede       ResetReason = "supersede"
	ResetStorageIO       ResetReason = "storage_io"
	ResetCorrupt         ResetReason = "corrupt"
	ResetDispatchFailed  ResetReason = "dispatch_failed"
	ResetDelayed         ResetReason = "delayed"
	ResetRecovery        ResetReason = "recovery"
)

// ReasonForKind maps an error kind to the reset it causes.
func ReasonForKind(kind ErrorKind) ResetReason {
	switch kind {
	case ErrHeaderMalformed:
		return ResetHeaderMalformed
	case ErrSizeOutOfRange:
		return ResetSizeOutOfRange
	case ErrOverflow:
		return ResetOverflow
	case ErrTimeout:
		return ResetTimeout
	case ErrCorrupt:
		return ResetCorrupt
	default:
		return ResetStorageIO
	}
}

// TransferEventType discriminates TransferEvent.
type TransferEventType string

// Transfer event types.
const (
	EventSessionStarted   TransferEventType = "session_started"
	EventSessionCompleted TransferEventType = "session_completed"
	EventSessionReset     TransferEventType = "session_reset"
)

// ContentKind is the classification of a completed artifact.
type ContentKind string

// Content kinds.
const (
	ContentAnimation  ContentKind = "animation"
	ContentStillImage ContentKind = "still_image"
)

// TransferEvent is emitted by the engine on session lifecycle edges.
// Emission never blocks the engine; hosts forward events to adapters.
type TransferEvent struct {
	Type           TransferEventType `json:"event_type"`
	Channel        string            `json:"channel"`
	Backing        string            `json:"backing,omitempty"`
	Content        ContentKind       `json:"content,omitempty"`
	Reason         ResetReason       `json:"reason,omitempty"`
	ExpectedBytes  int64             `json:"expected_bytes"`
	ReceivedBytes  int64             `json:"received_bytes"`
	ExpectedChunks int64             `json:"expected_chunks"`
	ReceivedChunks int64             `json:"received_chunks"`
	Timestamp      time.Time         `json:"timestamp"`
}
