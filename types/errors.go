package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transfer failures.
type ErrorKind int

const (
	// ErrHeaderMalformed indicates a header that could not be parsed.
	ErrHeaderMalformed ErrorKind = iota + 1
	// ErrSizeOutOfRange indicates a declared size of 0 or above the maximum.
	ErrSizeOutOfRange
	// ErrAllocationFailed indicates a buffer allocation failure.
	ErrAllocationFailed
	// ErrStorageIO indicates a spool create, write or read failure.
	ErrStorageIO
	// ErrOverflow indicates a fragment that would exceed the declared size.
	ErrOverflow
	// ErrTimeout indicates a stalled session.
	ErrTimeout
	// ErrContentUnrecognized indicates an artifact without a known signature.
	// It selects the still-image fallback and is not a failure.
	ErrContentUnrecognized
	// ErrCorrupt indicates a chunk-complete artifact whose byte gap exceeds the slack.
	ErrCorrupt
)

// String returns the kind name used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case ErrHeaderMalformed:
		return "header_malformed"
	case ErrSizeOutOfRange:
		return "size_out_of_range"
	case ErrAllocationFailed:
		return "allocation_failed"
	case ErrStorageIO:
		return "storage_io"
	case ErrOverflow:
		return "overflow"
	case ErrTimeout:
		return "timeout"
	case ErrContentUnrecognized:
		return "content_unrecognized"
	case ErrCorrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// TransferError is a classified failure on one channel.
type TransferError struct {
	Kind    ErrorKind
	Channel Channel
	Msg     string
	Err     error
}

// NewTransferError builds a TransferError.
func NewTransferError(kind ErrorKind, ch Channel, msg string, err error) *TransferError {
	return &TransferError{Kind: kind, Channel: ch, Msg: msg, Err: err}
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Channel, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Channel, e.Kind, e.Msg)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether the device continues after this error.
// Every kind resets at most the owning channel's session, so this always
// holds; it exists so callers do not hard-code that assumption.
func (e *TransferError) IsRecoverable() bool {
	return true
}

// KindOf returns the ErrorKind of err, or 0 if err is not a TransferError.
func KindOf(err error) ErrorKind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsKind reports whether err is a TransferError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
