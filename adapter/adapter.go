// Package adapter defines the boundary for publishing transfer lifecycle
// events to downstream systems.
//
// The host owns adapter lifecycle and publishes from a goroutine separate
// from the transfer engine; users provide configuration only.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/pixelport/types"
)

// Event is the payload published for each transfer event.
type Event struct {
	ContractVersion string `json:"contract_version"`
	DeviceID        string `json:"device_id"`
	types.TransferEvent
}

// NewEvent stamps ev with the contract version and device.
func NewEvent(deviceID string, ev types.TransferEvent) *Event {
	return &Event{
		ContractVersion: types.EventContractVersion,
		DeviceID:        deviceID,
		TransferEvent:   ev,
	}
}

// Adapter publishes transfer events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}

// DefaultBackoff is the delay before the first retry; it doubles per attempt.
const DefaultBackoff = 500 * time.Millisecond

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when ctx ends or permanent reports true for an
// error. permanent may be nil.
func Retry(ctx context.Context, retries int, backoff time.Duration, fn func(context.Context) error, permanent func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff << (i - 1)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// Multi publishes every event to each adapter in turn.
type Multi []Adapter

// Publish sends event to every adapter and joins their errors.
func (m Multi) Publish(ctx context.Context, event *Event) error {
	var errs []error
	for _, a := range m {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every adapter.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Adapter = Multi(nil)
