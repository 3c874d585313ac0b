package dispatch

import (
	"sync"

	"github.com/pithecene-io/pixelport/types"
)

// Host is the display controller's mode state as seen by the dispatcher.
type Host interface {
	// SetDisplayFlag sets or clears a "currently displaying" flag.
	SetDisplayFlag(kind types.DisplayKind, on bool)
	// StopCompetingModes ends clock, scroll text and other modes that draw
	// on the panel.
	StopCompetingModes()
}

// FlagHost is an in-process Host. Clearing the animation flag invokes the
// callback given to NewFlagHost, which is how playback is stopped.
type FlagHost struct {
	onAnimationCleared func()

	mu        sync.Mutex
	flags     [2]bool
	competing map[string]func()
	stops     int
}

// NewFlagHost creates a host with every flag cleared. onAnimationCleared may
// be nil.
func NewFlagHost(onAnimationCleared func()) *FlagHost {
	return &FlagHost{
		onAnimationCleared: onAnimationCleared,
		competing:          make(map[string]func()),
	}
}

// AddCompetingMode registers stop to be called by StopCompetingModes.
func (h *FlagHost) AddCompetingMode(name string, stop func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.competing[name] = stop
}

// SetDisplayFlag implements Host.
func (h *FlagHost) SetDisplayFlag(kind types.DisplayKind, on bool) {
	if int(kind) >= len(h.flags) {
		return
	}
	h.mu.Lock()
	h.flags[kind] = on
	h.mu.Unlock()

	if kind == types.DisplayAnimation && !on && h.onAnimationCleared != nil {
		h.onAnimationCleared()
	}
}

// StopCompetingModes implements Host.
func (h *FlagHost) StopCompetingModes() {
	h.mu.Lock()
	h.stops++
	stops := make([]func(), 0, len(h.competing))
	for _, stop := range h.competing {
		stops = append(stops, stop)
	}
	h.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// Flag reports whether kind is set.
func (h *FlagHost) Flag(kind types.DisplayKind) bool {
	if int(kind) >= len(h.flags) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags[kind]
}

// Stops returns how many times competing modes were stopped.
func (h *FlagHost) Stops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}
