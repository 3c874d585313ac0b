// Package metrics provides device-lifetime transfer metrics.
//
// The Collector accumulates counters while the host runs. It is a leaf
// package with no internal dependencies; reset reasons and content kinds are
// passed as strings to keep it free of the types package.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted    int64
	SessionsCompleted  int64
	SessionsDispatched int64
	DispatchFailures   int64
	Resets             int64
	ResetsByReason     map[string]int64
	DispatchedByKind   map[string]int64

	// Storage selection
	MemoryBackings  int64
	SpoolBackings   int64
	LadderFallbacks int64
	Compactions     int64

	// Accumulation
	ChunksReceived    int64
	BytesReceived     int64
	LowMemoryWarnings int64
	StraysDropped     int64
	StragglersDropped int64
	PacketsRejected   int64

	// Outbound
	EventsPublished    int64
	EventPublishErrors int64
	EventsDropped      int64
	ArchiveWrites      int64
	ArchiveFailures    int64
	ArchiveDropped     int64

	// Bridge
	BridgeConnections int64
	BridgeMessages    int64
	BridgeRejected    int64

	// Dimensions (informational, set at construction)
	DeviceID       string
	StorageBackend string
	Adapter        string
}

// Collector accumulates metrics for one device process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted    int64
	sessionsCompleted  int64
	sessionsDispatched int64
	dispatchFailures   int64
	resets             int64
	resetsByReason     map[string]int64
	dispatchedByKind   map[string]int64

	memoryBackings  int64
	spoolBackings   int64
	ladderFallbacks int64
	compactions     int64

	chunksReceived    int64
	bytesReceived     int64
	lowMemoryWarnings int64
	straysDropped     int64
	stragglersDropped int64
	packetsRejected   int64

	eventsPublished    int64
	eventPublishErrors int64
	eventsDropped      int64
	archiveWrites      int64
	archiveFailures    int64
	archiveDropped     int64

	bridgeConnections int64
	bridgeMessages    int64
	bridgeRejected    int64

	deviceID       string
	storageBackend string
	adapter        string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend and adapter may be empty when archiving or publishing is off.
func NewCollector(deviceID, storageBackend, adapter string) *Collector {
	return &Collector{
		resetsByReason:   make(map[string]int64),
		dispatchedByKind: make(map[string]int64),
		deviceID:         deviceID,
		storageBackend:   storageBackend,
		adapter:          adapter,
	}
}

func (c *Collector) add(p *int64, n int64) {
	c.mu.Lock()
	*p += n
	c.mu.Unlock()
}

// --- Session lifecycle ---

// IncSessionStarted records an accepted header.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.add(&c.sessionsStarted, 1)
}

// IncSessionCompleted records a session reaching its declared size or chunk count.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.add(&c.sessionsCompleted, 1)
}

// IncDispatched records a successful handoff to a render sink.
func (c *Collector) IncDispatched(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsDispatched++
	c.dispatchedByKind[kind]++
	c.mu.Unlock()
}

// IncDispatchFailure records a render sink rejecting an artifact.
func (c *Collector) IncDispatchFailure() {
	if c == nil {
		return
	}
	c.add(&c.dispatchFailures, 1)
}

// IncReset records a session reset with its reason.
func (c *Collector) IncReset(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.resets++
	c.resetsByReason[reason]++
	c.mu.Unlock()
}

// --- Storage selection ---

// IncBacking records a selector decision. fallback marks a memory-to-spool
// fallback; compacted marks a Compact retry.
func (c *Collector) IncBacking(spool, fallback, compacted bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if spool {
		c.spoolBackings++
	} else {
		c.memoryBackings++
	}
	if fallback {
		c.ladderFallbacks++
	}
	if compacted {
		c.compactions++
	}
	c.mu.Unlock()
}

// --- Accumulation ---

// AddChunk records an accepted data fragment of n bytes.
func (c *Collector) AddChunk(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksReceived++
	c.bytesReceived += int64(n)
	c.mu.Unlock()
}

// IncLowMemoryWarning records a periodic sample below the warning level.
func (c *Collector) IncLowMemoryWarning() {
	if c == nil {
		return
	}
	c.add(&c.lowMemoryWarnings, 1)
}

// IncStrayDropped records a data fragment with no session to receive it.
func (c *Collector) IncStrayDropped() {
	if c == nil {
		return
	}
	c.add(&c.straysDropped, 1)
}

// IncStragglerDropped records a data fragment ignored during the grace window.
func (c *Collector) IncStragglerDropped() {
	if c == nil {
		return
	}
	c.add(&c.stragglersDropped, 1)
}

// IncPacketRejected records a packet with a short prefix or unknown type.
func (c *Collector) IncPacketRejected() {
	if c == nil {
		return
	}
	c.add(&c.packetsRejected, 1)
}

// --- Outbound ---

// IncEventPublished records an event delivered to the adapter.
func (c *Collector) IncEventPublished() {
	if c == nil {
		return
	}
	c.add(&c.eventsPublished, 1)
}

// IncEventPublishError records an adapter publish failure.
func (c *Collector) IncEventPublishError() {
	if c == nil {
		return
	}
	c.add(&c.eventPublishErrors, 1)
}

// IncEventDropped records an event dropped because the publish queue was full.
func (c *Collector) IncEventDropped() {
	if c == nil {
		return
	}
	c.add(&c.eventsDropped, 1)
}

// IncArchiveWrite records an artifact stored in the archive.
func (c *Collector) IncArchiveWrite() {
	if c == nil {
		return
	}
	c.add(&c.archiveWrites, 1)
}

// IncArchiveFailure records a failed archive write.
func (c *Collector) IncArchiveFailure() {
	if c == nil {
		return
	}
	c.add(&c.archiveFailures, 1)
}

// IncArchiveDropped records an artifact skipped because the archive queue
// was full or closed.
func (c *Collector) IncArchiveDropped() {
	if c == nil {
		return
	}
	c.add(&c.archiveDropped, 1)
}

// --- Bridge ---

// IncBridgeConnection records an accepted bridge connection.
func (c *Collector) IncBridgeConnection() {
	if c == nil {
		return
	}
	c.add(&c.bridgeConnections, 1)
}

// IncBridgeMessage records a bridge message forwarded to the host.
func (c *Collector) IncBridgeMessage() {
	if c == nil {
		return
	}
	c.add(&c.bridgeMessages, 1)
}

// IncBridgeRejected records a malformed bridge message.
func (c *Collector) IncBridgeRejected() {
	if c == nil {
		return
	}
	c.add(&c.bridgeRejected, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SessionsStarted:    c.sessionsStarted,
		SessionsCompleted:  c.sessionsCompleted,
		SessionsDispatched: c.sessionsDispatched,
		DispatchFailures:   c.dispatchFailures,
		Resets:             c.resets,
		ResetsByReason:     copyCounts(c.resetsByReason),
		DispatchedByKind:   copyCounts(c.dispatchedByKind),

		MemoryBackings:  c.memoryBackings,
		SpoolBackings:   c.spoolBackings,
		LadderFallbacks: c.ladderFallbacks,
		Compactions:     c.compactions,

		ChunksReceived:    c.chunksReceived,
		BytesReceived:     c.bytesReceived,
		LowMemoryWarnings: c.lowMemoryWarnings,
		StraysDropped:     c.straysDropped,
		StragglersDropped: c.stragglersDropped,
		PacketsRejected:   c.packetsRejected,

		EventsPublished:    c.eventsPublished,
		EventPublishErrors: c.eventPublishErrors,
		EventsDropped:      c.eventsDropped,
		ArchiveWrites:      c.archiveWrites,
		ArchiveFailures:    c.archiveFailures,
		ArchiveDropped:     c.archiveDropped,

		BridgeConnections: c.bridgeConnections,
		BridgeMessages:    c.bridgeMessages,
		BridgeRejected:    c.bridgeRejected,

		DeviceID:       c.deviceID,
		StorageBackend: c.storageBackend,
		Adapter:        c.adapter,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
