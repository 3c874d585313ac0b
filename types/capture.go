package types

// CaptureRecordType is the type discriminant for capture records.
const CaptureRecordType = "fragment"

// CaptureHeaderType is the type discriminant for the capture preamble.
const CaptureHeaderType = "capture_header"

// CaptureHeader opens a capture stream.
// It records the negotiated MTU so replays reproduce animation chunk counts.
type CaptureHeader struct {
	// Type is always "capture_header".
	Type string `msgpack:"type"`
	// Version is the project version that wrote the capture.
	Version string `msgpack:"version"`
	// MTU is the transport MTU in effect while recording.
	MTU int `msgpack:"mtu"`
	// DeviceID identifies the recording device, if known.
	DeviceID string `msgpack:"device_id,omitempty"`
}

// CaptureRecord is one wireless write as delivered to the core.
//
// Discriminated from the header by Type == "fragment".
type CaptureRecord struct {
	// Type is always "fragment".
	Type string `msgpack:"type"`
	// Channel is the destination channel.
	Channel Channel `msgpack:"channel"`
	// OffsetMs is the arrival time relative to the start of the capture.
	OffsetMs int64 `msgpack:"offset_ms"`
	// Data is the raw fragment as written by the sender.
	Data []byte `msgpack:"data"`
}
