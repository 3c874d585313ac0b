package types

import "fmt"

// Channel identifies one of the two independent transfer pipelines.
// Each channel owns exactly one session and its own spool path.
type Channel uint8

const (
	// ChannelImage carries raw still-image rasters behind a text header.
	ChannelImage Channel = iota
	// ChannelAnimation carries animation files in typed packets.
	ChannelAnimation
)

// Channels lists every channel in polling order.
var Channels = [...]Channel{ChannelImage, ChannelAnimation}

// ChannelCount is the number of channels.
const ChannelCount = len(Channels)

// String returns the lowercase channel name used in logs and config.
func (c Channel) String() string {
	switch c {
	case ChannelImage:
		return "image"
	case ChannelAnimation:
		return "animation"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelImage || c == ChannelAnimation
}

// ParseChannel parses a channel name as produced by String.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "image":
		return ChannelImage, nil
	case "animation":
		return ChannelAnimation, nil
	default:
		return 0, fmt.Errorf("unknown channel %q (must be image or animation)", s)
	}
}

// SessionState is the state of a transfer session.
type SessionState uint8

const (
	// StateIdle holds no resources and waits for a header.
	StateIdle SessionState = iota
	// StateAwaitingData has a backing and accepts data fragments.
	StateAwaitingData
	// StateComplete has dispatched its artifact and waits for the reset deadline.
	StateComplete
	// StateError is transient: the session is being torn down.
	StateError
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingData:
		return "awaiting_data"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// BackingKind tags the storage strategy of a session.
type BackingKind uint8

const (
	// BackingNone means no backing has been chosen.
	BackingNone BackingKind = iota
	// BackingMemory is an exclusively owned in-memory buffer.
	BackingMemory
	// BackingSpool is an append-only file at the channel's well-known path.
	BackingSpool
)

// String returns the backing name.
func (k BackingKind) String() string {
	switch k {
	case BackingNone:
		return "none"
	case BackingMemory:
		return "memory"
	case BackingSpool:
		return "spool"
	default:
		return fmt.Sprintf("backing(%d)", uint8(k))
	}
}

// DisplayKind names a host display mode the dispatcher can flag.
type DisplayKind uint8

const (
	// DisplayAnimation is the "showing animation" flag.
	DisplayAnimation DisplayKind = iota
	// DisplayStillImage is the "showing still image" flag.
	DisplayStillImage
)

// String returns the display kind name.
func (k DisplayKind) String() string {
	switch k {
	case DisplayAnimation:
		return "animation"
	case DisplayStillImage:
		return "still_image"
	default:
		return fmt.Sprintf("display(%d)", uint8(k))
	}
}

// Fragment is one raw write delivered to a channel, as received from the
// wireless link or the network bridge.
type Fragment struct {
	Channel Channel
	Data    []byte
}
