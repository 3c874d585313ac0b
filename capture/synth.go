package capture

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pithecene-io/pixelport/types"
	"github.com/pithecene-io/pixelport/wire"
)

// SynthOptions controls how Synthesize frames a payload.
type SynthOptions struct {
	// MTU sizes animation chunks (MTU-2 payload bytes). Zero uses wire.DefaultMTU.
	MTU int
	// ImageChunkSize sizes image channel fragments. Zero uses the animation
	// chunk payload size.
	ImageChunkSize int
	// Interval spaces consecutive writes.
	Interval time.Duration
	// Start is the offset of the first write.
	Start time.Duration
}

// Synthesize frames payload for ch the way the companion app sends it: a
// "<size>,<count>" header and raw chunks on the image channel, 0x01/0x02
// packets on the animation channel.
func Synthesize(ch types.Channel, payload []byte, opts SynthOptions) ([]types.CaptureRecord, error) {
	if len(payload) == 0 {
		return nil, errors.New("capture: empty payload")
	}
	if int64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("capture: payload of %d bytes too large", len(payload))
	}
	mtu := opts.MTU
	if mtu == 0 {
		mtu = wire.DefaultMTU
	}
	chunk := wire.ChunkPayloadSize(mtu)
	if chunk <= 0 {
		return nil, fmt.Errorf("capture: mtu %d leaves no chunk payload", mtu)
	}

	offset := opts.Start
	var out []types.CaptureRecord
	add := func(data []byte) {
		out = append(out, NewRecord(ch, offset, data))
		offset += opts.Interval
	}

	switch ch {
	case types.ChannelImage:
		if opts.ImageChunkSize > 0 {
			chunk = opts.ImageChunkSize
		}
		count := (len(payload) + chunk - 1) / chunk
		add(wire.EncodeImageHeader(int64(len(payload)), int64(count)))
		for off := 0; off < len(payload); off += chunk {
			add(payload[off:min(off+chunk, len(payload))])
		}
	case types.ChannelAnimation:
		add(wire.EncodeAnimationHeader(0, uint32(len(payload)), mtu))
		index := byte(1)
		for off := 0; off < len(payload); off += chunk {
			add(wire.EncodeAnimationData(index, payload[off:min(off+chunk, len(payload))]))
			index++
		}
	default:
		return nil, fmt.Errorf("capture: unknown channel %d", ch)
	}
	return out, nil
}
