// Package wire parses and builds the fragment framing of both transfer channels.
//
// The image channel opens with an ASCII header "<size>,<chunkCount>" and then
// carries raw payload fragments. The animation channel wraps every fragment in
// a two-byte prefix: a packet type (0x01 header, 0x02 data) and a chunk index
// used only for diagnostics.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/pithecene-io/pixelport/types"
)

// Framing constants.
const (
	// MaxImageHeaderLen bounds the image channel's text header.
	MaxImageHeaderLen = 32
	// PrefixSize is the animation packet prefix: type byte plus index byte.
	PrefixSize = 2
	// SizeFieldLen is the length of the big-endian size in an animation header.
	SizeFieldLen = 4
	// DefaultMTU is the transport MTU assumed when none is negotiated.
	DefaultMTU = 512
	// DefaultMaxArtifactSize caps a declared payload size (1 MiB).
	DefaultMaxArtifactSize = 1 << 20
)

// PacketType discriminates animation channel packets.
type PacketType byte

const (
	// PacketHeader opens an animation transfer.
	PacketHeader PacketType = 0x01
	// PacketData carries one animation chunk.
	PacketData PacketType = 0x02
)

func (t PacketType) String() string {
	switch t {
	case PacketHeader:
		return "header"
	case PacketData:
		return "data"
	default:
		return fmt.Sprintf("packet(0x%02x)", byte(t))
	}
}

var (
	// ErrShortPacket is returned for animation packets without a full prefix.
	ErrShortPacket = errors.New("packet shorter than prefix")
	// ErrUnknownPacketType is returned for animation packets of an unknown type.
	ErrUnknownPacketType = errors.New("unknown packet type")
)

// Header is the declared shape of a transfer.
type Header struct {
	ExpectedBytes  int64
	ExpectedChunks int64
}

// Packet is a decoded animation channel packet.
// Payload aliases the input slice.
type Packet struct {
	Type    PacketType
	Index   byte
	Payload []byte
}

// ChunkPayloadSize returns the payload bytes carried per packet at mtu.
func ChunkPayloadSize(mtu int) int {
	return mtu - PrefixSize
}

// ChunksFor returns ceil(size / (mtu - 2)).
func ChunksFor(size int64, mtu int) int64 {
	per := int64(ChunkPayloadSize(mtu))
	if per <= 0 || size <= 0 {
		return 0
	}
	return (size + per - 1) / per
}

// DecodePacket splits an animation packet into its prefix and payload.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < PrefixSize {
		return Packet{}, ErrShortPacket
	}
	p := Packet{Type: PacketType(b[0]), Index: b[1], Payload: b[PrefixSize:]}
	if p.Type != PacketHeader && p.Type != PacketData {
		return p, fmt.Errorf("%w: 0x%02x", ErrUnknownPacketType, b[0])
	}
	return p, nil
}

// ParseImageHeader parses the image channel header "<size>,<chunkCount>".
//
// Each field may be surrounded by ASCII whitespace. Size must lie in
// (0, maxSize] and the chunk count must be at least 1. Failures are
// *types.TransferError of kind ErrHeaderMalformed or ErrSizeOutOfRange and
// never yield a partially filled Header.
func ParseImageHeader(b []byte, maxSize int64) (Header, error) {
	if len(b) == 0 {
		return Header{}, malformed(types.ChannelImage, "empty header")
	}
	if len(b) > MaxImageHeaderLen {
		return Header{}, malformed(types.ChannelImage,
			fmt.Sprintf("header length %d exceeds %d", len(b), MaxImageHeaderLen))
	}

	comma := -1
	for i, c := range b {
		if c == ',' {
			if comma >= 0 {
				return Header{}, malformed(types.ChannelImage, "more than two fields")
			}
			comma = i
		}
	}
	if comma < 0 {
		return Header{}, malformed(types.ChannelImage, "missing chunk count field")
	}

	size, err := parseDecimal(b[:comma])
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return Header{}, outOfRange(types.ChannelImage, "size field overflows", err)
		}
		return Header{}, types.NewTransferError(types.ErrHeaderMalformed, types.ChannelImage, "size field", err)
	}
	chunks, err := parseDecimal(b[comma+1:])
	if err != nil {
		return Header{}, types.NewTransferError(types.ErrHeaderMalformed, types.ChannelImage, "chunk count field", err)
	}

	if err := checkSize(types.ChannelImage, size, maxSize); err != nil {
		return Header{}, err
	}
	if chunks < 1 {
		return Header{}, malformed(types.ChannelImage, "chunk count must be at least 1")
	}
	return Header{ExpectedBytes: size, ExpectedChunks: chunks}, nil
}

// ParseAnimationHeader parses an animation header packet
// [0x01][index][size:4 BE][padding...]. The chunk count is derived from
// the declared size and the chunk payload size at mtu.
func ParseAnimationHeader(b []byte, mtu int, maxSize int64) (Header, error) {
	p, err := DecodePacket(b)
	if err != nil {
		return Header{}, types.NewTransferError(types.ErrHeaderMalformed, types.ChannelAnimation, "decode packet", err)
	}
	if p.Type != PacketHeader {
		return Header{}, malformed(types.ChannelAnimation, "not a header packet: "+p.Type.String())
	}
	if len(p.Payload) < SizeFieldLen {
		return Header{}, malformed(types.ChannelAnimation,
			fmt.Sprintf("size field truncated: %d bytes", len(p.Payload)))
	}
	if ChunkPayloadSize(mtu) <= 0 {
		return Header{}, malformed(types.ChannelAnimation, fmt.Sprintf("mtu %d leaves no payload", mtu))
	}

	size := int64(binary.BigEndian.Uint32(p.Payload[:SizeFieldLen]))
	if err := checkSize(types.ChannelAnimation, size, maxSize); err != nil {
		return Header{}, err
	}
	return Header{ExpectedBytes: size, ExpectedChunks: ChunksFor(size, mtu)}, nil
}

// LooksLikeImageHeader reports whether b could be an image header: short,
// non-empty and made only of digits, one comma and ASCII whitespace.
// Raw raster fragments almost never satisfy this.
func LooksLikeImageHeader(b []byte) bool {
	if len(b) == 0 || len(b) > MaxImageHeaderLen {
		return false
	}
	commas := 0
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9', isSpace(c):
		case c == ',':
			commas++
		default:
			return false
		}
	}
	return commas == 1
}

func checkSize(ch types.Channel, size, maxSize int64) error {
	if size <= 0 || size > maxSize {
		return outOfRange(ch, fmt.Sprintf("declared size %d outside (0, %d]", size, maxSize), nil)
	}
	return nil
}

var errNotDecimal = errors.New("not a decimal integer")

// parseDecimal accepts optional surrounding ASCII whitespace and one or
// more decimal digits. Signs are rejected.
func parseDecimal(b []byte) (int64, error) {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	field := b[start:end]
	if len(field) == 0 {
		return 0, errNotDecimal
	}
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", errNotDecimal, field)
		}
	}
	return strconv.ParseInt(string(field), 10, 64)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\v' || c == '\f'
}

func malformed(ch types.Channel, msg string) error {
	return types.NewTransferError(types.ErrHeaderMalformed, ch, msg, nil)
}

func outOfRange(ch types.Channel, msg string, err error) error {
	return types.NewTransferError(types.ErrSizeOutOfRange, ch, msg, err)
}
