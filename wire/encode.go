package wire

import (
	"encoding/binary"
	"strconv"
)

// EncodeImageHeader builds the image channel header for size bytes in chunks fragments.
func EncodeImageHeader(size, chunks int64) []byte {
	b := strconv.AppendInt(nil, size, 10)
	b = append(b, ',')
	return strconv.AppendInt(b, chunks, 10)
}

// EncodeAnimationHeader builds an animation header packet padded to
// the chunk payload size at mtu, as the sender does.
func EncodeAnimationHeader(index byte, size uint32, mtu int) []byte {
	n := PrefixSize + ChunkPayloadSize(mtu)
	if n < PrefixSize+SizeFieldLen {
		n = PrefixSize + SizeFieldLen
	}
	b := make([]byte, n)
	b[0] = byte(PacketHeader)
	b[1] = index
	binary.BigEndian.PutUint32(b[PrefixSize:], size)
	return b
}

// EncodeAnimationData wraps payload in an animation data packet.
func EncodeAnimationData(index byte, payload []byte) []byte {
	b := make([]byte, PrefixSize+len(payload))
	b[0] = byte(PacketData)
	b[1] = index
	copy(b[PrefixSize:], payload)
	return b
}
