package relay

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// compressSection LZ4-compresses a packet section, prefixed with its original
// length so the receiver can size the expansion buffer. Reports false when
// compression does not pay off.
func compressSection(pkt []byte) ([]byte, bool) {
	if len(pkt) < compressMinSize || len(pkt) > MaxPayloadLen {
		return nil, false
	}

	buf := make([]byte, 2+lz4.CompressBlockBound(len(pkt)))

	var c lz4.Compressor
	n, err := c.CompressBlock(pkt, buf[2:])
	if err != nil || n == 0 || 2+n >= len(pkt) {
		return nil, false
	}

	binary.BigEndian.PutUint16(buf[:2], uint16(len(pkt)))

	return buf[:2+n], true
}

// expandSection reverses compressSection.
func expandSection(section []byte) ([]byte, error) {
	if len(section) < 2 {
		return nil, ErrBadCompression
	}

	origLen := int(binary.BigEndian.Uint16(section[:2]))
	out := make([]byte, origLen)

	n, err := lz4.UncompressBlock(section[2:], out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCompression, err)
	}
	if n != origLen {
		return nil, fmt.Errorf("%w: expanded to %d, expected %d", ErrBadCompression, n, origLen)
	}

	return out, nil
}
