package relay

import (
	"encoding/binary"
	"fmt"
)

type FrameType byte

const (
	FrameServerKey   FrameType = 1  // 32B server public key
	FrameClientInfo  FrameType = 2  // sealed(12B nonce + json)
	FrameServerInfo  FrameType = 3  // sealed(12B nonce + json)
	FrameSendPacket  FrameType = 4  // 32B dest pub key + packet bytes
	FrameRecvPacket  FrameType = 5  // 32B src pub key + packet bytes
	FramePeerPresent FrameType = 6  // 32B peer pub key
	FramePeerGone    FrameType = 7  // 32B peer pub key
	FrameKeepAlive   FrameType = 8  // 0B, sent by the server at an interval
	FramePing        FrameType = 9  // arbitrary payload, echoed back
	FramePong        FrameType = 10 // echo of a ping payload
)

type Flags byte

const (
	// FlagCompressed marks a packet frame whose packet section (after the
	// 32-byte key prefix) is LZ4 block compressed. Only valid after both
	// sides negotiated CompressionFeature.
	FlagCompressed Flags = 1 << 0
)

// HeaderLen is the fixed frame header size:
// version(1) type(1) flags(1) length(2, big-endian).
const HeaderLen = 5

// MaxPayloadLen is the largest payload the 16-bit length field can describe.
const MaxPayloadLen = 0xffff

// Header is a decoded frame header.
type Header struct {
	Version byte
	Type    FrameType
	Flags   Flags
	Length  uint16
}

// Encode builds a complete frame with zero flags.
func Encode(typ FrameType, payload []byte) ([]byte, error) {
	return EncodeFlags(typ, 0, payload)
}

// EncodeFlags builds a complete frame: header followed by payload.
func EncodeFlags(typ FrameType, flags Flags, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	b := make([]byte, HeaderLen+len(payload))
	b[0] = ProtocolVersion
	b[1] = byte(typ)
	b[2] = byte(flags)
	binary.BigEndian.PutUint16(b[3:5], uint16(len(payload)))
	copy(b[HeaderLen:], payload)

	return b, nil
}

// DecodeHeader parses the fixed header from the start of b.
//
// It does not validate that the declared length matches the remaining bytes;
// that is the caller's responsibility (see Header.CheckPayload), because the
// codec only parses the header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrFrameTooShort, len(b))
	}

	return Header{
		Version: b[0],
		Type:    FrameType(b[1]),
		Flags:   Flags(b[2]),
		Length:  binary.BigEndian.Uint16(b[3:5]),
	}, nil
}

// CheckPayload verifies that frame, a whole frame including header, carries
// exactly the declared number of payload bytes.
func (h Header) CheckPayload(frame []byte) error {
	if got := len(frame) - HeaderLen; got != int(h.Length) {
		return fmt.Errorf("%w: declared %d, got %d", ErrLengthMismatch, h.Length, got)
	}
	return nil
}

// Payload slices the payload out of a whole frame. Only valid after
// CheckPayload passed.
func Payload(frame []byte) []byte {
	return frame[HeaderLen:]
}
