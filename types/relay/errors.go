package relay

import "errors"

var (
	// ErrPayloadTooLarge is returned by Encode when a payload exceeds the
	// 16-bit length field.
	ErrPayloadTooLarge = errors.New("frame payload too large")

	// ErrFrameTooShort is returned by DecodeHeader when fewer than HeaderLen
	// bytes are available.
	ErrFrameTooShort = errors.New("frame shorter than header")

	// ErrLengthMismatch is returned when a frame's declared length does not
	// match the bytes that actually follow the header.
	ErrLengthMismatch = errors.New("frame length does not match payload")

	// ErrInvalidServerKey is returned when a SERVER_KEY frame does not carry
	// exactly one 32-byte key.
	ErrInvalidServerKey = errors.New("invalid server key length")

	// ErrInvalidServerInfo is returned when a SERVER_INFO record does not
	// decode to a usable structure.
	ErrInvalidServerInfo = errors.New("invalid server info")

	// ErrPacketTooShort is returned when a packet frame payload is too short
	// to carry its 32-byte peer key prefix.
	ErrPacketTooShort = errors.New("packet payload too short for peer key")

	// ErrPeerKeyLength is returned when a peer presence frame payload is not
	// exactly one 32-byte key.
	ErrPeerKeyLength = errors.New("peer frame payload is not a key")

	// ErrUnexpectedFrame is returned when a handshake frame arrives in a
	// state that cannot accept it.
	ErrUnexpectedFrame = errors.New("unexpected frame type for session state")

	// ErrNotEstablished is returned when an outbound packet frame is
	// requested before the handshake has completed.
	ErrNotEstablished = errors.New("session not established")

	// ErrBadCompression is returned when a compressed packet section cannot
	// be expanded.
	ErrBadCompression = errors.New("bad compressed packet payload")
)
