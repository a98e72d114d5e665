package relay

import "time"

const (
	UpgradeProtocol = "vnet-relay"
)

// ProtocolVersion is the wire protocol version carried in every frame header.
const ProtocolVersion byte = 1

const (
	MaxPacketSize = 64 << 10

	// DefaultKeepAliveInterval is assumed when the server info does not
	// announce one.
	DefaultKeepAliveInterval = 30 * time.Second
)

// CompressionFeature is the feature string negotiated in client/server info
// to enable packet payload compression.
const CompressionFeature = "compression"

// compressMinSize is the smallest packet section worth compressing.
const compressMinSize = 128
