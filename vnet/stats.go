package vnet

import "sync/atomic"

// Stats is a snapshot of a Manager's traffic counters.
//
// All counters are monotonically non-decreasing and reset only when the
// Manager is re-created.
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64

	PacketsSent     uint64
	PacketsReceived uint64
	PacketsDropped  uint64

	ReconnectAttempts uint32
}

type counters struct {
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64

	reconnectAttempts atomic.Uint32
}

func (c *counters) snapshot() Stats {
	return Stats{
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),

		PacketsSent:     c.packetsSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		PacketsDropped:  c.packetsDropped.Load(),

		ReconnectAttempts: c.reconnectAttempts.Load(),
	}
}
