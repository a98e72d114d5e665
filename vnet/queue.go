package vnet

import "github.com/integrated-reasoning/vnet/types/key"

type queuedPacket struct {
	dst  key.NodePublic
	data []byte
}

// packetQueue buffers outbound packets while the relay connection is down.
//
// It is bounded: when a push would grow it past twice its limit, it is
// truncated in bulk to the newest limit entries. This bounds memory under
// sustained disconnection while preserving recent traffic.
//
// Not safe for concurrent use; owned by the Manager and guarded by its lock.
type packetQueue struct {
	limit int

	items []queuedPacket
}

func newPacketQueue(limit int) *packetQueue {
	return &packetQueue{limit: limit}
}

// push appends p and reports how many old entries were discarded to stay
// within bounds.
func (q *packetQueue) push(p queuedPacket) (dropped int) {
	q.items = append(q.items, p)

	if len(q.items) > 2*q.limit {
		dropped = len(q.items) - q.limit
		q.items = append(q.items[:0], q.items[dropped:]...)
	}

	return dropped
}

func (q *packetQueue) len() int {
	return len(q.items)
}

// front returns the oldest entry without removing it.
func (q *packetQueue) front() (queuedPacket, bool) {
	if len(q.items) == 0 {
		return queuedPacket{}, false
	}
	return q.items[0], true
}

func (q *packetQueue) dropFront() {
	q.items = q.items[1:]
}
