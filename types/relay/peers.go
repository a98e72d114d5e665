package relay

import (
	"time"

	"github.com/integrated-reasoning/vnet/types/key"
	"golang.org/x/exp/maps"
)

// PeerEntry records one remote peer currently present on the relay.
type PeerEntry struct {
	Key      key.NodePublic
	LastSeen time.Time
}

// Peers tracks the remote peers the relay has announced as present, by
// public-key identity.
//
// Not safe for concurrent use; mutated only by the single event-processing
// path that owns the session.
type Peers struct {
	now func() time.Time

	m map[string]PeerEntry
}

func NewPeers() *Peers {
	return &Peers{
		now: time.Now,
		m:   make(map[string]PeerEntry),
	}
}

// Upsert marks k as present. A peer that is already present is refreshed in
// place, never duplicated.
func (p *Peers) Upsert(k key.NodePublic) {
	p.m[k.HexString()] = PeerEntry{Key: k, LastSeen: p.now()}
}

// Remove marks k as gone. Removing an unknown peer is a no-op.
func (p *Peers) Remove(k key.NodePublic) {
	delete(p.m, k.HexString())
}

// Get returns the entry for a hex-encoded public key.
func (p *Peers) Get(hexKey string) (PeerEntry, bool) {
	e, ok := p.m[hexKey]
	return e, ok
}

func (p *Peers) Len() int {
	return len(p.m)
}

// Keys returns the public keys of all present peers, in no particular order.
func (p *Peers) Keys() []key.NodePublic {
	keys := make([]key.NodePublic, 0, len(p.m))
	for _, e := range maps.Values(p.m) {
		keys = append(keys, e.Key)
	}
	return keys
}

func (p *Peers) Clear() {
	maps.Clear(p.m)
}
