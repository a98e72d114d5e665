package relay

import (
	"testing"
	"time"

	"github.com/integrated-reasoning/vnet/types/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePeerKey(b byte) key.NodePublic {
	var raw [32]byte
	raw[31] = b
	return key.MakeNodePublic(raw)
}

func TestPeersUpsertNeverDuplicates(t *testing.T) {
	p := NewPeers()
	k := makePeerKey(1)

	p.Upsert(k)
	p.Upsert(k)
	p.Upsert(k)

	assert.Equal(t, 1, p.Len())
	assert.Equal(t, []key.NodePublic{k}, p.Keys())
}

func TestPeersUpsertRefreshesLastSeen(t *testing.T) {
	p := NewPeers()
	k := makePeerKey(1)

	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }

	p.Upsert(k)
	first, ok := p.Get(k.HexString())
	require.True(t, ok)

	now = now.Add(time.Minute)
	p.Upsert(k)
	second, ok := p.Get(k.HexString())
	require.True(t, ok)

	assert.Equal(t, time.Minute, second.LastSeen.Sub(first.LastSeen))
	assert.Equal(t, 1, p.Len())
}

func TestPeersRemoveUnknownIsNoOp(t *testing.T) {
	p := NewPeers()
	p.Upsert(makePeerKey(1))

	p.Remove(makePeerKey(2))

	assert.Equal(t, 1, p.Len())
}

func TestPeersClear(t *testing.T) {
	p := NewPeers()
	for b := byte(1); b <= 5; b++ {
		p.Upsert(makePeerKey(b))
	}
	require.Equal(t, 5, p.Len())

	p.Clear()

	assert.Equal(t, 0, p.Len())
	assert.Empty(t, p.Keys())
}
