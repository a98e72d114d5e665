package vnet

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/integrated-reasoning/vnet/types/key"
	"github.com/integrated-reasoning/vnet/types/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packetSink collects delivered packets.
type packetSink struct {
	mu   sync.Mutex
	pkts []relay.PacketEvent
}

func (s *packetSink) onPacket(src key.NodePublic, pkt []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pkts = append(s.pkts, relay.PacketEvent{Src: src, Data: pkt})
}

func (s *packetSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pkts)
}

func (s *packetSink) packet(i int) relay.PacketEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pkts[i]
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeDialer) {
	d := &fakeDialer{}
	cfg.Dialer = d
	cfg.ClientID = "52:54:00:12:34:56"
	cfg.Token = "test-token"
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 8 * time.Millisecond
	}

	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(m.Destroy)

	return m, d
}

func TestManagerHandshakeAndTraffic(t *testing.T) {
	sink := &packetSink{}
	m, d := newTestManager(t, Config{OnPacket: sink.onPacket})
	r := newFakeRelay(t)

	ft := establish(t, m, d, r)
	assert.Equal(t, relay.StateEstablished, m.State())

	// Outbound.
	dst := key.NewNode().Public()
	payload := []byte("outbound data")
	m.SendTo(payload, dst)

	require.Equal(t, 2, ft.sentCount())
	hdr, err := relay.DecodeHeader(ft.frame(1))
	require.NoError(t, err)
	assert.Equal(t, relay.FrameSendPacket, hdr.Type)
	assert.Equal(t, dst.ToByteSlice(), relay.Payload(ft.frame(1))[:key.Len])

	// Inbound.
	src := key.NewNode().Public()
	ft.handler.HandleMessage(r.recvPacketFrame(src, []byte("inbound data")))

	require.Equal(t, 1, sink.count())
	assert.Equal(t, src, sink.packet(0).Src)
	assert.Equal(t, []byte("inbound data"), sink.packet(0).Data)

	// An undersized packet frame counts a drop, fires no callback, and does
	// not kill the connection.
	short, err := relay.Encode(relay.FrameRecvPacket, make([]byte, 16))
	require.NoError(t, err)
	ft.handler.HandleMessage(short)
	assert.Equal(t, 1, sink.count())
	assert.True(t, m.Connected())

	stats := m.GetStats()
	assert.EqualValues(t, len(payload), stats.BytesSent)
	assert.EqualValues(t, 1, stats.PacketsSent)
	assert.EqualValues(t, 1, stats.PacketsReceived)
	assert.EqualValues(t, len("inbound data"), stats.BytesReceived)
	assert.EqualValues(t, 1, stats.PacketsDropped)
}

func TestManagerQueuesUntilEstablished(t *testing.T) {
	m, d := newTestManager(t, Config{})
	r := newFakeRelay(t)

	require.NoError(t, m.Connect())
	ft := waitForTransport(t, m, d, 0)

	// Transport is up but the handshake has not completed; sends must queue.
	dst := key.NewNode().Public()
	m.SendTo([]byte("first"), dst)
	m.SendTo([]byte("second"), dst)
	assert.Equal(t, 2, m.QueueLen())
	assert.Equal(t, 0, ft.sentCount())

	completeHandshake(t, m, ft, r)

	// Client info plus both queued packets, oldest first.
	require.Equal(t, 3, ft.sentCount())
	assert.Equal(t, 0, m.QueueLen())
	assert.Equal(t, []byte("first"), []byte(relay.Payload(ft.frame(1))[key.Len:]))
	assert.Equal(t, []byte("second"), []byte(relay.Payload(ft.frame(2))[key.Len:]))
}

func TestManagerQueueOverflowDropsOldest(t *testing.T) {
	m, _ := newTestManager(t, Config{QueueLimit: 4})

	dst := key.NewNode().Public()
	for i := byte(0); i < 9; i++ {
		m.SendTo([]byte{i}, dst)
	}

	// The ninth push grew the queue past twice the limit, truncating to the
	// newest four.
	assert.Equal(t, 4, m.QueueLen())
	assert.EqualValues(t, 5, m.GetStats().PacketsDropped)
}

func TestManagerReconnectsAfterClose(t *testing.T) {
	m, d := newTestManager(t, Config{})
	r := newFakeRelay(t)

	ft := establish(t, m, d, r)

	ft.handler.HandleClosed(errors.New("connection reset"))
	assert.False(t, m.Connected())
	assert.True(t, ft.isClosed())

	// A new transport comes up and the handshake runs again.
	ft2 := waitForTransport(t, m, d, 1)
	completeHandshake(t, m, ft2, r)
	assert.True(t, m.Connected())
}

func TestManagerReconnectsAfterWriteFailure(t *testing.T) {
	m, d := newTestManager(t, Config{})
	r := newFakeRelay(t)

	ft := establish(t, m, d, r)
	ft.failWrites(errors.New("broken pipe"))

	m.SendTo([]byte("doomed"), key.NewNode().Public())

	assert.False(t, m.Connected())
	ft2 := waitForTransport(t, m, d, 1)
	completeHandshake(t, m, ft2, r)
}

func TestManagerIgnoresStaleTransportCallbacks(t *testing.T) {
	sink := &packetSink{}
	m, d := newTestManager(t, Config{OnPacket: sink.onPacket})
	r := newFakeRelay(t)

	ft := establish(t, m, d, r)
	ft.handler.HandleClosed(errors.New("connection reset"))

	ft2 := waitForTransport(t, m, d, 1)
	completeHandshake(t, m, ft2, r)

	// The dead transport's reader delivering a leftover frame must not reach
	// the packet callback or disturb the new connection.
	ft.handler.HandleMessage(r.recvPacketFrame(key.NewNode().Public(), []byte("stale")))
	ft.handler.HandleClosed(errors.New("stale close"))

	assert.Equal(t, 0, sink.count())
	assert.True(t, m.Connected())
	assert.Equal(t, 2, d.dialCount())
}

func TestManagerHandshakeErrorTearsDown(t *testing.T) {
	m, d := newTestManager(t, Config{})
	r := newFakeRelay(t)

	require.NoError(t, m.Connect())
	ft := waitForTransport(t, m, d, 0)

	// A malformed server key is fatal during the handshake.
	bad, err := relay.Encode(relay.FrameServerKey, make([]byte, 16))
	require.NoError(t, err)
	ft.handler.HandleMessage(bad)

	assert.True(t, ft.isClosed())

	// It retries from scratch.
	ft2 := waitForTransport(t, m, d, 1)
	completeHandshake(t, m, ft2, r)
}

func TestManagerGivesUpAfterMaxAttempts(t *testing.T) {
	gaveUp := make(chan error, 1)

	d := &fakeDialer{failsLeft: 999}
	m, err := NewManager(Config{
		Dialer:      d,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		MaxAttempts: gonull.NewNullable(uint32(3)),
		OnGiveUp:    func(err error) { gaveUp <- err },
	})
	require.NoError(t, err)
	t.Cleanup(m.Destroy)

	require.NoError(t, m.Connect())

	select {
	case err := <-gaveUp:
		assert.ErrorIs(t, err, errDialRefused)
	case <-time.After(assertEventuallyTimeout):
		t.Fatal("never gave up")
	}

	assert.EqualValues(t, 4, m.GetStats().ReconnectAttempts)
}

func TestManagerSendValidation(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	// Destination key of the wrong size.
	m.Send([]byte("data"), make([]byte, 31))
	assert.EqualValues(t, 1, m.GetStats().PacketsDropped)
	assert.Equal(t, 0, m.QueueLen())

	// Zero destination key.
	m.SendTo([]byte("data"), key.NodePublic{})
	assert.EqualValues(t, 2, m.GetStats().PacketsDropped)

	// Packet too large for a frame.
	m.SendTo(make([]byte, relay.MaxPayloadLen), key.NewNode().Public())
	assert.EqualValues(t, 3, m.GetStats().PacketsDropped)
	assert.Equal(t, 0, m.QueueLen())
}

func TestManagerDestroy(t *testing.T) {
	sink := &packetSink{}
	m, d := newTestManager(t, Config{OnPacket: sink.onPacket})
	r := newFakeRelay(t)

	ft := establish(t, m, d, r)

	m.Destroy()

	assert.True(t, ft.isClosed())
	assert.False(t, m.Connected())
	assert.ErrorIs(t, m.Connect(), ErrDestroyed)

	// No delivery, no reconnection after destroy.
	ft.handler.HandleMessage(r.recvPacketFrame(key.NewNode().Public(), []byte("late")))
	ft.handler.HandleClosed(errors.New("late close"))
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, 1, d.dialCount())

	// Sending into a destroyed manager only counts drops.
	m.SendTo([]byte("data"), key.NewNode().Public())
	assert.EqualValues(t, 1, m.GetStats().PacketsDropped)

	// Destroy is idempotent.
	m.Destroy()
}

func TestManagerConnectIsIdempotent(t *testing.T) {
	m, d := newTestManager(t, Config{})

	require.NoError(t, m.Connect())
	require.NoError(t, m.Connect())
	waitForTransport(t, m, d, 0)

	// Still only one dial in flight.
	time.Sleep(5 * assertEventuallyTick)
	assert.Equal(t, 1, d.dialCount())
}

func TestManagerHandshakeTimeout(t *testing.T) {
	m, d := newTestManager(t, Config{
		EstablishTimeout: gonull.NewNullable(25 * time.Millisecond),
	})
	r := newFakeRelay(t)

	require.NoError(t, m.Connect())
	ft := waitForTransport(t, m, d, 0)

	// Say nothing; the relay never sends its key.
	ft2 := waitForTransport(t, m, d, 1)
	assert.True(t, ft.isClosed())

	completeHandshake(t, m, ft2, r)
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 32 * time.Second

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		32 * time.Second,
		32 * time.Second,
	}

	for attempt, expected := range want {
		assert.Equal(t, expected, backoffDelay(uint32(attempt), base, max), "attempt %d", attempt)
	}

	// Far past the shift width it stays pinned at the cap.
	assert.Equal(t, max, backoffDelay(40, base, max))
}
