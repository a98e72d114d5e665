package vnet

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/integrated-reasoning/vnet/types"
	"github.com/integrated-reasoning/vnet/types/key"
	"github.com/integrated-reasoning/vnet/types/relay"
	"github.com/stretchr/testify/require"
)

// Test constants
const assertEventuallyTick time.Duration = 1 * time.Millisecond
const assertEventuallyTimeout time.Duration = 1 * time.Second

var errDialRefused = errors.New("dial refused")

// fakeTransport records written frames and lets tests drive inbound delivery
// through the handler the Manager registered.
type fakeTransport struct {
	handler types.TransportHandler

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  bool
}

func (t *fakeTransport) Start() {}

func (t *fakeTransport) Send(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sendErr != nil {
		return t.sendErr
	}

	t.sent = append(t.sent, slices.Clone(b))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) failWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) frame(i int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent[i]
}

// fakeDialer hands out fakeTransports, optionally refusing the first few
// dials.
type fakeDialer struct {
	mu         sync.Mutex
	failsLeft  int
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, h types.TransportHandler) (types.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failsLeft > 0 {
		d.failsLeft--
		return nil, errDialRefused
	}

	t := &fakeTransport{handler: h}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

// fakeRelay plays the server side of the protocol.
type fakeRelay struct {
	t    *testing.T
	priv key.NodePrivate
	sk   key.SessionKey
}

func newFakeRelay(t *testing.T) *fakeRelay {
	return &fakeRelay{t: t, priv: key.NewNode()}
}

func (r *fakeRelay) keyFrame() []byte {
	fr, err := relay.Encode(relay.FrameServerKey, r.priv.Public().ToByteSlice())
	require.NoError(r.t, err)
	return fr
}

func (r *fakeRelay) openClientInfo(clientPub key.NodePublic, frame []byte) relay.ClientInfo {
	hdr, err := relay.DecodeHeader(frame)
	require.NoError(r.t, err)
	require.Equal(r.t, relay.FrameClientInfo, hdr.Type)

	sk, err := r.priv.SessionTo(clientPub)
	require.NoError(r.t, err)
	r.sk = sk

	text, err := sk.Open(relay.Payload(frame))
	require.NoError(r.t, err)

	var ci relay.ClientInfo
	require.NoError(r.t, json.Unmarshal(text, &ci))
	return ci
}

func (r *fakeRelay) infoFrame() []byte {
	m, err := json.Marshal(relay.ServerInfo{Version: 1, Name: "test-relay", Region: "local"})
	require.NoError(r.t, err)

	fr, err := relay.Encode(relay.FrameServerInfo, r.sk.Seal(m))
	require.NoError(r.t, err)
	return fr
}

func (r *fakeRelay) peerPresentFrame(peer key.NodePublic) []byte {
	fr, err := relay.Encode(relay.FramePeerPresent, peer.ToByteSlice())
	require.NoError(r.t, err)
	return fr
}

func (r *fakeRelay) recvPacketFrame(src key.NodePublic, data []byte) []byte {
	fr, err := relay.Encode(relay.FrameRecvPacket, append(src.ToByteSlice(), data...))
	require.NoError(r.t, err)
	return fr
}

// waitForTransport blocks until the manager has installed its i-th transport
// and armed the session for the server key.
func waitForTransport(t *testing.T, m *Manager, d *fakeDialer, i int) *fakeTransport {
	require.Eventually(t, func() bool {
		return d.dialCount() > i && m.State() == relay.StateAwaitingServerKey
	}, assertEventuallyTimeout, assertEventuallyTick, "transport %d never came up", i)

	return d.transport(i)
}

// establish connects m and walks the full handshake against r, returning the
// live transport.
func establish(t *testing.T, m *Manager, d *fakeDialer, r *fakeRelay) *fakeTransport {
	require.NoError(t, m.Connect())

	ft := waitForTransport(t, m, d, 0)
	completeHandshake(t, m, ft, r)
	return ft
}

// completeHandshake drives an already-open transport to Established.
func completeHandshake(t *testing.T, m *Manager, ft *fakeTransport, r *fakeRelay) {
	before := ft.sentCount()

	ft.handler.HandleMessage(r.keyFrame())
	require.Equal(t, before+1, ft.sentCount(), "client info not sent after server key")
	r.openClientInfo(m.PublicKey(), ft.frame(before))

	ft.handler.HandleMessage(r.infoFrame())
	require.True(t, m.Connected())
}
