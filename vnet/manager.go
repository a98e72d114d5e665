package vnet

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/integrated-reasoning/vnet/types"
	"github.com/integrated-reasoning/vnet/types/key"
	"github.com/integrated-reasoning/vnet/types/relay"
)

var (
	// ErrDestroyed is returned by Connect after Destroy.
	ErrDestroyed = errors.New("manager destroyed")

	errHandshakeTimeout = errors.New("handshake timed out")
)

// Manager owns one transport connection to the relay and the session riding
// on it.
//
// It drives the handshake, queues outbound packets while disconnected, and
// reconnects with exponential backoff. Packet-path failures never escape the
// public API; they land in the drop counter and the log.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	priv key.NodePrivate

	mu        sync.Mutex
	started   bool
	destroyed bool

	// gen identifies the current connection epoch; it is bumped on every
	// dial and teardown so that stale transport callbacks, dial results, and
	// timers are discarded instead of applied to a newer connection.
	gen uint64

	session   *relay.Session
	transport types.Transport
	connected bool
	attempt   uint32
	queue     *packetQueue
	givenUp   bool

	dialCancel     context.CancelFunc
	reconnectTimer *time.Timer
	establishTimer *time.Timer

	// cbMu serialises the packet callback; Destroy takes it to wait out an
	// in-flight delivery, so no callback fires after Destroy returns.
	cbMu  sync.Mutex
	alive atomic.Bool

	counters counters
}

// NewManager generates the client keypair and prepares a Manager. It does not
// connect; call Connect.
func NewManager(cfg Config) (*Manager, error) {
	cfg.setDefaults()

	if cfg.Dialer == nil {
		if cfg.Relay.Domain == "" && !cfg.Relay.IPs.Valid {
			return nil, errors.New("no dialer and no relay address configured")
		}
		cfg.Dialer = &StreamDialer{Relay: cfg.Relay}
	}

	m := &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "vnet-manager"),
		priv:   key.NewNode(),
		queue:  newPacketQueue(cfg.QueueLimit),
	}
	m.session = relay.NewSession(func() *key.NodePrivate { return &m.priv }, cfg.ClientID, cfg.Token, cfg.Logger)
	m.alive.Store(true)

	return m, nil
}

// PublicKey returns the public half of the client keypair, i.e. this client's
// identity on the relay.
func (m *Manager) PublicKey() key.NodePublic {
	return m.priv.Public()
}

// Connect starts connecting to the relay. It returns immediately; the
// handshake is passive and server-initiated, so progress shows up as state
// changes and, eventually, packet callbacks.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return ErrDestroyed
	}
	if m.started {
		return nil
	}
	m.started = true

	m.startDialLocked()

	return nil
}

func (m *Manager) startDialLocked() {
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel

	go m.dialOnce(ctx, gen)
}

func (m *Manager) dialOnce(ctx context.Context, gen uint64) {
	t, err := m.cfg.Dialer.Dial(ctx, &transportHandler{m: m, gen: gen})

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed || gen != m.gen {
		// A newer epoch took over while we were dialing; discard the result.
		if t != nil {
			t.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn("dial failed", "err", err)
		m.scheduleReconnectLocked(err)
		return
	}

	m.transport = t
	m.session.TransportOpened()
	m.startEstablishTimerLocked(gen)

	m.logger.Debug("transport open, awaiting server key")

	t.Start()
}

// transportHandler routes transport callbacks into the manager, tagged with
// the connection epoch they belong to.
type transportHandler struct {
	m   *Manager
	gen uint64
}

func (h *transportHandler) HandleMessage(b []byte) {
	h.m.handleMessage(h.gen, b)
}

func (h *transportHandler) HandleClosed(err error) {
	h.m.handleClosed(h.gen, err)
}

func (m *Manager) handleMessage(gen uint64, b []byte) {
	pkt := m.processFrame(gen, b)
	if pkt == nil {
		return
	}

	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	if !m.alive.Load() {
		return
	}
	if cb := m.cfg.OnPacket; cb != nil {
		cb(pkt.Src, pkt.Data)
	}
}

// processFrame runs one inbound frame through the session and applies its
// side effects. Returns a packet to deliver to the callback, if any.
func (m *Manager) processFrame(gen uint64, b []byte) *relay.PacketEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed || gen != m.gen {
		return nil
	}

	out, ev, err := m.session.HandleFrame(b)
	if err != nil {
		if m.frameErrFatalLocked(err) {
			m.logger.Warn("connection failed", "state", m.session.State().String(), "err", err)
			m.teardownLocked()
			m.scheduleReconnectLocked(err)
		} else {
			if errors.Is(err, relay.ErrPacketTooShort) {
				m.counters.packetsDropped.Add(1)
			}
			m.logger.Warn("dropping bad frame", "err", err)
		}
		return nil
	}

	for _, fr := range out {
		if !m.writeLocked(fr) {
			return nil
		}
	}

	if m.session.State() == relay.StateKeyExchanged {
		fr, err := m.session.CreateClientInfo()
		if err != nil {
			m.logger.Warn("could not build client info", "err", err)
			m.teardownLocked()
			m.scheduleReconnectLocked(err)
			return nil
		}
		if !m.writeLocked(fr) {
			return nil
		}
	}

	switch e := ev.(type) {
	case relay.EstablishedEvent:
		m.connected = true
		m.attempt = 0
		m.stopEstablishTimerLocked()
		m.flushLocked()
	case relay.PacketEvent:
		m.counters.bytesReceived.Add(uint64(len(e.Data)))
		m.counters.packetsReceived.Add(1)
		return &e
	}

	return nil
}

// frameErrFatalLocked decides whether a frame error closes the connection.
// Everything during the handshake is fatal; after it, only crypto failures
// are.
func (m *Manager) frameErrFatalLocked(err error) bool {
	if m.session.State() != relay.StateEstablished {
		return true
	}
	return errors.Is(err, key.ErrAuthenticationFailed) || errors.Is(err, key.ErrInvalidPeerKey)
}

// writeLocked sends one frame on the transport, tearing the connection down
// on failure. Reports whether the write succeeded.
func (m *Manager) writeLocked(fr []byte) bool {
	if err := m.transport.Send(fr); err != nil {
		m.logger.Warn("transport write failed", "err", err)
		m.teardownLocked()
		m.scheduleReconnectLocked(err)
		return false
	}
	return true
}

func (m *Manager) handleClosed(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed || gen != m.gen {
		return
	}

	m.logger.Warn("transport closed", "err", err)
	m.teardownLocked()
	m.scheduleReconnectLocked(err)
}

// teardownLocked discards the transport and all per-connection session state.
func (m *Manager) teardownLocked() {
	m.gen++
	m.connected = false
	m.stopEstablishTimerLocked()

	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}

	m.session.Reset()
}

func (m *Manager) scheduleReconnectLocked(cause error) {
	if m.destroyed || m.givenUp || m.reconnectTimer != nil {
		return
	}

	delay := backoffDelay(m.attempt, m.cfg.BaseDelay, m.cfg.MaxDelay)
	m.attempt++
	m.counters.reconnectAttempts.Add(1)

	if m.cfg.MaxAttempts.Valid && m.attempt > m.cfg.MaxAttempts.Val {
		m.givenUp = true
		m.logger.Error("giving up on relay after repeated failures",
			"attempts", m.cfg.MaxAttempts.Val, "err", cause)
		if cb := m.cfg.OnGiveUp; cb != nil {
			go func() {
				m.cbMu.Lock()
				defer m.cbMu.Unlock()
				if m.alive.Load() {
					cb(cause)
				}
			}()
		}
		return
	}

	m.logger.Info("scheduling reconnect", "delay", delay, "attempt", m.attempt)
	m.reconnectTimer = time.AfterFunc(delay, m.redial)
}

func (m *Manager) redial() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return
	}

	m.reconnectTimer = nil
	m.startDialLocked()
}

func (m *Manager) startEstablishTimerLocked(gen uint64) {
	d := m.cfg.EstablishTimeout.Val
	if !m.cfg.EstablishTimeout.Valid || d <= 0 {
		return
	}

	m.establishTimer = time.AfterFunc(d, func() {
		m.establishTimedOut(gen)
	})
}

func (m *Manager) establishTimedOut(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed || gen != m.gen || m.connected {
		return
	}

	m.logger.Warn("handshake timed out", "state", m.session.State().String())
	m.teardownLocked()
	m.scheduleReconnectLocked(errHandshakeTimeout)
}

func (m *Manager) stopEstablishTimerLocked() {
	if m.establishTimer != nil {
		m.establishTimer.Stop()
		m.establishTimer = nil
	}
}

// Send relays a packet to the peer identified by dst, a raw 32-byte public
// key.
//
// While disconnected the packet is queued; queue overflow and any transport
// or validation failure are absorbed into the drop counter rather than
// returned.
func (m *Manager) Send(packet []byte, dst []byte) {
	if len(dst) != key.Len {
		m.counters.packetsDropped.Add(1)
		m.logger.Warn("rejecting send with bad destination key", "len", len(dst))
		return
	}

	m.SendTo(packet, key.MakeNodePublic([32]byte(dst)))
}

// SendTo is Send with a typed destination key.
func (m *Manager) SendTo(packet []byte, dst key.NodePublic) {
	if dst.IsZero() || len(packet) > relay.MaxPayloadLen-key.Len {
		m.counters.packetsDropped.Add(1)
		m.logger.Warn("rejecting unsendable packet", "dst", dst.Debug(), "len", len(packet))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		m.counters.packetsDropped.Add(1)
		return
	}

	if !m.connected {
		dropped := m.queue.push(queuedPacket{dst: dst, data: slices.Clone(packet)})
		m.counters.packetsDropped.Add(uint64(dropped))
		return
	}

	fr, err := m.session.CreatePacketFrame(packet, dst)
	if err != nil {
		m.counters.packetsDropped.Add(1)
		m.logger.Warn("could not frame packet", "err", err)
		return
	}

	if err := m.transport.Send(fr); err != nil {
		m.counters.packetsDropped.Add(1)
		m.logger.Warn("transport write failed", "err", err)
		m.teardownLocked()
		m.scheduleReconnectLocked(err)
		return
	}

	m.counters.bytesSent.Add(uint64(len(packet)))
	m.counters.packetsSent.Add(1)
}

// flushLocked drains the queue in FIFO order. A transport failure mid-drain
// leaves the unsent remainder queued for the next connection.
func (m *Manager) flushLocked() {
	for {
		p, ok := m.queue.front()
		if !ok {
			return
		}

		fr, err := m.session.CreatePacketFrame(p.data, p.dst)
		if err != nil {
			// Will never frame; drop it rather than wedge the queue.
			m.queue.dropFront()
			m.counters.packetsDropped.Add(1)
			m.logger.Warn("could not frame queued packet", "err", err)
			continue
		}

		if err := m.transport.Send(fr); err != nil {
			m.logger.Warn("transport write failed during flush", "err", err)
			m.teardownLocked()
			m.scheduleReconnectLocked(err)
			return
		}

		m.queue.dropFront()
		m.counters.bytesSent.Add(uint64(len(p.data)))
		m.counters.packetsSent.Add(1)
	}
}

// Destroy tears everything down: transport, reconnect timer, session state.
// After it returns no callback fires and no reconnect happens.
func (m *Manager) Destroy() {
	m.mu.Lock()

	if m.destroyed {
		m.mu.Unlock()
		return
	}

	m.destroyed = true
	m.alive.Store(false)
	m.gen++

	if m.dialCancel != nil {
		m.dialCancel()
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopEstablishTimerLocked()
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.session.Reset()
	m.connected = false

	m.mu.Unlock()

	// Wait out an in-flight packet callback, so none fire after we return.
	m.cbMu.Lock()
	m.cbMu.Unlock()
}

// setOnPacket swaps the packet callback. Taking cbMu orders the swap against
// in-flight deliveries.
func (m *Manager) setOnPacket(cb func(src key.NodePublic, pkt []byte)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.cfg.OnPacket = cb
}

// Connected reports whether the handshake is complete on a live transport.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// State returns the session's connection state.
func (m *Manager) State() relay.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State()
}

// Peers returns the public keys of currently present remote peers.
func (m *Manager) Peers() []key.NodePublic {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil
	}
	return m.session.Peers().Keys()
}

// QueueLen reports how many packets wait for the next connection.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return 0
	}
	return m.queue.len()
}

// GetStats returns a snapshot copy of the traffic counters.
func (m *Manager) GetStats() Stats {
	return m.counters.snapshot()
}

// backoffDelay computes base×2^attempt, capped at max.
func backoffDelay(attempt uint32, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	d := base << attempt
	if d <= 0 || d > max {
		return max
	}
	return d
}
