package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/integrated-reasoning/vnet/types/key"
)

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateAwaitingServerKey
	StateKeyExchanged
	StateAwaitingServerInfo
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingServerKey:
		return "awaiting-server-key"
	case StateKeyExchanged:
		return "key-exchanged"
	case StateAwaitingServerInfo:
		return "awaiting-server-info"
	case StateEstablished:
		return "established"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is a side effect of frame processing, surfaced to the session owner.
type Event interface {
	sessionEvent()
}

// EstablishedEvent fires when the handshake completes.
type EstablishedEvent struct {
	Info ServerInfo
}

// PacketEvent carries one application packet relayed from a peer.
type PacketEvent struct {
	Src  key.NodePublic
	Data []byte
}

func (EstablishedEvent) sessionEvent() {}
func (PacketEvent) sessionEvent()      {}

// Session is the relay protocol state machine for one connection.
//
// It owns the handshake state, the derived session key, and the peer
// registry. It is not safe for concurrent use; its owner must process one
// inbound frame to completion before the next.
type Session struct {
	logger *slog.Logger

	getPriv func() *key.NodePrivate

	clientID string
	token    string
	features []string

	state       State
	serverKey   key.NodePublic
	sessionKey  key.SessionKey
	info        *ServerInfo
	peers       *Peers
	compression bool
	lastPing    time.Time
}

// NewSession creates a Session in the Disconnected state.
//
// clientID is the bootstrap identifier sent in the client info (e.g. the MAC
// address of the fronted interface); token authenticates with the relay.
func NewSession(getPriv func() *key.NodePrivate, clientID, token string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		logger:   logger.With("component", "relay-session"),
		getPriv:  getPriv,
		clientID: clientID,
		token:    token,
		features: []string{CompressionFeature},
		state:    StateDisconnected,
		peers:    NewPeers(),
	}
}

func (s *Session) State() State {
	return s.state
}

// Peers exposes the registry of currently present remote peers.
func (s *Session) Peers() *Peers {
	return s.peers
}

// ServerInfo returns the info record parsed during the handshake, nil before
// Established.
func (s *Session) ServerInfo() *ServerInfo {
	return s.info
}

// ServerKey returns the relay's public key, zero before the handshake
// received it.
func (s *Session) ServerKey() key.NodePublic {
	return s.serverKey
}

// TransportOpened moves the session out of Disconnected. The relay is
// expected to push its SERVER_KEY first; the client stays passive.
func (s *Session) TransportOpened() {
	s.state = StateAwaitingServerKey
}

// Reset discards all connection state: session key, server info, and peer
// registry. Called when the transport dies.
func (s *Session) Reset() {
	s.state = StateDisconnected
	s.serverKey = key.NodePublic{}
	s.sessionKey = key.SessionKey{}
	s.info = nil
	s.compression = false
	s.peers.Clear()
}

// HandleFrame processes one whole inbound frame (header and payload) and
// returns any frames to write back, plus an optional event.
//
// Errors during the handshake states are fatal to the connection; errors in
// Established concern a single frame, and the caller should log and drop the
// frame without closing the connection. Crypto errors are always fatal.
func (s *Session) HandleFrame(frame []byte) (out [][]byte, ev Event, err error) {
	hdr, err := DecodeHeader(frame)
	if err != nil {
		return nil, nil, err
	}

	if err := hdr.CheckPayload(frame); err != nil {
		return nil, nil, err
	}

	if hdr.Version != ProtocolVersion {
		s.logger.Debug("ignoring frame with unknown protocol version", "version", hdr.Version)
		return nil, nil, nil
	}

	payload := Payload(frame)

	switch hdr.Type {
	case FrameServerKey:
		return nil, nil, s.handleServerKey(payload)

	case FrameServerInfo:
		return s.handleServerInfo(payload)

	case FramePeerPresent, FramePeerGone:
		return nil, nil, s.handlePeer(hdr.Type, payload)

	case FrameRecvPacket:
		return s.handleRecvPacket(hdr.Flags, payload)

	case FrameKeepAlive:
		s.lastPing = time.Now()
		return nil, nil, nil

	case FramePing:
		pong, err := Encode(FramePong, payload)
		if err != nil {
			return nil, nil, err
		}
		s.lastPing = time.Now()
		return [][]byte{pong}, nil, nil

	case FramePong:
		return nil, nil, nil

	default:
		// Unknown frame types are ignored for forward compatibility.
		s.logger.Debug("ignoring unknown frame type", "type", byte(hdr.Type), "len", hdr.Length)
		return nil, nil, nil
	}
}

func (s *Session) handleServerKey(payload []byte) error {
	if s.state != StateAwaitingServerKey {
		return fmt.Errorf("%w: server key in state %s", ErrUnexpectedFrame, s.state)
	}

	if len(payload) != key.Len {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidServerKey, len(payload))
	}

	s.serverKey = key.MakeNodePublic([32]byte(payload))

	sk, err := s.getPriv().SessionTo(s.serverKey)
	if err != nil {
		return fmt.Errorf("could not derive session key: %w", err)
	}

	s.sessionKey = sk
	s.state = StateKeyExchanged

	return nil
}

// CreateClientInfo seals the client info record into a CLIENT_INFO frame and
// moves the session to AwaitingServerInfo. Only valid in KeyExchanged; the
// caller sends exactly one of these per handshake.
func (s *Session) CreateClientInfo() ([]byte, error) {
	if s.state != StateKeyExchanged {
		return nil, fmt.Errorf("%w: client info in state %s", ErrUnexpectedFrame, s.state)
	}

	m, err := json.Marshal(ClientInfo{
		Version:       int(ProtocolVersion),
		ID:            s.clientID,
		Token:         s.token,
		Features:      slices.Clone(s.features),
		MaxPacketSize: MaxPacketSize,
		SendKeepalive: true,
	})
	if err != nil {
		return nil, err
	}

	fr, err := Encode(FrameClientInfo, s.sessionKey.Seal(m))
	if err != nil {
		return nil, err
	}

	s.state = StateAwaitingServerInfo

	return fr, nil
}

func (s *Session) handleServerInfo(payload []byte) ([][]byte, Event, error) {
	if s.state != StateAwaitingServerInfo {
		return nil, nil, fmt.Errorf("%w: server info in state %s", ErrUnexpectedFrame, s.state)
	}

	text, err := s.sessionKey.Open(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open server info: %w", err)
	}

	info := new(ServerInfo)
	if err := json.Unmarshal(text, info); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidServerInfo, err)
	}

	if info.Version < 1 {
		return nil, nil, fmt.Errorf("%w: version %d", ErrInvalidServerInfo, info.Version)
	}

	s.info = info
	s.compression = hasFeature(info.Features, CompressionFeature) && hasFeature(s.features, CompressionFeature)
	s.state = StateEstablished

	s.logger.Info("handshake complete",
		"server", info.Name,
		"region", info.Region,
		"compression", s.compression,
	)

	return nil, EstablishedEvent{Info: *info}, nil
}

func (s *Session) handlePeer(typ FrameType, payload []byte) error {
	if s.state != StateEstablished {
		return fmt.Errorf("%w: peer frame in state %s", ErrUnexpectedFrame, s.state)
	}

	if len(payload) < key.Len {
		return fmt.Errorf("%w: got %d bytes", ErrPeerKeyLength, len(payload))
	}

	peer := key.MakeNodePublic([32]byte(payload[:key.Len]))

	if typ == FramePeerPresent {
		s.peers.Upsert(peer)
	} else {
		s.peers.Remove(peer)
	}

	return nil
}

func (s *Session) handleRecvPacket(flags Flags, payload []byte) ([][]byte, Event, error) {
	if s.state != StateEstablished {
		return nil, nil, fmt.Errorf("%w: packet frame in state %s", ErrUnexpectedFrame, s.state)
	}

	if len(payload) < key.Len {
		return nil, nil, fmt.Errorf("%w: got %d bytes", ErrPacketTooShort, len(payload))
	}

	src := key.MakeNodePublic([32]byte(payload[:key.Len]))

	var data []byte
	if flags&FlagCompressed != 0 {
		var err error
		data, err = expandSection(payload[key.Len:])
		if err != nil {
			return nil, nil, err
		}
	} else {
		// The payload aliases the inbound frame buffer; copy before it
		// escapes to the packet callback.
		data = slices.Clone(payload[key.Len:])
	}

	return nil, PacketEvent{Src: src, Data: data}, nil
}

// CreatePacketFrame wraps dst ‖ packet as a SEND_PACKET frame.
//
// The packet section is relay-routed framed data: the relay must read the
// destination key to route, so no session-key encryption is applied to it.
// Callers needing payload confidentiality must layer it explicitly.
func (s *Session) CreatePacketFrame(packet []byte, dst key.NodePublic) ([]byte, error) {
	if s.state != StateEstablished {
		return nil, ErrNotEstablished
	}

	var flags Flags
	section := packet

	if s.compression {
		if c, ok := compressSection(packet); ok {
			section = c
			flags = FlagCompressed
		}
	}

	body := make([]byte, 0, key.Len+len(section))
	body = append(body, dst.ToByteSlice()...)
	body = append(body, section...)

	return EncodeFlags(FrameSendPacket, flags, body)
}
