package vnet

import (
	"log/slog"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/integrated-reasoning/vnet/types"
	"github.com/integrated-reasoning/vnet/types/dial"
	"github.com/integrated-reasoning/vnet/types/key"
)

const (
	DefaultQueueLimit = 64

	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 32 * time.Second
)

// Config carries the construction parameters of a Manager.
type Config struct {
	// Relay describes the one upstream relay to connect to. Used by the
	// default stream dialer; ignored when Dialer is set.
	Relay types.RelayInformation

	// Dialer overrides how transports to the relay are opened.
	Dialer types.Dialer

	// Token authenticates the client with the relay.
	Token string

	// ClientID is the bootstrap identifier sent in the client info, e.g. the
	// MAC address of the fronted virtual interface.
	ClientID string

	// OnPacket is invoked with every application packet relayed to us. It is
	// never invoked concurrently with itself, nor after Destroy returns.
	OnPacket func(src key.NodePublic, pkt []byte)

	// QueueLimit bounds the outbound packet queue held while disconnected.
	// Default 64.
	QueueLimit int

	// BaseDelay and MaxDelay shape the reconnect backoff: the n-th
	// consecutive failure is retried after BaseDelay×2ⁿ, capped at MaxDelay.
	// Defaults 1s and 32s.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// MaxAttempts bounds consecutive failed connection attempts. Left unset,
	// the client retries indefinitely.
	MaxAttempts gonull.Nullable[uint32]

	// OnGiveUp is invoked once if MaxAttempts is exhausted.
	OnGiveUp func(err error)

	// EstablishTimeout bounds the whole handshake, from transport open to
	// Established. Left unset it defaults to dial.DefaultEstablishTimeout;
	// a negative value disables the bound.
	EstablishTimeout gonull.Nullable[time.Duration]

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.QueueLimit <= 0 {
		c.QueueLimit = DefaultQueueLimit
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if !c.EstablishTimeout.Valid {
		c.EstablishTimeout = gonull.NewNullable(dial.DefaultEstablishTimeout)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
