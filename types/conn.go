package types

import (
	"context"
	"io"
	"time"
)

// MetaConn is the subset of net.Conn that the relay machinery needs to own a
// connection, without caring what actually carries it.
type MetaConn interface {
	io.ReadWriteCloser

	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Transport is an established duplex message stream to a relay server.
//
// Inbound events are delivered to the TransportHandler registered at dial
// time, but only after Start; this lets the dialing side finish wiring up
// before the relay's first frame lands.
type Transport interface {
	// Start begins delivery of inbound events. Called at most once.
	Start()

	// Send writes one whole protocol frame to the relay.
	Send(b []byte) error

	Close() error
}

// TransportHandler receives transport callbacks.
//
// Implementations of Transport must invoke these sequentially; a handler is
// never called concurrently with itself or with the other callbacks.
type TransportHandler interface {
	// HandleMessage is invoked with one complete inbound frame.
	HandleMessage(b []byte)

	// HandleClosed is invoked exactly once, when the transport dies.
	// err carries the closing cause, nil on clean shutdown.
	HandleClosed(err error)
}

// Dialer opens Transports to a relay server.
//
// Dial blocks until the byte stream is open, the context expires, or the
// attempt fails. A successful return means the relay can be expected to push
// its first handshake frame.
type Dialer interface {
	Dial(ctx context.Context, h TransportHandler) (Transport, error)
}
