package dial

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/netip"

	"github.com/integrated-reasoning/vnet/types"
	"github.com/quic-go/quic-go"
)

// QUICProtocol is the ALPN identifier for the relay protocol over QUIC.
const QUICProtocol = "vnet-relay/1"

// QUIC dials a single bidirectional QUIC stream to the relay.
//
// The returned MetaConn closes both the stream and its connection.
func QUIC(ctx context.Context, opts Opts) (types.MetaConn, error) {
	opts.SetDefaults()

	tlsConf := &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{QUICProtocol},
	}

	switch {
	case opts.ExpectCertCN != "":
		tlsConf.ServerName = opts.ExpectCertCN
	case opts.Domain != "":
		tlsConf.ServerName = opts.Domain
	}

	var addr string
	if len(opts.Addrs) > 0 {
		addr = netip.AddrPortFrom(opts.Addrs[0], opts.Port).String()
	} else {
		addr = fmt.Sprintf("%s:%d", opts.Domain, opts.Port)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer dialCancel()

	conn, err := quic.DialAddr(dialCtx, addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("quic dial failed: %w", err)
	}

	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		conn.CloseWithError(0, "could not open stream")
		return nil, fmt.Errorf("quic stream failed: %w", err)
	}

	return &quicStreamConn{MetaConn: stream, conn: conn}, nil
}

// quicStreamConn ties the lifetime of the connection to its single stream.
type quicStreamConn struct {
	types.MetaConn

	conn quic.Connection
}

func (q *quicStreamConn) Close() error {
	err := q.MetaConn.Close()
	q.conn.CloseWithError(0, "closed")
	return err
}
