package vnet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/integrated-reasoning/vnet/types"
	"github.com/integrated-reasoning/vnet/types/dial"
	"github.com/integrated-reasoning/vnet/types/relay"
)

// StreamDialer opens the relay byte stream (HTTP upgrade over TCP/TLS, or a
// QUIC stream) and delimits protocol frames on it using their headers.
type StreamDialer struct {
	Relay types.RelayInformation

	// UseQUIC dials a QUIC stream instead of the HTTP upgrade path.
	UseQUIC bool
}

func (d *StreamDialer) Dial(ctx context.Context, h types.TransportHandler) (types.Transport, error) {
	opts := d.dialOpts()

	var (
		mc types.MetaConn
		br *bufio.Reader
		bw *bufio.Writer
	)

	if d.UseQUIC {
		c, err := dial.QUIC(ctx, opts)
		if err != nil {
			return nil, err
		}
		mc, br, bw = c, bufio.NewReader(c), bufio.NewWriter(c)
	} else {
		conn, brw, err := dial.HTTPUpgrade(ctx, opts, makeRelayURL(opts), relay.UpgradeProtocol)
		if err != nil {
			return nil, err
		}
		mc, br, bw = conn, brw.Reader, brw.Writer
	}

	return &streamTransport{mc: mc, br: br, bw: bw, handler: h}, nil
}

func (d *StreamDialer) dialOpts() dial.Opts {
	info := d.Relay

	opts := dial.Opts{
		Domain:       info.Domain,
		TLS:          !info.IsInsecure,
		QUIC:         d.UseQUIC,
		ExpectCertCN: info.CertCN.Val,
	}

	if info.IPs.Valid {
		opts.Addrs = info.IPs.Val
	}

	switch {
	case d.UseQUIC && info.QUICPort.Valid:
		opts.Port = info.QUICPort.Val
	case opts.TLS && info.HTTPSPort.Valid:
		opts.Port = info.HTTPSPort.Val
	case !opts.TLS && info.HTTPPort.Valid:
		opts.Port = info.HTTPPort.Val
	}

	return opts
}

func makeRelayURL(opts dial.Opts) string {
	proto := "http"
	if opts.TLS {
		proto = "https"
	}

	domain := opts.Domain
	if domain == "" {
		domain = "relay.vnet"
	}

	return fmt.Sprintf("%s://%s/relay", proto, domain)
}

// streamTransport frames the relay protocol over an ordered byte stream: the
// read loop slices the stream into whole frames using the fixed header, and
// hands each one to the handler.
type streamTransport struct {
	mc      types.MetaConn
	br      *bufio.Reader
	handler types.TransportHandler

	mu sync.Mutex
	bw *bufio.Writer

	closed atomic.Bool
}

func (t *streamTransport) Start() {
	go t.readLoop()
}

func (t *streamTransport) Send(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return net.ErrClosed
	}

	if _, err := t.bw.Write(b); err != nil {
		return err
	}
	return t.bw.Flush()
}

func (t *streamTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.mc.Close()
}

func (t *streamTransport) readLoop() {
	defer func() {
		if v := recover(); v != nil {
			t.Close()
			t.handler.HandleClosed(fmt.Errorf("transport reader panicked: %v", v))
		}
	}()

	var hdrBuf [relay.HeaderLen]byte

	for {
		if _, err := io.ReadFull(t.br, hdrBuf[:]); err != nil {
			t.Close()
			t.handler.HandleClosed(err)
			return
		}

		hdr, err := relay.DecodeHeader(hdrBuf[:])
		if err != nil {
			t.Close()
			t.handler.HandleClosed(err)
			return
		}

		frame := make([]byte, relay.HeaderLen+int(hdr.Length))
		copy(frame, hdrBuf[:])

		if _, err := io.ReadFull(t.br, frame[relay.HeaderLen:]); err != nil {
			t.Close()
			t.handler.HandleClosed(err)
			return
		}

		t.handler.HandleMessage(frame)
	}
}
