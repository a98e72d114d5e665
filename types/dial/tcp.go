package dial

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// WithTLS does a "full" dial, including TLS wrapping and CN checking
func WithTLS(ctx context.Context, opts Opts) (net.Conn, error) {
	netConn, err := TCP(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("tcp dial failed: %w", err)
	}

	if opts.TLS {
		netConn = TLS(netConn, opts)
	}

	return netConn, nil
}

func TLS(conn net.Conn, opts Opts) *tls.Conn {
	cfg := new(tls.Config)

	switch {
	case opts.ExpectCertCN != "":
		cfg.ServerName = opts.ExpectCertCN
	case opts.Domain != "":
		cfg.ServerName = opts.Domain
	default:
		// We assume this is sane, else some upstream provider of the opt isn't proper with what it gives
		panic("TLS defined, but no domain provided")
	}

	return tls.Client(conn, cfg)
}

// TCP dials every candidate address concurrently and returns the first
// connection that establishes.
func TCP(ctx context.Context, opts Opts) (net.Conn, error) {
	opts.SetDefaults()

	addrs, err := resolveAddrs(ctx, opts)
	if err != nil {
		return nil, err
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer dialCancel()

	type dialResult struct {
		c net.Conn
		e error
	}

	results := make(chan dialResult, len(addrs))

	for _, addr := range addrs {
		ap := netip.AddrPortFrom(addr, opts.Port)
		go func() {
			conn, err := dialOneTCP(dialCtx, ap)
			results <- dialResult{c: conn, e: err}
		}()
	}

	var errs []error

	for range addrs {
		select {
		case <-dialCtx.Done():
			return nil, fmt.Errorf("dial timeout: %w", errors.Join(append(errs, dialCtx.Err())...))
		case res := <-results:
			if res.e == nil {
				// Winner; the cancel above reaps the losers.
				return res.c, nil
			}
			errs = append(errs, res.e)
		}
	}

	return nil, fmt.Errorf("dial failure: %w", errors.Join(errs...))
}

func resolveAddrs(ctx context.Context, opts Opts) ([]netip.Addr, error) {
	if len(opts.Addrs) > 0 {
		return opts.Addrs, nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", opts.Domain)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup %s: %w", opts.Domain, err)
	}

	if len(addrs) == 0 {
		return nil, fmt.Errorf("DNS for %s returned no IP addresses", opts.Domain)
	}

	return addrs, nil
}

func dialOneTCP(ctx context.Context, ap netip.AddrPort) (net.Conn, error) {
	var d net.Dialer
	d.KeepAlive = time.Second * 10

	return d.DialContext(ctx, "tcp", ap.String())
}
