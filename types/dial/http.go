package dial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPUpgrade dials the relay and upgrades the HTTP connection to the given
// protocol, returning the raw connection and its buffered reader/writer once
// both sides speak it.
func HTTPUpgrade(ctx context.Context, opts Opts, url, protocol string) (net.Conn, *bufio.ReadWriter, error) {
	netConn, err := WithTLS(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("dial failed: %w", err)
	}

	brw := bufio.NewReadWriter(bufio.NewReader(netConn), bufio.NewWriter(netConn))

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		netConn.Close()
		return nil, nil, fmt.Errorf("could not create http request: %w", err)
	}
	req.Header.Set("Upgrade", protocol)
	req.Header.Set("Connection", "Upgrade")

	if err = req.Write(brw); err != nil {
		netConn.Close()
		return nil, nil, fmt.Errorf("could not write http request: %w", err)
	}
	if err = brw.Flush(); err != nil {
		netConn.Close()
		return nil, nil, fmt.Errorf("could not flush http request: %w", err)
	}

	netConn.SetReadDeadline(time.Now().Add(time.Second * 5))

	resp, err := http.ReadResponse(brw.Reader, req)
	if err != nil {
		netConn.Close()
		return nil, nil, fmt.Errorf("could not read http response: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		netConn.Close()
		return nil, nil, fmt.Errorf("GET did not result in 101 response code: %d %q", resp.StatusCode, b)
	}

	netConn.SetReadDeadline(time.Time{})

	// At this point, we're speaking the protocol with the server.
	return netConn, brw, nil
}
