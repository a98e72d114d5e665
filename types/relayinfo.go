package types

import (
	"net/netip"

	"github.com/LukaGiorgadze/gonull"
)

// RelayInformation describes the one upstream relay a client connects to.
type RelayInformation struct {
	// The domain of the relay, to try to connect to.
	//
	// Can be empty ("") with IPs set.
	Domain string

	// Common Name on expected TLS certificate
	CertCN gonull.Nullable[string]

	// Forced IPs to try to connect to, bypasses Domain DNS lookup
	IPs gonull.Nullable[[]netip.Addr]

	// Optional HTTPS/TLS port override. (Default 443)
	HTTPSPort gonull.Nullable[uint16]

	// Optional HTTP port override. (Default 80)
	HTTPPort gonull.Nullable[uint16]

	// Optional QUIC port override. (Default 443)
	QUICPort gonull.Nullable[uint16]

	// Whether to connect to this relay via plain HTTP or not.
	//
	// Used for tests and development environments.
	IsInsecure bool
}
