// Package key contains the key material used by the relay protocol: the
// long-lived node keypair that identifies a client, and the symmetric session
// key derived from it during the handshake.
package key

import "errors"

const (
	nodePublicHexPrefix  = "pubkey:"
	nodePrivateHexPrefix = "privkey:"
)

var (
	// ErrInvalidPeerKey is returned when a peer public key is not a usable
	// curve point.
	ErrInvalidPeerKey = errors.New("invalid peer public key")

	// ErrAuthenticationFailed is returned when an AEAD open does not verify.
	//
	// It indicates either corruption or a malicious peer; callers must abort
	// processing of the offending frame, never ignore it.
	ErrAuthenticationFailed = errors.New("authentication failed")
)
