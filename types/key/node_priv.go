package key

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/integrated-reasoning/vnet/types"
	"go4.org/mem"
	"golang.org/x/crypto/curve25519"
)

// NodePrivate is the private half of a node keypair.
//
// It is generated once per client instance and lives as long as the owning
// connection manager does. It is usable for key derivation only, not general
// signing.
type NodePrivate struct {
	_   types.Incomparable
	key NakedKey
}

// NewNode creates and returns a new node private key.
func NewNode() NodePrivate {
	var ret NodePrivate
	rand(ret.key[:])
	// Key used for X25519 derivation, so needs to be clamped.
	clamp25519Private(ret.key[:])
	return ret
}

// IsZero reports whether k is the zero value.
func (n NodePrivate) IsZero() bool {
	return n.Equal(NodePrivate{})
}

// Equal reports whether k and other are the same key.
func (n NodePrivate) Equal(other NodePrivate) bool {
	return subtle.ConstantTimeCompare(n.key[:], other.key[:]) == 1
}

// Public returns the NodePublic for k.
// Panics if NodePrivate is zero.
func (n NodePrivate) Public() NodePublic {
	if n.IsZero() {
		panic("can't take the public key of a zero NodePrivate")
	}
	var ret NodePublic
	curve25519.ScalarBaseMult((*[32]byte)(&ret), (*[32]byte)(&n.key))
	return ret
}

// SessionTo derives the symmetric SessionKey shared between k and the peer
// public key p.
//
// The derivation is deterministic given the same keypair and peer key; all
// randomness lives in per-message nonces. Returns ErrInvalidPeerKey if p is
// not a usable curve point.
func (n NodePrivate) SessionTo(p NodePublic) (SessionKey, error) {
	if n.IsZero() {
		panic("can't derive a session key from a zero NodePrivate")
	}
	if p.IsZero() {
		return SessionKey{}, ErrInvalidPeerKey
	}

	shared, err := curve25519.X25519(n.key[:], p[:])
	if err != nil {
		return SessionKey{}, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}

	return makeSessionKey(shared)
}

func (n NodePrivate) AppendText(b []byte) ([]byte, error) {
	return appendHexKey(b, nodePrivateHexPrefix, n.key[:]), nil
}

func (n NodePrivate) MarshalText() ([]byte, error) {
	return n.AppendText(nil)
}

func (n *NodePrivate) UnmarshalText(b []byte) error {
	return parseHex(n.key[:], mem.B(b), mem.S(nodePrivateHexPrefix))
}

func UnmarshalPrivate(s string) (*NodePrivate, error) {
	priv := new(NodePrivate)

	if err := json.Unmarshal([]byte(s), priv); err != nil {
		return nil, err
	}

	return priv, nil
}

func (n NodePrivate) Marshal() string {
	b, _ := json.Marshal(n)
	return string(b)
}
