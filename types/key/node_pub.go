package key

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go4.org/mem"
)

// NodePublic is the public half of a node keypair. It identifies a client (or
// the relay server itself) on the wire.
type NodePublic NakedKey

func (n NodePublic) Debug() string {
	return fmt.Sprintf("%x", n)
}

func (n NodePublic) HexString() string {
	return hex.EncodeToString(n[:])
}

// IsZero reports whether k is the zero value.
func (n NodePublic) IsZero() bool {
	return n == NodePublic{}
}

// AppendText implements encoding.TextAppender. It appends a typed prefix
// followed by hex encoded representation of k to b.
func (n NodePublic) AppendText(b []byte) ([]byte, error) {
	return appendHexKey(b, nodePublicHexPrefix, n[:]), nil
}

// MarshalText implements encoding.TextMarshaler. It returns a typed prefix
// followed by a hex encoded representation of k.
func (n NodePublic) MarshalText() ([]byte, error) {
	return n.AppendText(nil)
}

// UnmarshalText implements encoding.TextUnmarshaler. It expects a typed prefix
// followed by a hex encoded representation of k.
func (n *NodePublic) UnmarshalText(b []byte) error {
	return parseHex(n[:], mem.B(b), mem.S(nodePublicHexPrefix))
}

func UnmarshalPublic(s string) (*NodePublic, error) {
	if !strings.HasSuffix(s, "\"") && !strings.HasPrefix(s, "\"") {
		s = fmt.Sprintf("\"%s\"", s)
	}

	pub := new(NodePublic)

	if err := json.Unmarshal([]byte(s), pub); err != nil {
		return nil, err
	}

	return pub, nil
}

func (n NodePublic) Marshal() string {
	b, _ := json.Marshal(n)
	return string(b)
}

// MakeNodePublic parses a 32-byte raw value as a NodePublic.
//
// This should be used only when deserializing a NodePublic from a
// binary protocol.
func MakeNodePublic(raw [32]byte) NodePublic {
	return raw
}

func (n NodePublic) ToByteSlice() []byte {
	return n[:]
}
