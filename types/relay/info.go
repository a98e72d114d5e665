package relay

import "slices"

// ClientInfo is the sealed record a client sends right after receiving the
// server key.
type ClientInfo struct {
	Version int `json:"version"`

	// ID is the client's bootstrap identifier, e.g. the MAC address of the
	// virtual interface it fronts.
	ID string `json:"id"`

	// Token authenticates the client with the relay.
	Token string `json:"token,omitempty"`

	Features []string `json:"features,omitempty"`

	MaxPacketSize int `json:"max_packet_size,omitempty"`

	SendKeepalive bool `json:"send_keepalive,omitempty"`
}

// ServerInfo is the sealed record the relay answers the client info with.
type ServerInfo struct {
	Version int `json:"version"`

	Name   string `json:"name"`
	Region string `json:"region"`

	Features []string `json:"features,omitempty"`

	MaxPacketSize int `json:"max_packet_size,omitempty"`

	// KeepaliveInterval is in seconds; zero means the server default.
	KeepaliveInterval int `json:"keepalive_interval,omitempty"`
}

func hasFeature(features []string, f string) bool {
	return slices.Contains(features, f)
}
