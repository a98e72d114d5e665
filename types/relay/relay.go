// Package relay contains all code necessary to speak the relay wire protocol:
// the frame codec, the handshake state machine, peer presence tracking, and
// the control-message records.
//
// This package is transport-agnostic; it turns inbound frames into events and
// outbound intents into frames, and leaves moving bytes to its owner.
package relay
