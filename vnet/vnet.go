// Package vnet connects a virtual machine's network interface to a relay
// server.
//
// The Manager owns one transport connection and one relay session: it drives
// the handshake, queues outbound packets while disconnected, reconnects with
// exponential backoff, and surfaces relayed packets through a callback. The
// NIC wraps a Manager with Ethernet-level concerns for a VM's virtual
// interface.
package vnet
