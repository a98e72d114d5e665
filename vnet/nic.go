package vnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/integrated-reasoning/vnet/types/key"
)

const (
	ethHeaderLen = 14

	// DefaultMTU is the standard Ethernet payload limit.
	DefaultMTU = 1500

	etherTypeIPv4 = 0x0800
	etherTypeARP  = 0x0806
	etherTypeIPv6 = 0x86dd
)

var (
	ErrBadMACAddress = errors.New("MAC address must be 6 bytes")
	ErrFrameTooLarge = errors.New("ethernet payload exceeds MTU")
)

var broadcastMAC = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// NIC fronts a Manager as a virtual Ethernet interface. Outbound frames from
// the machine are steered to the relay peer whose MAC we have learned, or
// flooded to every present peer when the destination is broadcast or unknown.
// Inbound frames populate the learning table from their source MAC.
type NIC struct {
	mgr     *Manager
	logger  *slog.Logger
	mac     [6]byte
	mtu     int
	deliver func(frame []byte)

	mu    sync.Mutex
	table map[[6]byte]key.NodePublic
}

// NewNIC wraps mgr as an interface with the given hardware address. Frames
// addressed to the machine are handed to deliver; the Manager's OnPacket
// callback is claimed by the NIC and must be left unset in its Config.
func NewNIC(mgr *Manager, mac net.HardwareAddr, deliver func(frame []byte)) (*NIC, error) {
	if len(mac) != 6 {
		return nil, fmt.Errorf("%w: got %d", ErrBadMACAddress, len(mac))
	}
	if deliver == nil {
		return nil, errors.New("deliver callback is required")
	}

	n := &NIC{
		mgr:     mgr,
		logger:  mgr.logger.With("component", "nic"),
		mtu:     DefaultMTU,
		deliver: deliver,
		table:   make(map[[6]byte]key.NodePublic),
	}
	copy(n.mac[:], mac)

	mgr.setOnPacket(n.handleInbound)

	return n, nil
}

// MAC returns the interface hardware address.
func (n *NIC) MAC() net.HardwareAddr {
	return net.HardwareAddr(bytes.Clone(n.mac[:]))
}

// MTU returns the interface payload limit.
func (n *NIC) MTU() int {
	return n.mtu
}

// SendFrame takes one outbound Ethernet frame from the machine. Frames with
// an ethertype the relay network does not carry are silently ignored;
// oversized payloads are an error.
func (n *NIC) SendFrame(frame []byte) error {
	if len(frame) < ethHeaderLen {
		return fmt.Errorf("invalid ethernet frame: %d bytes", len(frame))
	}
	if len(frame)-ethHeaderLen > n.mtu {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame)-ethHeaderLen)
	}

	switch et := binary.BigEndian.Uint16(frame[12:14]); et {
	case etherTypeIPv4, etherTypeARP, etherTypeIPv6:
	default:
		n.logger.Debug("ignoring frame with unhandled ethertype", "ethertype", et)
		return nil
	}

	var dst [6]byte
	copy(dst[:], frame[0:6])

	if dst != broadcastMAC {
		n.mu.Lock()
		peer, ok := n.table[dst]
		n.mu.Unlock()

		if ok {
			n.mgr.SendTo(frame, peer)
			return nil
		}
	}

	// Broadcast, or a destination we have not learned yet. Let every
	// present peer see it; the one it is for will answer and get learned.
	for _, peer := range n.mgr.Peers() {
		n.mgr.SendTo(frame, peer)
	}
	return nil
}

func (n *NIC) handleInbound(src key.NodePublic, pkt []byte) {
	if len(pkt) < ethHeaderLen {
		n.logger.Debug("dropping short inbound frame", "len", len(pkt))
		return
	}

	var srcMAC [6]byte
	copy(srcMAC[:], pkt[6:12])

	n.mu.Lock()
	n.table[srcMAC] = src
	n.mu.Unlock()

	var dst [6]byte
	copy(dst[:], pkt[0:6])

	if dst != n.mac && dst != broadcastMAC {
		return
	}

	n.deliver(pkt)
}

// Forget drops any learned association for the given peer, e.g. after a
// peer-gone notification.
func (n *NIC) Forget(peer key.NodePublic) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for mac, k := range n.table {
		if k == peer {
			delete(n.table, mac)
		}
	}
}
