// Package socket implements the per-interface mDNS multicast endpoint (spec
// section 4.2): one UDP socket bound to one network interface, joined to
// the IPv4 and/or IPv6 mDNS groups as addresses for those families become
// available.
package socket

import "net"

// Port is the mDNS UDP port.
const Port = 5353

// TTL is the multicast TTL / hop limit used for every mDNS send, per RFC
// 6762 section 11.
const TTL = 255

var (
	// IPv4Group is the mDNS multicast group for IPv4.
	IPv4Group = net.UDPAddr{IP: net.ParseIP("224.0.0.251"), Port: Port}

	// IPv6Group is the mDNS multicast group for IPv6.
	IPv6Group = net.UDPAddr{IP: net.ParseIP("ff02::fb"), Port: Port}
)

// Endpoint is the origin or destination of a packet: an interface index
// paired with a UDP address.
type Endpoint struct {
	InterfaceIndex int
	Address        *net.UDPAddr
}

// IsLegacy returns true if this endpoint belongs to a "legacy" or
// "one-shot" querier that does not join the multicast group and expects
// a unicast reply.
//
// See https://tools.ietf.org/html/rfc6762#section-6.7.
func (e Endpoint) IsLegacy() bool {
	return e.Address.Port != Port
}

// InboundPacket is a datagram received on a Socket.
type InboundPacket struct {
	Source Endpoint
	Data   []byte
}

// Close returns the packet's buffer to the shared pool. It must be called
// exactly once per packet returned from Socket.Receive.
func (p *InboundPacket) Close() {
	putBuffer(p.Data)
	p.Data = nil
}

// OutboundPacket is a datagram to transmit via a Socket.
type OutboundPacket struct {
	Destination Endpoint
	Data        []byte
}
