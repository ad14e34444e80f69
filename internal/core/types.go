// Package core defines the header and record types shared by every stage of the analyser.
package core

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket/layers"
)

// LinkType is the link-layer type declared by a capture container.
type LinkType uint32

const (
	LinkTypeNull      LinkType = 0
	LinkTypeEthernet  LinkType = 1
	LinkTypeCiscoHDLC LinkType = 104
)

// Supported reports whether records of this link type can be processed.
func (l LinkType) Supported() bool {
	switch l {
	case LinkTypeNull, LinkTypeEthernet, LinkTypeCiscoHDLC:
		return true
	}
	return false
}

func (l LinkType) String() string {
	switch l {
	case LinkTypeNull:
		return "Null/Loopback"
	case LinkTypeEthernet:
		return "Ethernet"
	case LinkTypeCiscoHDLC:
		return "Cisco HDLC"
	}
	return fmt.Sprintf("LinkType(%d)", uint32(l))
}

// Transport identifies the transport carrying an application message.
// TCP messages are treated as reliable, UDP messages as non-reliable.
type Transport uint8

const (
	TransportTCP = Transport(layers.IPProtocolTCP)
	TransportUDP = Transport(layers.IPProtocolUDP)
)

// Transports lists transports in report order.
var Transports = []Transport{TransportTCP, TransportUDP}

// Reliable reports whether the transport delivers reliably.
func (t Transport) Reliable() bool { return t == TransportTCP }

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "TCP"
	case TransportUDP:
		return "UDP"
	}
	return fmt.Sprintf("Transport(%d)", uint8(t))
}

// ReliabilityTitle returns the report section heading for the transport.
func (t Transport) ReliabilityTitle() string {
	if t.Reliable() {
		return "Reliable Messages"
	}
	return "Non-Reliable Messages"
}

// ParseTransport converts "tcp"/"udp" into a Transport.
func ParseTransport(s string) (Transport, error) {
	switch s {
	case "tcp", "TCP":
		return TransportTCP, nil
	case "udp", "UDP":
		return TransportUDP, nil
	}
	return 0, fmt.Errorf("%w: unknown transport %q", ErrConfigInvalid, s)
}

// Protocol is the innermost protocol reached while decoding a frame.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolIEEE8023
	ProtocolARP
	ProtocolRARP
	ProtocolLLDP
	ProtocolLoopback
	ProtocolIPv4
	ProtocolIPv6
	ProtocolICMPv4
	ProtocolICMPv6
	ProtocolIGMP
	ProtocolEIGRP
	ProtocolTCP
	ProtocolUDP
)

var protocolNames = [...]string{
	ProtocolUnknown:  "Unknown",
	ProtocolIEEE8023: "IEEE 802.3",
	ProtocolARP:      "ARP",
	ProtocolRARP:     "RARP",
	ProtocolLLDP:     "LLDP",
	ProtocolLoopback: "Loopback",
	ProtocolIPv4:     "IPv4",
	ProtocolIPv6:     "IPv6",
	ProtocolICMPv4:   "ICMPv4",
	ProtocolICMPv6:   "ICMPv6",
	ProtocolIGMP:     "IGMP",
	ProtocolEIGRP:    "EIGRP",
	ProtocolTCP:      "TCP",
	ProtocolUDP:      "UDP",
}

func (p Protocol) String() string {
	if int(p) < len(protocolNames) {
		return protocolNames[p]
	}
	return fmt.Sprintf("Protocol(%d)", uint8(p))
}

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16   // after VLAN tags are stripped
	VLANs     []uint16 // 0~2 VLAN IDs (QinQ scenarios have 2)
}

// IPHeader represents L3 IP header (IPv4/IPv6).
type IPHeader struct {
	Version        uint8
	HeaderLen      int
	SrcIP          netip.Addr
	DstIP          netip.Addr
	Protocol       uint8 // next header for IPv6
	TTL            uint8
	TotalLen       uint16 // header plus payload
	FragmentOffset uint16 // IPv4 flags and fragment offset word
}

// TransportHeader represents L4 transport layer header (TCP/UDP).
type TransportHeader struct {
	SrcPort   uint16
	DstPort   uint16
	Protocol  uint8
	HeaderLen int
	Length    uint16 // UDP declared length
	TCPFlags  uint8
	SeqNum    uint32
	AckNum    uint32
}
