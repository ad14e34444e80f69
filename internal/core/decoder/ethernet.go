package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/pcap-analyser/internal/core"
	"github.com/google/gopacket/layers"
)

const (
	// Ethernet constants
	ethernetHeaderLen  = 14
	ethernetAddressLen = 12 // not counted in Frame.PayloadLength
	vlanHeaderLen      = 4

	// EtherType values gopacket does not name
	etherTypeRARP = 0x8035

	// Lower EtherType values are IEEE 802.3 length fields
	etherTypeMinimum = 0x0600

	// Reserved; stands in for an unrecognised loopback address family
	etherTypeNone = 0xFFFF

	loopbackHeaderLen  = 4
	ciscoHDLCHeaderLen = 4
)

// decodeEthernet decodes Ethernet frame header (including VLAN tags).
// Returns EthernetHeader and remaining payload.
func decodeEthernet(data []byte) (core.EthernetHeader, []byte, error) {
	if len(data) < ethernetHeaderLen {
		return core.EthernetHeader{}, nil, fmt.Errorf("%w: ethernet header needs %d bytes, have %d",
			core.ErrPacketTooShort, ethernetHeaderLen, len(data))
	}

	eth := core.EthernetHeader{}
	copy(eth.DstMAC[:], data[0:6])
	copy(eth.SrcMAC[:], data[6:12])

	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	// VLAN tags can be nested (QinQ)
	var vlans []uint16
	for layers.EthernetType(etherType) == layers.EthernetTypeDot1Q || layers.EthernetType(etherType) == layers.EthernetTypeQinQ {
		if len(data) < offset+vlanHeaderLen {
			return eth, nil, fmt.Errorf("%w: vlan tag at offset %d truncated", core.ErrPacketTooShort, offset)
		}

		// VLAN header: 2 bytes TCI + 2 bytes EtherType
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		vlans = append(vlans, tci&0x0FFF)

		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	eth.EtherType = etherType
	eth.VLANs = vlans
	return eth, data[offset:], nil
}

// classifyEtherType names the non-IP EtherTypes that are recognised and
// skipped. Anything else is ProtocolUnknown.
func classifyEtherType(etherType uint16) core.Protocol {
	if etherType < etherTypeMinimum {
		return core.ProtocolIEEE8023
	}
	switch layers.EthernetType(etherType) {
	case layers.EthernetTypeARP:
		return core.ProtocolARP
	case etherTypeRARP:
		return core.ProtocolRARP
	case layers.EthernetTypeLinkLayerDiscovery:
		return core.ProtocolLLDP
	case layers.EthernetTypeEthernetCTP:
		return core.ProtocolLoopback
	}
	return core.ProtocolUnknown
}

// decodeLoopback decodes the BSD loopback header of a Null link-type frame:
// a 4-byte address family in the capturing host's byte order.
func decodeLoopback(data []byte) (uint16, []byte, error) {
	if len(data) < loopbackHeaderLen {
		return 0, nil, fmt.Errorf("%w: loopback header needs %d bytes, have %d",
			core.ErrPacketTooShort, loopbackHeaderLen, len(data))
	}

	family := binary.LittleEndian.Uint32(data)
	if family > 0xFF {
		family = binary.BigEndian.Uint32(data)
	}
	if family > 0xFF {
		return etherTypeNone, data[loopbackHeaderLen:], nil
	}
	switch layers.ProtocolFamily(family) {
	case layers.ProtocolFamilyIPv4:
		return uint16(layers.EthernetTypeIPv4), data[loopbackHeaderLen:], nil
	case layers.ProtocolFamilyIPv6BSD, layers.ProtocolFamilyIPv6FreeBSD, layers.ProtocolFamilyIPv6Darwin, layers.ProtocolFamilyIPv6Linux:
		return uint16(layers.EthernetTypeIPv6), data[loopbackHeaderLen:], nil
	}
	return etherTypeNone, data[loopbackHeaderLen:], nil
}

// decodeCiscoHDLC decodes the address, control and protocol fields of a
// Cisco HDLC frame. The protocol field carries an EtherType.
func decodeCiscoHDLC(data []byte) (uint16, []byte, error) {
	if len(data) < ciscoHDLCHeaderLen {
		return 0, nil, fmt.Errorf("%w: cisco hdlc header needs %d bytes, have %d",
			core.ErrPacketTooShort, ciscoHDLCHeaderLen, len(data))
	}
	return binary.BigEndian.Uint16(data[2:4]), data[ciscoHDLCHeaderLen:], nil
}
