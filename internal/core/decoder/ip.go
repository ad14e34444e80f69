package decoder

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/pcap-analyser/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv4HeaderMaxLen = 60
	ipv6HeaderLen    = 40

	ipProtocolEIGRP = 88
)

// decodeIPv4 decodes IPv4 header. The returned payload is bounded by the
// header's total length, so link-layer padding is dropped.
func decodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, nil, fmt.Errorf("%w: ipv4 header needs %d bytes, have %d",
			core.ErrPacketTooShort, ipv4HeaderMinLen, len(data))
	}

	ip := core.IPHeader{Version: data[0] >> 4}
	if ip.Version != 4 {
		return ip, nil, fmt.Errorf("%w: ipv4 header version is %d not 4", core.ErrVersionMismatch, ip.Version)
	}

	// IHL is the lower nibble, in 32-bit words
	ip.HeaderLen = int(data[0]&0x0F) * 4
	if ip.HeaderLen < ipv4HeaderMinLen || ip.HeaderLen > ipv4HeaderMaxLen {
		return ip, nil, fmt.Errorf("%w: ipv4 header length %d not in [%d,%d]",
			core.ErrHeaderLength, ip.HeaderLen, ipv4HeaderMinLen, ipv4HeaderMaxLen)
	}
	if len(data) < ip.HeaderLen {
		return ip, nil, fmt.Errorf("%w: ipv4 header length %d exceeds %d available bytes",
			core.ErrPacketTooShort, ip.HeaderLen, len(data))
	}

	ip.TotalLen = binary.BigEndian.Uint16(data[2:4])
	ip.FragmentOffset = binary.BigEndian.Uint16(data[6:8])
	ip.TTL = data[8]
	ip.Protocol = data[9]
	ip.SrcIP = netip.AddrFrom4([4]byte(data[12:16]))
	ip.DstIP = netip.AddrFrom4([4]byte(data[16:20]))

	if int(ip.TotalLen) < ip.HeaderLen || int(ip.TotalLen) > len(data) {
		return ip, nil, fmt.Errorf("%w: ipv4 total length %d with header length %d, %d bytes available",
			core.ErrLengthMismatch, ip.TotalLen, ip.HeaderLen, len(data))
	}

	// Options between the fixed header and HeaderLen are discarded
	return ip, data[ip.HeaderLen:ip.TotalLen], nil
}

// decodeIPv6 decodes IPv6 header. Extension headers are not walked; the next
// header value is dispatched as-is.
func decodeIPv6(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv6HeaderLen {
		return core.IPHeader{}, nil, fmt.Errorf("%w: ipv6 header needs %d bytes, have %d",
			core.ErrPacketTooShort, ipv6HeaderLen, len(data))
	}

	ip := core.IPHeader{Version: data[0] >> 4, HeaderLen: ipv6HeaderLen}
	if ip.Version != 6 {
		return ip, nil, fmt.Errorf("%w: ipv6 header version is %d not 6", core.ErrVersionMismatch, ip.Version)
	}

	payloadLen := int(binary.BigEndian.Uint16(data[4:6]))
	ip.TotalLen = uint16(ipv6HeaderLen + payloadLen)
	ip.Protocol = data[6] // next header
	ip.TTL = data[7]      // hop limit
	ip.SrcIP = netip.AddrFrom16([16]byte(data[8:24]))
	ip.DstIP = netip.AddrFrom16([16]byte(data[24:40]))

	if ipv6HeaderLen+payloadLen > len(data) {
		return ip, nil, fmt.Errorf("%w: ipv6 payload length %d, %d bytes available",
			core.ErrLengthMismatch, payloadLen, len(data)-ipv6HeaderLen)
	}
	return ip, data[ipv6HeaderLen : ipv6HeaderLen+payloadLen], nil
}

// isIPFragment checks if an IP packet is a fragment. A fragment's payload is
// not a complete transport segment and is not decoded further.
func isIPFragment(ip core.IPHeader) bool {
	if ip.Version != 4 {
		return false
	}
	moreFragments := ip.FragmentOffset&0x2000 != 0
	offset := ip.FragmentOffset & 0x1FFF
	return moreFragments || offset != 0
}
