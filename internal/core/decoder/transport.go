package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/pcap-analyser/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
	tcpHeaderMaxLen = 60

	icmpHeaderLen = 4 // type, code, checksum
	igmpHeaderLen = 8 // IGMPv2
)

// decodeUDP decodes UDP header. data is exactly the IP payload, so the
// declared length must match it.
func decodeUDP(data []byte) (core.TransportHeader, []byte, error) {
	if len(data) < udpHeaderLen {
		return core.TransportHeader{}, nil, fmt.Errorf("%w: udp header needs %d bytes, have %d",
			core.ErrPacketTooShort, udpHeaderLen, len(data))
	}

	transport := core.TransportHeader{
		Protocol:  uint8(core.TransportUDP),
		HeaderLen: udpHeaderLen,
		SrcPort:   binary.BigEndian.Uint16(data[0:2]),
		DstPort:   binary.BigEndian.Uint16(data[2:4]),
		Length:    binary.BigEndian.Uint16(data[4:6]),
	}
	// Checksum (2 bytes at offset 6) - not verified

	if transport.Length < udpHeaderLen {
		return transport, nil, fmt.Errorf("%w: udp length %d is shorter than the header",
			core.ErrLengthMismatch, transport.Length)
	}
	if int(transport.Length) != len(data) {
		return transport, nil, fmt.Errorf("%w: udp length %d, ip payload length %d",
			core.ErrLengthMismatch, transport.Length, len(data))
	}
	return transport, data[udpHeaderLen:], nil
}

// decodeTCP decodes TCP header.
func decodeTCP(data []byte) (core.TransportHeader, []byte, error) {
	if len(data) < tcpHeaderMinLen {
		return core.TransportHeader{}, nil, fmt.Errorf("%w: tcp header needs %d bytes, have %d",
			core.ErrPacketTooShort, tcpHeaderMinLen, len(data))
	}

	transport := core.TransportHeader{
		Protocol: uint8(core.TransportTCP),
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		SeqNum:   binary.BigEndian.Uint32(data[4:8]),
		AckNum:   binary.BigEndian.Uint32(data[8:12]),
	}

	// Data offset is the upper nibble, in 32-bit words
	transport.HeaderLen = int(data[12]>>4) * 4
	if transport.HeaderLen < tcpHeaderMinLen || transport.HeaderLen > tcpHeaderMaxLen {
		return transport, nil, fmt.Errorf("%w: tcp header length %d not in [%d,%d]",
			core.ErrHeaderLength, transport.HeaderLen, tcpHeaderMinLen, tcpHeaderMaxLen)
	}
	if len(data) < transport.HeaderLen {
		return transport, nil, fmt.Errorf("%w: tcp header length %d exceeds %d available bytes",
			core.ErrPacketTooShort, transport.HeaderLen, len(data))
	}

	// Byte 13: | reserved (2 bits) | URG ACK PSH RST SYN FIN |
	transport.TCPFlags = data[13] & 0x3F

	// Options are discarded
	return transport, data[transport.HeaderLen:], nil
}
