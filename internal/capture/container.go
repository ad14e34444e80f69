// Package capture decodes capture container formats: the global header once,
// then one record header per captured frame.
package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/log"
)

// Format identifies a container variant.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatPCAP
	FormatSniffer
	FormatPCAPNG
)

func (f Format) String() string {
	switch f {
	case FormatPCAP:
		return "PCAP"
	case FormatSniffer:
		return "Sniffer"
	case FormatPCAPNG:
		return "PCAPNG"
	}
	return "Unknown"
}

// ethernetAddressLength is the MAC address pair at the head of every Ethernet
// frame, allowed for by the record header rather than the frame decoder.
const ethernetAddressLength = 12

// GlobalHeader is what the rest of the analyser needs from a container's global header.
type GlobalHeader struct {
	Format         Format
	LinkType       core.LinkType
	TimestampScale float64 // seconds per timestamp tick
	SnapLen        uint32
}

// RecordHeader describes one captured frame. CapturedLength bytes of frame data
// follow the header, then TrailerLength bytes of container padding/options.
type RecordHeader struct {
	LinkType       core.LinkType
	CapturedLength int
	OriginalLength int
	PayloadLength  int     // CapturedLength less the Ethernet address allowance for Ethernet records
	Timestamp      float64 // seconds
	TrailerLength  int
}

// Container is implemented by *PCAP, *Sniffer and *PCAPNG only.
// ReadRecordHeader returns io.EOF once no further record is present.
type Container interface {
	Format() Format
	ReadGlobalHeader(r *Reader) (GlobalHeader, error)
	ReadRecordHeader(r *Reader, gh GlobalHeader) (RecordHeader, error)
	container()
}

var snifferMagic = []byte("TRSNIFF data    \x1a")

// Detect picks the container variant from the leading magic bytes.
func Detect(data []byte, logger log.Logger) (Container, error) {
	if len(data) < 4 {
		logger.Errorf("The packet capture is %d bytes long, too short to hold a magic number", len(data))
		return nil, fmt.Errorf("%w: %d bytes is too short for a magic number", core.ErrFormat, len(data))
	}

	switch binary.LittleEndian.Uint32(data) {
	case pcapMagicMicroseconds, pcapMagicMicrosecondsSwapped, pcapMagicNanoseconds, pcapMagicNanosecondsSwapped:
		return NewPCAP(logger), nil
	case pcapngBlockTypeSectionHeader:
		return NewPCAPNG(logger), nil
	}
	if bytes.HasPrefix(data, snifferMagic[:8]) {
		return NewSniffer(logger), nil
	}

	logger.Errorf("The packet capture starts with 0x%08X which is not a PCAP, PCAPNG or Sniffer magic number",
		binary.BigEndian.Uint32(data))
	return nil, fmt.Errorf("%w: unknown magic number 0x%08X", core.ErrFormat, binary.BigEndian.Uint32(data))
}

// payloadLength applies the Ethernet address allowance.
func payloadLength(link core.LinkType, captured int) int {
	if link != core.LinkTypeEthernet {
		return captured
	}
	if captured < ethernetAddressLength {
		return 0
	}
	return captured - ethernetAddressLength
}
