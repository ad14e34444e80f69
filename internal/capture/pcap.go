package capture

import (
	"encoding/binary"
	"fmt"
	"io"

	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/log"
)

const (
	// Magic numbers as read little-endian from the first 4 bytes.
	pcapMagicMicroseconds        = 0xa1b2c3d4
	pcapMagicMicrosecondsSwapped = 0xd4c3b2a1
	pcapMagicNanoseconds         = 0xa1b23c4d
	pcapMagicNanosecondsSwapped  = 0x4d3cb2a1

	pcapVersionMajor = 2
	pcapVersionMinor = 4

	pcapGlobalHeaderLength = 24
	pcapRecordHeaderLength = 16
)

// PCAP decodes libpcap capture files in either byte order, with microsecond
// or nanosecond timestamps.
type PCAP struct {
	log log.Logger
}

func NewPCAP(logger log.Logger) *PCAP {
	return &PCAP{log: logger.WithField("container", "PCAP")}
}

func (p *PCAP) Format() Format { return FormatPCAP }
func (p *PCAP) container()     {}

// ReadGlobalHeader decides the stream byte order from the magic number and
// validates the version and link type.
func (p *PCAP) ReadGlobalHeader(r *Reader) (GlobalHeader, error) {
	gh := GlobalHeader{Format: FormatPCAP, TimestampScale: 1e-6}
	if r.Remaining() < pcapGlobalHeaderLength {
		p.log.Errorf("The PCAP packet capture is %d bytes long, shorter than the %d byte global header",
			r.Remaining(), pcapGlobalHeaderLength)
		return gh, fmt.Errorf("%w: pcap global header truncated", core.ErrFormat)
	}

	r.SetOrder(binary.LittleEndian)
	f := fieldReader{r: r}
	magic := f.u32()
	switch magic {
	case pcapMagicMicroseconds:
	case pcapMagicMicrosecondsSwapped:
		r.SetOrder(binary.BigEndian)
	case pcapMagicNanoseconds:
		gh.TimestampScale = 1e-9
	case pcapMagicNanosecondsSwapped:
		r.SetOrder(binary.BigEndian)
		gh.TimestampScale = 1e-9
	default:
		p.log.Errorf("The PCAP packet capture global header does not contain the expected magic number, is 0x%08X not 0x%08X or 0x%08X",
			magic, pcapMagicMicroseconds, pcapMagicMicrosecondsSwapped)
		return gh, fmt.Errorf("%w: pcap magic number 0x%08X", core.ErrFormat, magic)
	}
	if r.Order() == binary.BigEndian {
		p.log.Debug("The PCAP packet capture uses the opposite byte order, swapping all multi-byte fields")
	}

	major, minor := f.u16(), f.u16()
	_ = f.i32() // thiszone
	_ = f.u32() // sigfigs
	gh.SnapLen = f.u32()
	network := f.u32()
	if f.err != nil {
		return gh, f.err
	}

	if major != pcapVersionMajor || minor != pcapVersionMinor {
		p.log.Errorf("The PCAP packet capture global header does not contain the expected version, is %d.%d not %d.%d",
			major, minor, pcapVersionMajor, pcapVersionMinor)
		return gh, fmt.Errorf("%w: pcap version %d.%d", core.ErrFormat, major, minor)
	}

	gh.LinkType = core.LinkType(network)
	if !gh.LinkType.Supported() {
		p.log.Errorf("The PCAP packet capture global header contains an unexpected link type of %d", network)
		return gh, fmt.Errorf("%w: pcap link type %d", core.ErrUnsupportedLinkType, network)
	}
	return gh, nil
}

// ReadRecordHeader reads the next 16-byte record header.
func (p *PCAP) ReadRecordHeader(r *Reader, gh GlobalHeader) (RecordHeader, error) {
	if r.Remaining() == 0 {
		return RecordHeader{}, io.EOF
	}
	if r.Remaining() < pcapRecordHeaderLength {
		p.log.Warnf("Ignoring %d trailing bytes after the last PCAP record", r.Remaining())
		return RecordHeader{}, io.EOF
	}

	f := fieldReader{r: r}
	sec, frac := f.u32(), f.u32()
	saved, actual := f.u32(), f.u32()
	if f.err != nil {
		return RecordHeader{}, f.err
	}

	if int64(saved) > int64(r.Remaining()) {
		p.log.Errorf("The PCAP packet capture record declares %d captured bytes but only %d remain", saved, r.Remaining())
		return RecordHeader{}, fmt.Errorf("%w: pcap record of %d bytes", core.ErrTruncated, saved)
	}

	return RecordHeader{
		LinkType:       gh.LinkType,
		CapturedLength: int(saved),
		OriginalLength: int(actual),
		PayloadLength:  payloadLength(gh.LinkType, int(saved)),
		Timestamp:      float64(sec) + float64(frac)*gh.TimestampScale,
	}, nil
}
