package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/log"
)

const (
	pcapngBlockTypeSectionHeader        = 0x0a0d0d0a
	pcapngBlockTypeInterfaceDescription = 0x00000001
	pcapngBlockTypePacket               = 0x00000002 // obsolete
	pcapngBlockTypeSimplePacket         = 0x00000003
	pcapngBlockTypeInterfaceStatistics  = 0x00000005
	pcapngBlockTypeEnhancedPacket       = 0x00000006

	pcapngByteOrderMagic        = 0x1a2b3c4d
	pcapngByteOrderMagicSwapped = 0x4d3c2b1a

	pcapngVersionMajor = 1
	pcapngVersionMinor = 0

	pcapngMinBlockLength        = 12 // type, length, trailing length
	pcapngSectionHeaderLength   = 28
	pcapngInterfaceHeaderLength = 20
	pcapngPacketHeaderLength    = 28 // enhanced and obsolete packet blocks
	pcapngSimplePacketLength    = 16

	pcapngOptionEnd     = 0
	pcapngOptionTsResol = 9
)

type pcapngInterface struct {
	linkType core.LinkType
	scale    float64
}

// PCAPNG decodes pcap-ng captures. Interface description blocks set the link
// type and timestamp resolution for the packets that reference them.
type PCAPNG struct {
	log        log.Logger
	interfaces []pcapngInterface
}

func NewPCAPNG(logger log.Logger) *PCAPNG {
	return &PCAPNG{log: logger.WithField("container", "PCAPNG")}
}

func (p *PCAPNG) Format() Format { return FormatPCAPNG }
func (p *PCAPNG) container()     {}

// ReadGlobalHeader reads the first section header block. The link type is
// Ethernet until an interface description block says otherwise.
func (p *PCAPNG) ReadGlobalHeader(r *Reader) (GlobalHeader, error) {
	gh := GlobalHeader{Format: FormatPCAPNG, LinkType: core.LinkTypeEthernet, TimestampScale: 1e-6}
	if r.Remaining() < pcapngSectionHeaderLength {
		p.log.Errorf("The PCAPNG packet capture is %d bytes long, shorter than a section header block", r.Remaining())
		return gh, fmt.Errorf("%w: pcapng section header truncated", core.ErrFormat)
	}
	if err := p.readSectionHeader(r); err != nil {
		return gh, err
	}
	return gh, nil
}

func (p *PCAPNG) readSectionHeader(r *Reader) error {
	head, err := r.Peek(12)
	if err != nil {
		return err
	}
	switch binary.LittleEndian.Uint32(head[8:]) {
	case pcapngByteOrderMagic:
		r.SetOrder(binary.LittleEndian)
	case pcapngByteOrderMagicSwapped:
		r.SetOrder(binary.BigEndian)
	default:
		p.log.Errorf("The PCAPNG section header block does not contain the expected byte-order magic, is 0x%08X not 0x%08X",
			binary.LittleEndian.Uint32(head[8:]), pcapngByteOrderMagic)
		return fmt.Errorf("%w: pcapng byte-order magic 0x%08X", core.ErrFormat, binary.LittleEndian.Uint32(head[8:]))
	}

	f := fieldReader{r: r}
	blockType := f.u32()
	total := f.u32()
	_ = f.u32() // byte-order magic
	major, minor := f.u16(), f.u16()
	_ = f.u64() // section length
	if f.err != nil {
		return f.err
	}

	if blockType != pcapngBlockTypeSectionHeader {
		p.log.Errorf("The PCAPNG section header block has block type 0x%08X not 0x%08X", blockType, pcapngBlockTypeSectionHeader)
		return fmt.Errorf("%w: pcapng block type 0x%08X", core.ErrFormat, blockType)
	}
	if major != pcapngVersionMajor || minor != pcapngVersionMinor {
		p.log.Errorf("The PCAPNG section header block does not contain the expected version, is %d.%d not %d.%d",
			major, minor, pcapngVersionMajor, pcapngVersionMinor)
		return fmt.Errorf("%w: pcapng version %d.%d", core.ErrFormat, major, minor)
	}
	if err := p.checkBlockLength(r, total, pcapngSectionHeaderLength, 24); err != nil {
		return err
	}

	p.interfaces = p.interfaces[:0]
	return r.Skip(int(total) - 24)
}

// checkBlockLength validates a block's total length given how many bytes of
// the block have already been consumed.
func (p *PCAPNG) checkBlockLength(r *Reader, total uint32, minimum, consumed int) error {
	if int64(total) < int64(minimum) || total%4 != 0 || int64(total)-int64(consumed) > int64(r.Remaining()) {
		p.log.Errorf("The PCAPNG block at offset %d has an invalid total length of %d", r.Offset()-consumed, total)
		return fmt.Errorf("%w: pcapng block length %d", core.ErrTruncated, total)
	}
	return nil
}

// ReadRecordHeader advances to the next packet-carrying block, absorbing
// section headers, interface descriptions and any other block on the way.
func (p *PCAPNG) ReadRecordHeader(r *Reader, gh GlobalHeader) (RecordHeader, error) {
	for {
		if r.Remaining() < pcapngMinBlockLength {
			if r.Remaining() > 0 {
				p.log.Warnf("Ignoring %d trailing bytes after the last PCAPNG block", r.Remaining())
			}
			return RecordHeader{}, io.EOF
		}

		head, _ := r.Peek(4)
		if binary.LittleEndian.Uint32(head) == pcapngBlockTypeSectionHeader {
			if err := p.readSectionHeader(r); err != nil {
				return RecordHeader{}, err
			}
			continue
		}

		f := fieldReader{r: r}
		blockType := f.u32()
		total := f.u32()
		if f.err != nil {
			return RecordHeader{}, f.err
		}

		switch blockType {
		case pcapngBlockTypeInterfaceDescription:
			if err := p.readInterfaceDescription(r, total); err != nil {
				return RecordHeader{}, err
			}
		case pcapngBlockTypeEnhancedPacket, pcapngBlockTypePacket:
			return p.readPacket(r, blockType, total)
		case pcapngBlockTypeSimplePacket:
			return p.readSimplePacket(r, total)
		default:
			if blockType == pcapngBlockTypeInterfaceStatistics {
				p.log.Debug("Skipping a PCAPNG interface statistics block")
			} else {
				p.log.Debugf("Skipping a PCAPNG block of type 0x%08X", blockType)
			}
			if err := p.checkBlockLength(r, total, pcapngMinBlockLength, 8); err != nil {
				return RecordHeader{}, err
			}
			if err := r.Skip(int(total) - 8); err != nil {
				return RecordHeader{}, err
			}
		}
	}
}

func (p *PCAPNG) readInterfaceDescription(r *Reader, total uint32) error {
	if err := p.checkBlockLength(r, total, pcapngInterfaceHeaderLength, 8); err != nil {
		return err
	}
	f := fieldReader{r: r}
	link := core.LinkType(f.u16())
	_ = f.u16() // reserved
	_ = f.u32() // snap length
	if f.err != nil {
		return f.err
	}
	if !link.Supported() {
		p.log.Errorf("The PCAPNG interface description block contains an unexpected link type of %d", uint32(link))
		return fmt.Errorf("%w: pcapng link type %d", core.ErrUnsupportedLinkType, uint32(link))
	}

	options, err := r.Bytes(int(total) - pcapngInterfaceHeaderLength)
	if err != nil {
		return err
	}
	if err := r.Skip(4); err != nil { // trailing block length
		return err
	}

	p.interfaces = append(p.interfaces, pcapngInterface{
		linkType: link,
		scale:    p.timestampResolution(options, r.Order()),
	})
	return nil
}

// timestampResolution reads the if_tsresol option; microseconds when absent.
func (p *PCAPNG) timestampResolution(options []byte, order binary.ByteOrder) float64 {
	for len(options) >= 4 {
		code := order.Uint16(options)
		length := int(order.Uint16(options[2:]))
		if code == pcapngOptionEnd {
			break
		}
		padded := (length + 3) &^ 3
		if 4+padded > len(options) {
			break
		}
		if code == pcapngOptionTsResol && length >= 1 {
			v := options[4]
			if v&0x80 == 0 {
				return math.Pow(10, -float64(v))
			}
			return math.Pow(2, -float64(v&0x7f))
		}
		options = options[4+padded:]
	}
	return 1e-6
}

func (p *PCAPNG) iface(id uint32) pcapngInterface {
	if int(id) < len(p.interfaces) {
		return p.interfaces[id]
	}
	p.log.Warnf("A PCAPNG packet references undeclared interface %d, assuming Ethernet with microsecond timestamps", id)
	return pcapngInterface{linkType: core.LinkTypeEthernet, scale: 1e-6}
}

func (p *PCAPNG) readPacket(r *Reader, blockType, total uint32) (RecordHeader, error) {
	if err := p.checkBlockLength(r, total, pcapngPacketHeaderLength+4, 8); err != nil {
		return RecordHeader{}, err
	}
	f := fieldReader{r: r}
	var id uint32
	if blockType == pcapngBlockTypePacket {
		id = uint32(f.u16())
		_ = f.u16() // drops count
	} else {
		id = f.u32()
	}
	high, low := f.u32(), f.u32()
	captured, original := f.u32(), f.u32()
	if f.err != nil {
		return RecordHeader{}, f.err
	}

	room := int(total) - pcapngPacketHeaderLength - 4
	if int64(captured) > int64(room) {
		p.log.Errorf("The PCAPNG packet block declares %d captured bytes in a %d byte block", captured, total)
		return RecordHeader{}, fmt.Errorf("%w: pcapng captured length %d", core.ErrTruncated, captured)
	}

	ifc := p.iface(id)
	ticks := float64(uint64(high)<<32 | uint64(low))
	return RecordHeader{
		LinkType:       ifc.linkType,
		CapturedLength: int(captured),
		OriginalLength: int(original),
		PayloadLength:  payloadLength(ifc.linkType, int(captured)),
		Timestamp:      ticks * ifc.scale,
		TrailerLength:  int(total) - pcapngPacketHeaderLength - int(captured),
	}, nil
}

func (p *PCAPNG) readSimplePacket(r *Reader, total uint32) (RecordHeader, error) {
	if err := p.checkBlockLength(r, total, pcapngSimplePacketLength, 8); err != nil {
		return RecordHeader{}, err
	}
	original, err := r.Uint32()
	if err != nil {
		return RecordHeader{}, err
	}

	captured := int(total) - pcapngSimplePacketLength
	if int(original) < captured {
		captured = int(original)
	}
	ifc := p.iface(0)
	return RecordHeader{
		LinkType:       ifc.linkType,
		CapturedLength: captured,
		OriginalLength: int(original),
		PayloadLength:  payloadLength(ifc.linkType, captured),
		TrailerLength:  int(total) - 12 - captured,
	}, nil
}
