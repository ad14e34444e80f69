package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/log"
)

const (
	snifferGlobalHeaderLength  = 41
	snifferVersionRecordLength = 18 // version record body following the record header
	snifferRecordHeaderLength  = 6
	snifferType2RecordLength   = 14

	snifferRecordTypeVersion = 1
	snifferRecordTypeEOF     = 3
	snifferRecordTypeType2   = 4

	snifferVersionMajor  = 4
	snifferVersionMinor  = 0
	snifferType          = 4 // type 2 data records
	snifferFormatVersion = 1 // uncompressed
)

// snifferTimestampUnits maps the global header timestamp unit code to seconds per tick.
var snifferTimestampUnits = map[uint8]float64{
	0: 0.000015,
	1: 0.000000838096,
	2: 0.000015,
	3: 0.0000005,
	4: 0.000002,
	5: 0.00000008,
	6: 0.0000001,
}

// Sniffer decodes uncompressed Network General Sniffer (.enc) captures.
// Every multi-byte field is little-endian.
type Sniffer struct {
	log log.Logger
}

func NewSniffer(logger log.Logger) *Sniffer {
	return &Sniffer{log: logger.WithField("container", "Sniffer")}
}

func (s *Sniffer) Format() Format { return FormatSniffer }
func (s *Sniffer) container()     {}

// ReadGlobalHeader validates the magic, the version record and the timestamp units.
func (s *Sniffer) ReadGlobalHeader(r *Reader) (GlobalHeader, error) {
	gh := GlobalHeader{Format: FormatSniffer, LinkType: core.LinkTypeEthernet}
	if r.Remaining() < snifferGlobalHeaderLength {
		s.log.Errorf("The Sniffer packet capture is %d bytes long, shorter than the %d byte global header",
			r.Remaining(), snifferGlobalHeaderLength)
		return gh, fmt.Errorf("%w: sniffer global header truncated", core.ErrFormat)
	}
	r.SetOrder(binary.LittleEndian)

	magic, _ := r.Bytes(len(snifferMagic))
	if !bytes.Equal(magic, snifferMagic) {
		s.log.Errorf("The Sniffer packet capture global header does not contain the expected magic number, is %q not %q",
			magic, snifferMagic)
		return gh, fmt.Errorf("%w: sniffer magic %q", core.ErrFormat, magic)
	}

	f := fieldReader{r: r}
	recordType := f.u16()
	recordLength := f.u32()
	major, minor := f.i16(), f.i16()
	_, _ = f.i16(), f.i16() // time, date
	typ := int8(f.u8())
	encapsulation := f.u8()
	formatVersion := int8(f.u8())
	units := f.u8()
	_, _ = f.u8(), f.u8() // compression version, level
	_ = f.i32()           // reserved
	if f.err != nil {
		return gh, f.err
	}

	check := func(ok bool, field string, got, want any) error {
		if ok {
			return nil
		}
		s.log.Errorf("The Sniffer packet capture global header does not contain the expected %s, is %v not %v", field, got, want)
		return fmt.Errorf("%w: sniffer %s %v", core.ErrFormat, field, got)
	}
	if err := check(recordType == snifferRecordTypeVersion, "record type", recordType, snifferRecordTypeVersion); err != nil {
		return gh, err
	}
	if err := check(major == snifferVersionMajor, "major version number", major, snifferVersionMajor); err != nil {
		return gh, err
	}
	if err := check(minor == snifferVersionMinor, "minor version number", minor, snifferVersionMinor); err != nil {
		return gh, err
	}
	if err := check(typ == snifferType, "record type for the data records", typ, snifferType); err != nil {
		return gh, err
	}
	if err := check(encapsulation <= 1, "network encapsulation type", encapsulation, "0 or 1"); err != nil {
		return gh, err
	}
	if err := check(formatVersion == snifferFormatVersion, "format version", formatVersion, snifferFormatVersion); err != nil {
		return gh, err
	}

	scale, ok := snifferTimestampUnits[units]
	if !ok {
		s.log.Errorf("The Sniffer packet capture contains an unexpected timestamp unit %d", units)
		return gh, fmt.Errorf("%w: sniffer timestamp unit %d", core.ErrFormat, units)
	}
	gh.TimestampScale = scale

	if extra := int(recordLength) - snifferVersionRecordLength; extra > 0 {
		if err := r.Skip(extra); err != nil {
			return gh, err
		}
	}
	return gh, nil
}

// ReadRecordHeader reads the next record header and its type 2 data record.
// The end-of-file record ends the stream.
func (s *Sniffer) ReadRecordHeader(r *Reader, gh GlobalHeader) (RecordHeader, error) {
	if r.Remaining() < snifferRecordHeaderLength {
		if r.Remaining() > 0 {
			s.log.Warnf("Ignoring %d trailing bytes after the last Sniffer record", r.Remaining())
		}
		return RecordHeader{}, io.EOF
	}

	f := fieldReader{r: r}
	recordType := f.u16()
	recordLength := f.u32()
	if f.err != nil {
		return RecordHeader{}, f.err
	}

	switch recordType {
	case snifferRecordTypeType2:
	case snifferRecordTypeEOF:
		return RecordHeader{}, io.EOF
	default:
		s.log.Errorf("The Sniffer packet capture contains an unexpected record type of %d", recordType)
		return RecordHeader{}, fmt.Errorf("%w: sniffer record type %d", core.ErrFormat, recordType)
	}

	low, middle := f.u16(), f.u16()
	high := f.u8()
	_ = f.u8() // time days
	size := f.i16()
	_, _ = f.u8(), f.u8() // frame error status bits, flags
	trueSize := f.i16()
	_ = f.i16() // reserved
	if f.err != nil {
		return RecordHeader{}, f.err
	}

	if size < 0 || int(size) > r.Remaining() {
		s.log.Errorf("The Sniffer packet capture record declares %d captured bytes but only %d remain", size, r.Remaining())
		return RecordHeader{}, fmt.Errorf("%w: sniffer record of %d bytes", core.ErrTruncated, size)
	}

	ticks := float64(high)*4294967296 + float64(middle)*65536 + float64(low)
	rh := RecordHeader{
		LinkType:       gh.LinkType,
		CapturedLength: int(size),
		OriginalLength: int(trueSize),
		PayloadLength:  payloadLength(gh.LinkType, int(size)),
		Timestamp:      ticks * gh.TimestampScale,
	}
	if trailer := int(recordLength) - snifferType2RecordLength - int(size); trailer > 0 && trailer <= r.Remaining()-int(size) {
		rh.TrailerLength = trailer
	}
	return rh, nil
}
