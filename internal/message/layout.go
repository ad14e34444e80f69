package message

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/core/decoder"
	"firestige.xyz/pcap-analyser/internal/log"
)

const LayoutName = "layout"

// LayoutOptions locate the analysis fields inside a fixed-layout message.
// Offsets are relative to the start of each message.
type LayoutOptions struct {
	ByteOrder       string `mapstructure:"byte_order"` // big / little
	HostIDOffset    int    `mapstructure:"host_id_offset"`
	SequenceOffset  int    `mapstructure:"sequence_offset"`
	SequenceWidth   int    `mapstructure:"sequence_width"` // 1 / 2 / 4 / 8
	MessageIDOffset int    `mapstructure:"message_id_offset"`
	MessageIDWidth  int    `mapstructure:"message_id_width"`

	// LengthWidth > 0 splits a payload into consecutive messages, each
	// declaring its own total length at LengthOffset.
	LengthOffset int `mapstructure:"length_offset"`
	LengthWidth  int `mapstructure:"length_width"`

	// Messages with this id carry a clock value at TimeOffset. 0 disables.
	TimeMessageID uint64 `mapstructure:"time_message_id"`
	TimeOffset    int    `mapstructure:"time_offset"`
	TimeFormat    string `mapstructure:"time_format"` // float64 / uint64_micros / uint64_nanos

	Direction string `mapstructure:"direction"` // outgoing / incoming
}

// Layout reads host id, sequence number and message id from fixed offsets
// and reports every message to the latency and burst engines, plus the
// configured time message to the time engine.
type Layout struct {
	opts     LayoutOptions
	order    binary.ByteOrder
	outgoing bool
	log      log.Logger
}

// NewLayout is the Factory for LayoutName.
func NewLayout(options map[string]any, logger log.Logger) (decoder.MessageDecoder, error) {
	opts := LayoutOptions{
		ByteOrder:      "big",
		SequenceWidth:  4,
		MessageIDWidth: 1,
		TimeFormat:     "float64",
		Direction:      "outgoing",
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(options); err != nil {
		return nil, fmt.Errorf("%w: layout options: %v", core.ErrConfigInvalid, err)
	}
	return newLayout(opts, logger)
}

func newLayout(opts LayoutOptions, logger log.Logger) (*Layout, error) {
	l := &Layout{opts: opts, log: logger.WithField("decoder", LayoutName)}

	switch opts.ByteOrder {
	case "big":
		l.order = binary.BigEndian
	case "little":
		l.order = binary.LittleEndian
	default:
		return nil, fmt.Errorf("%w: layout byte_order %q (must be big/little)", core.ErrConfigInvalid, opts.ByteOrder)
	}

	switch opts.Direction {
	case "outgoing":
		l.outgoing = true
	case "incoming":
	default:
		return nil, fmt.Errorf("%w: layout direction %q (must be outgoing/incoming)", core.ErrConfigInvalid, opts.Direction)
	}

	switch opts.TimeFormat {
	case "float64", "uint64_micros", "uint64_nanos":
	default:
		return nil, fmt.Errorf("%w: layout time_format %q (must be float64/uint64_micros/uint64_nanos)", core.ErrConfigInvalid, opts.TimeFormat)
	}

	widths := map[string]int{"sequence_width": opts.SequenceWidth, "message_id_width": opts.MessageIDWidth}
	if opts.LengthWidth != 0 {
		widths["length_width"] = opts.LengthWidth
	}
	for name, w := range widths {
		if w != 1 && w != 2 && w != 4 && w != 8 {
			return nil, fmt.Errorf("%w: layout %s %d (must be 1/2/4/8)", core.ErrConfigInvalid, name, w)
		}
	}

	offsets := map[string]int{
		"host_id_offset":    opts.HostIDOffset,
		"sequence_offset":   opts.SequenceOffset,
		"message_id_offset": opts.MessageIDOffset,
		"length_offset":     opts.LengthOffset,
		"time_offset":       opts.TimeOffset,
	}
	for name, off := range offsets {
		if off < 0 {
			return nil, fmt.Errorf("%w: layout %s %d is negative", core.ErrConfigInvalid, name, off)
		}
	}
	return l, nil
}

func (l *Layout) Name() string { return LayoutName }

func (l *Layout) Decode(msg decoder.Message, obs decoder.Observer) error {
	if l.opts.LengthWidth == 0 {
		return l.decodeOne(msg, msg.Payload, obs)
	}

	payload := msg.Payload
	for len(payload) > 0 {
		n, err := l.uint(payload, l.opts.LengthOffset, l.opts.LengthWidth, "length")
		if err != nil {
			return err
		}
		if n == 0 || n > uint64(len(payload)) {
			return fmt.Errorf("%w: message length %d with %d bytes remaining", core.ErrLengthMismatch, n, len(payload))
		}
		if err := l.decodeOne(msg, payload[:n], obs); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

func (l *Layout) decodeOne(msg decoder.Message, body []byte, obs decoder.Observer) error {
	host, err := l.uint(body, l.opts.HostIDOffset, 1, "host id")
	if err != nil {
		return err
	}
	seq, err := l.uint(body, l.opts.SequenceOffset, l.opts.SequenceWidth, "sequence number")
	if err != nil {
		return err
	}
	id, err := l.uint(body, l.opts.MessageIDOffset, l.opts.MessageIDWidth, "message id")
	if err != nil {
		return err
	}

	obs.ObserveLatency(uint8(host), msg.Transport, seq, id, msg.PacketNumber, msg.Timestamp)
	obs.ObserveBurst(uint8(host), msg.Transport, l.outgoing, seq, id, msg.PacketNumber, msg.Timestamp)

	if l.opts.TimeMessageID == 0 || id != l.opts.TimeMessageID {
		return nil
	}
	raw, err := l.uint(body, l.opts.TimeOffset, 8, "time")
	if err != nil {
		return err
	}
	var value float64
	switch l.opts.TimeFormat {
	case "float64":
		value = math.Float64frombits(raw)
	case "uint64_micros":
		value = float64(raw) / 1e6
	case "uint64_nanos":
		value = float64(raw) / 1e9
	}
	l.log.Tracef("Time message from host %d in packet %d carries %f", host, msg.PacketNumber, value)
	obs.ObserveTime(uint8(host), msg.PacketNumber, msg.Timestamp, value)
	return nil
}

func (l *Layout) uint(b []byte, off, width int, field string) (uint64, error) {
	if off+width > len(b) {
		return 0, fmt.Errorf("%w: %s at offset %d needs %d bytes, message has %d",
			core.ErrPacketTooShort, field, off, width, len(b))
	}
	f := b[off : off+width]
	switch width {
	case 1:
		return uint64(f[0]), nil
	case 2:
		return uint64(l.order.Uint16(f)), nil
	case 4:
		return uint64(l.order.Uint32(f)), nil
	}
	return l.order.Uint64(f), nil
}
