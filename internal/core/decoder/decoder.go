// Package decoder implements L2-L4 protocol stack decoding.
package decoder

import (
	"fmt"

	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/log"
	"github.com/google/gopacket/layers"
)

// Decoder decodes captured frames into structured format.
type Decoder interface {
	Decode(frame core.Frame) (core.DecodedPacket, error)
}

// Chain is the standard Decoder. Each layer is handed the bytes remaining
// for it and returns the bytes for the next; transport payloads go to the
// dispatcher.
type Chain struct {
	dispatcher *Dispatcher
	observer   Observer
	log        log.Logger
}

// NewChain returns a chain that routes transport payloads through dispatcher.
// A nil dispatcher skips every payload; a nil observer discards observations.
func NewChain(dispatcher *Dispatcher, observer Observer, logger log.Logger) *Chain {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Chain{
		dispatcher: dispatcher,
		observer:   observer,
		log:        logger.WithField("component", "decoder"),
	}
}

// Decode walks one frame. Any layer failure aborts this frame only; the
// returned packet holds every header decoded before the failure.
func (c *Chain) Decode(frame core.Frame) (core.DecodedPacket, error) {
	pkt := core.DecodedPacket{Number: frame.Number, Timestamp: frame.Timestamp}
	logger := c.log.WithField("packet", frame.Number)

	if len(frame.Data) == 0 {
		logger.Warn("Frame has no captured bytes")
		return pkt, fmt.Errorf("%w: empty frame", core.ErrPacketTooShort)
	}

	data, err := linkBytes(frame)
	if err != nil {
		logger.WithError(err).Warn("Record length does not match the captured bytes")
		return pkt, err
	}

	var (
		etherType uint16
		payload   []byte
	)
	switch frame.LinkType {
	case core.LinkTypeNull:
		etherType, payload, err = decodeLoopback(data)
	case core.LinkTypeCiscoHDLC:
		etherType, payload, err = decodeCiscoHDLC(data)
	default:
		pkt.Ethernet, payload, err = decodeEthernet(data)
		etherType = pkt.Ethernet.EtherType
	}
	if err != nil {
		logger.WithError(err).Warnf("%s header rejected", frame.LinkType)
		return pkt, err
	}

	if err := c.decodeNetwork(&pkt, etherType, payload, logger); err != nil {
		return pkt, err
	}
	return pkt, nil
}

// linkBytes returns the bytes handed to the link layer: PayloadLength bytes,
// plus the address pair for Ethernet. Frames too short for the address pair
// are passed through for the link decoder to reject.
func linkBytes(frame core.Frame) ([]byte, error) {
	prefix := 0
	if frame.LinkType == core.LinkTypeEthernet {
		prefix = ethernetAddressLen
	}
	if len(frame.Data) <= prefix {
		return frame.Data, nil
	}
	if frame.PayloadLength < 0 || prefix+frame.PayloadLength > len(frame.Data) {
		return nil, fmt.Errorf("%w: record payload length %d, frame holds %d",
			core.ErrLengthMismatch, frame.PayloadLength, len(frame.Data)-prefix)
	}
	return frame.Data[:prefix+frame.PayloadLength], nil
}

func (c *Chain) decodeNetwork(pkt *core.DecodedPacket, etherType uint16, data []byte, logger log.Logger) error {
	var (
		ip      core.IPHeader
		payload []byte
		err     error
	)
	switch layers.EthernetType(etherType) {
	case layers.EthernetTypeIPv4:
		pkt.Protocol = core.ProtocolIPv4
		ip, payload, err = decodeIPv4(data)
	case layers.EthernetTypeIPv6:
		pkt.Protocol = core.ProtocolIPv6
		ip, payload, err = decodeIPv6(data)
	default:
		pkt.Protocol = classifyEtherType(etherType)
		pkt.Skipped += len(data)
		if pkt.Protocol != core.ProtocolUnknown {
			logger.Infof("Skipping %s frame of %d bytes", pkt.Protocol, len(data))
		} else {
			logger.Debugf("Skipping frame with unknown EtherType 0x%04X", etherType)
		}
		return nil
	}
	pkt.IP = ip
	if err != nil {
		logger.WithError(err).Warnf("%s header rejected", pkt.Protocol)
		return err
	}

	if isIPFragment(ip) {
		logger.Debugf("Skipping %d bytes of %s fragment", len(payload), pkt.Protocol)
		pkt.Skipped += len(payload)
		return nil
	}
	return c.decodeIPPayload(pkt, ip.Protocol, payload, logger)
}

func (c *Chain) decodeIPPayload(pkt *core.DecodedPacket, protocol uint8, data []byte, logger log.Logger) error {
	var (
		th      core.TransportHeader
		payload []byte
		err     error
	)
	switch layers.IPProtocol(protocol) {
	case layers.IPProtocolTCP:
		pkt.Protocol = core.ProtocolTCP
		th, payload, err = decodeTCP(data)
	case layers.IPProtocolUDP:
		pkt.Protocol = core.ProtocolUDP
		th, payload, err = decodeUDP(data)
	case layers.IPProtocolICMPv4:
		pkt.Protocol = core.ProtocolICMPv4
		return c.skipHeaderOnly(pkt, data, icmpHeaderLen, logger)
	case layers.IPProtocolICMPv6:
		pkt.Protocol = core.ProtocolICMPv6
		return c.skipHeaderOnly(pkt, data, icmpHeaderLen, logger)
	case layers.IPProtocolIGMP:
		pkt.Protocol = core.ProtocolIGMP
		return c.skipHeaderOnly(pkt, data, igmpHeaderLen, logger)
	case ipProtocolEIGRP:
		pkt.Protocol = core.ProtocolEIGRP
		pkt.Skipped += len(data)
		logger.Infof("Skipping EIGRP packet of %d bytes", len(data))
		return nil
	default:
		err := fmt.Errorf("%w: ip protocol %d is not TCP, UDP, ICMP, IGMP or EIGRP", core.ErrUnexpectedProtocol, protocol)
		logger.WithError(err).Warn("IP payload rejected")
		return err
	}
	pkt.Transport = th
	if err != nil {
		logger.WithError(err).Warnf("%s header rejected", pkt.Protocol)
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return c.dispatch(pkt, core.Transport(protocol), payload, logger)
}

// skipHeaderOnly accounts for a protocol whose header is checked for length
// and whose contents are not interpreted.
func (c *Chain) skipHeaderOnly(pkt *core.DecodedPacket, data []byte, headerLen int, logger log.Logger) error {
	if len(data) < headerLen {
		err := fmt.Errorf("%w: %s needs %d header bytes, have %d", core.ErrPacketTooShort, pkt.Protocol, headerLen, len(data))
		logger.WithError(err).Warnf("%s header rejected", pkt.Protocol)
		return err
	}
	pkt.Skipped += len(data)
	return nil
}

func (c *Chain) dispatch(pkt *core.DecodedPacket, transport core.Transport, payload []byte, logger log.Logger) error {
	md, ok := c.dispatcher.Lookup(transport, pkt.Transport.SrcPort)
	if !ok {
		pkt.Skipped += len(payload)
		return nil
	}

	pkt.Payload = payload
	msg := Message{
		PacketNumber: pkt.Number,
		Timestamp:    pkt.Timestamp,
		Transport:    transport,
		SrcPort:      pkt.Transport.SrcPort,
		DstPort:      pkt.Transport.DstPort,
		Payload:      payload,
	}
	if err := md.Decode(msg, c.observer); err != nil {
		logger.WithError(err).Warnf("%s message decoder failed on port %d", md.Name(), msg.SrcPort)
		return fmt.Errorf("%s message on %s port %d: %w", md.Name(), transport, msg.SrcPort, err)
	}
	return nil
}
