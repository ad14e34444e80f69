package core

// Frame is one captured link-layer frame handed from the container decoder to the decoder chain.
type Frame struct {
	Number        uint64  // 1-based packet number within the capture
	Timestamp     float64 // seconds, as reconstructed from the record header
	LinkType      LinkType
	Data          []byte // the captured bytes, zero-copy slice of the capture buffer
	PayloadLength int    // captured length less the Ethernet address allowance
}

// DecodedPacket is the result of L2-L4 protocol stack decoding.
type DecodedPacket struct {
	Number    uint64
	Timestamp float64
	Protocol  Protocol // innermost protocol reached
	Ethernet  EthernetHeader
	IP        IPHeader
	Transport TransportHeader
	Payload   []byte // application layer payload, zero-copy slice
	Skipped   int    // bytes skipped without interpretation (options, trailers, payloads)
}
