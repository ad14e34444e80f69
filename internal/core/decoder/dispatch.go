package decoder

import (
	"sort"

	"firestige.xyz/pcap-analyser/internal/core"
)

// Message is a transport payload handed to a MessageDecoder.
type Message struct {
	PacketNumber uint64
	Timestamp    float64
	Transport    core.Transport
	SrcPort      uint16
	DstPort      uint16
	Payload      []byte
}

// MessageDecoder extracts analysis observations from application messages.
// Implementations live outside this package and are bound to ports through
// a Dispatcher.
type MessageDecoder interface {
	Name() string
	Decode(msg Message, obs Observer) error
}

// Observer receives what message decoders extract.
type Observer interface {
	ObserveLatency(host uint8, transport core.Transport, seq, msgID, packetNumber uint64, ts float64)
	ObserveTime(host uint8, packetNumber uint64, ts, value float64)
	ObserveBurst(host uint8, transport core.Transport, outgoing bool, seq, msgID, packetNumber uint64, ts float64)
}

// NopObserver discards every observation.
type NopObserver struct{}

func (NopObserver) ObserveLatency(uint8, core.Transport, uint64, uint64, uint64, float64)     {}
func (NopObserver) ObserveTime(uint8, uint64, float64, float64)                               {}
func (NopObserver) ObserveBurst(uint8, core.Transport, bool, uint64, uint64, uint64, float64) {}

// Dispatcher routes transport payloads to message decoders by transport and
// source port. Payloads with no route are skipped.
type Dispatcher struct {
	routes map[core.Transport]map[uint16]MessageDecoder
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[core.Transport]map[uint16]MessageDecoder)}
}

// Register binds md to the port, replacing any earlier binding.
func (d *Dispatcher) Register(transport core.Transport, port uint16, md MessageDecoder) {
	ports, ok := d.routes[transport]
	if !ok {
		ports = make(map[uint16]MessageDecoder)
		d.routes[transport] = ports
	}
	ports[port] = md
}

// Lookup is safe on a nil Dispatcher.
func (d *Dispatcher) Lookup(transport core.Transport, port uint16) (MessageDecoder, bool) {
	if d == nil {
		return nil, false
	}
	md, ok := d.routes[transport][port]
	return md, ok
}

// Len returns the number of bound ports across transports.
func (d *Dispatcher) Len() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, ports := range d.routes {
		n += len(ports)
	}
	return n
}

// Route describes one binding.
type Route struct {
	Transport core.Transport
	Port      uint16
	Decoder   string
}

// Routes lists bindings ordered by transport then port.
func (d *Dispatcher) Routes() []Route {
	if d == nil {
		return nil
	}
	var routes []Route
	for transport, ports := range d.routes {
		for port, md := range ports {
			routes = append(routes, Route{Transport: transport, Port: port, Decoder: md.Name()})
		}
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Transport != routes[j].Transport {
			return routes[i].Transport < routes[j].Transport
		}
		return routes[i].Port < routes[j].Port
	})
	return routes
}
