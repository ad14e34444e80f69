package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/pcap-analyser/internal/core"
)

type namedDecoder string

func (d namedDecoder) Name() string                  { return string(d) }
func (d namedDecoder) Decode(Message, Observer) error { return nil }

func TestDispatcherRegisterLookup(t *testing.T) {
	d := NewDispatcher()
	d.Register(core.TransportUDP, 5000, namedDecoder("a"))
	d.Register(core.TransportTCP, 5000, namedDecoder("b"))
	d.Register(core.TransportUDP, 4000, namedDecoder("c"))

	md, ok := d.Lookup(core.TransportUDP, 5000)
	assert.True(t, ok)
	assert.Equal(t, "a", md.Name())

	md, ok = d.Lookup(core.TransportTCP, 5000)
	assert.True(t, ok)
	assert.Equal(t, "b", md.Name())

	_, ok = d.Lookup(core.TransportTCP, 4000)
	assert.False(t, ok)
	assert.Equal(t, 3, d.Len())

	// rebinding replaces
	d.Register(core.TransportUDP, 5000, namedDecoder("d"))
	md, _ = d.Lookup(core.TransportUDP, 5000)
	assert.Equal(t, "d", md.Name())
	assert.Equal(t, 3, d.Len())

	assert.Equal(t, []Route{
		{Transport: core.TransportTCP, Port: 5000, Decoder: "b"},
		{Transport: core.TransportUDP, Port: 4000, Decoder: "c"},
		{Transport: core.TransportUDP, Port: 5000, Decoder: "d"},
	}, d.Routes())
}

func TestNilDispatcher(t *testing.T) {
	var d *Dispatcher
	_, ok := d.Lookup(core.TransportUDP, 5000)
	assert.False(t, ok)
	assert.Zero(t, d.Len())
	assert.Nil(t, d.Routes())
}

func TestNopObserver(t *testing.T) {
	var obs Observer = NopObserver{}
	assert.NotPanics(t, func() {
		obs.ObserveLatency(1, core.TransportTCP, 1, 1, 1, 1)
		obs.ObserveTime(1, 1, 1, 1)
		obs.ObserveBurst(1, core.TransportUDP, true, 1, 1, 1, 1)
	})
}
