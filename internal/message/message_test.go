package message

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcap-analyser/internal/config"
	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/core/decoder"
	"firestige.xyz/pcap-analyser/internal/log"
)

type observation struct {
	kind     string
	host     uint8
	seq      uint64
	msgID    uint64
	packet   uint64
	ts       float64
	value    float64
	outgoing bool
}

type recorder struct {
	seen []observation
}

func (r *recorder) ObserveLatency(host uint8, _ core.Transport, seq, msgID, packet uint64, ts float64) {
	r.seen = append(r.seen, observation{kind: "latency", host: host, seq: seq, msgID: msgID, packet: packet, ts: ts})
}

func (r *recorder) ObserveTime(host uint8, packet uint64, ts, value float64) {
	r.seen = append(r.seen, observation{kind: "time", host: host, packet: packet, ts: ts, value: value})
}

func (r *recorder) ObserveBurst(host uint8, _ core.Transport, outgoing bool, seq, msgID, packet uint64, ts float64) {
	r.seen = append(r.seen, observation{kind: "burst", host: host, seq: seq, msgID: msgID, packet: packet, ts: ts, outgoing: outgoing})
}

func (r *recorder) kinds() []string {
	out := make([]string, len(r.seen))
	for i, o := range r.seen {
		out[i] = o.kind
	}
	return out
}

// host(1) | msgID(1) | seq(4, BE) | time(8)
func testMessage(host, id byte, seq uint32, clock []byte) []byte {
	b := []byte{host, id, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[2:], seq)
	return append(b, clock...)
}

func newTestLayout(t *testing.T, options map[string]any) decoder.MessageDecoder {
	t.Helper()
	md, err := NewLayout(options, log.NewNop())
	require.NoError(t, err)
	return md
}

func TestLayoutReportsLatencyAndBurst(t *testing.T) {
	md := newTestLayout(t, map[string]any{
		"host_id_offset":    0,
		"message_id_offset": 1,
		"sequence_offset":   2,
	})
	assert.Equal(t, LayoutName, md.Name())

	rec := &recorder{}
	msg := decoder.Message{PacketNumber: 7, Timestamp: 1.5, Transport: core.TransportUDP, Payload: testMessage(3, 9, 42, nil)}
	require.NoError(t, md.Decode(msg, rec))

	require.Equal(t, []string{"latency", "burst"}, rec.kinds())
	want := observation{kind: "latency", host: 3, seq: 42, msgID: 9, packet: 7, ts: 1.5}
	assert.Equal(t, want, rec.seen[0])
	assert.True(t, rec.seen[1].outgoing)
}

func TestLayoutTimeMessage(t *testing.T) {
	clock := make([]byte, 8)
	binary.BigEndian.PutUint64(clock, math.Float64bits(1234.5))

	md := newTestLayout(t, map[string]any{
		"message_id_offset": 1,
		"sequence_offset":   2,
		"time_message_id":   5,
		"time_offset":       6,
	})

	rec := &recorder{}
	require.NoError(t, md.Decode(decoder.Message{PacketNumber: 2, Timestamp: 10, Payload: testMessage(1, 5, 1, clock)}, rec))
	require.Equal(t, []string{"latency", "burst", "time"}, rec.kinds())
	assert.Equal(t, 1234.5, rec.seen[2].value)
	assert.Equal(t, uint64(2), rec.seen[2].packet)

	// other ids never reach the time engine
	rec = &recorder{}
	require.NoError(t, md.Decode(decoder.Message{Payload: testMessage(1, 6, 1, clock)}, rec))
	assert.Equal(t, []string{"latency", "burst"}, rec.kinds())
}

func TestLayoutTimeFormats(t *testing.T) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, 2_500_000)

	tests := []struct {
		format string
		want   float64
	}{
		{"uint64_micros", 2.5},
		{"uint64_nanos", 0.0025},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			md := newTestLayout(t, map[string]any{
				"byte_order":        "little",
				"message_id_offset": 1,
				"sequence_offset":   2,
				"time_message_id":   1,
				"time_offset":       6,
				"time_format":       tt.format,
			})
			rec := &recorder{}
			b := []byte{0, 1, 0, 0, 0, 0}
			require.NoError(t, md.Decode(decoder.Message{Payload: append(b, raw...)}, rec))
			require.Len(t, rec.seen, 3)
			assert.InDelta(t, tt.want, rec.seen[2].value, 1e-12)
		})
	}
}

func TestLayoutSplitsByLength(t *testing.T) {
	// len(1) | host(1) | id(1) | seq(2)
	md := newTestLayout(t, map[string]any{
		"length_offset":     0,
		"length_width":      1,
		"host_id_offset":    1,
		"message_id_offset": 2,
		"sequence_offset":   3,
		"sequence_width":    2,
		"direction":         "incoming",
	})

	payload := []byte{
		5, 1, 10, 0x00, 0x01,
		6, 2, 11, 0x00, 0x02, 0xFF,
	}
	rec := &recorder{}
	require.NoError(t, md.Decode(decoder.Message{Payload: payload}, rec))
	require.Len(t, rec.seen, 4)
	assert.Equal(t, uint64(1), rec.seen[0].seq)
	assert.Equal(t, uint8(2), rec.seen[2].host)
	assert.Equal(t, uint64(11), rec.seen[2].msgID)
	assert.False(t, rec.seen[3].outgoing)

	err := md.Decode(decoder.Message{Payload: []byte{9, 1, 1, 0, 1}}, &recorder{})
	assert.True(t, errors.Is(err, core.ErrLengthMismatch))

	err = md.Decode(decoder.Message{Payload: []byte{0, 1, 1, 0, 1}}, &recorder{})
	assert.True(t, errors.Is(err, core.ErrLengthMismatch))
}

func TestLayoutShortPayload(t *testing.T) {
	md := newTestLayout(t, map[string]any{"sequence_offset": 2, "sequence_width": 8})
	rec := &recorder{}
	err := md.Decode(decoder.Message{Payload: []byte{1, 2, 3, 4}}, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrPacketTooShort))
	assert.Contains(t, err.Error(), "sequence number")
	assert.Empty(t, rec.seen)
}

func TestNewLayoutRejectsOptions(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
	}{
		{"byte order", map[string]any{"byte_order": "middle"}},
		{"direction", map[string]any{"direction": "sideways"}},
		{"time format", map[string]any{"time_format": "ticks"}},
		{"sequence width", map[string]any{"sequence_width": 3}},
		{"length width", map[string]any{"length_width": 5}},
		{"negative offset", map[string]any{"host_id_offset": -1}},
		{"unknown key", map[string]any{"sequence_offest": 1}},
		{"wrong type", map[string]any{"sequence_width": map[string]any{"a": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLayout(tt.options, log.NewNop())
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrConfigInvalid))
		})
	}
}

func TestNewLayoutWeakTypes(t *testing.T) {
	// environment overrides arrive as strings
	md, err := NewLayout(map[string]any{"sequence_width": "2", "message_id_offset": "4"}, log.NewNop())
	require.NoError(t, err)
	l := md.(*Layout)
	assert.Equal(t, 2, l.opts.SequenceWidth)
	assert.Equal(t, 4, l.opts.MessageIDOffset)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("layout", NewLayout))
	require.NoError(t, r.Register("another", NewLayout))

	err := r.Register("layout", NewLayout)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.Equal(t, []string{"another", "layout"}, r.Names())

	_, err = r.New("missing", nil, log.NewNop())
	assert.True(t, errors.Is(err, core.ErrDecoderNotFound))

	md, err := r.New("layout", nil, log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, LayoutName, md.Name())
}

func TestDefaultRegistry(t *testing.T) {
	assert.Contains(t, Names(), LayoutName)
	_, err := New(LayoutName, nil, log.NewNop())
	assert.NoError(t, err)
}

func TestBuildDispatcher(t *testing.T) {
	logger, hook := log.NewTest()
	d, err := BuildDispatcher([]config.DispatchConfig{
		{Transport: "udp", Port: 7, Decoder: LayoutName},
		{Transport: "tcp", Port: 5000, Decoder: LayoutName, Options: map[string]any{"sequence_width": 2}},
	}, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	md, ok := d.Lookup(core.TransportUDP, 7)
	require.True(t, ok)
	assert.Equal(t, LayoutName, md.Name())
	_, ok = d.Lookup(core.TransportUDP, 5000)
	assert.False(t, ok)

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "Message decoder bound", hook.LastEntry().Message)
	assert.Equal(t, uint16(5000), hook.LastEntry().Data["port"])
}

func TestBuildDispatcherErrors(t *testing.T) {
	_, err := BuildDispatcher([]config.DispatchConfig{
		{Transport: "udp", Port: 7, Decoder: LayoutName},
		{Transport: "udp", Port: 8, Decoder: "nope"},
	}, log.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDecoderNotFound))
	assert.Contains(t, err.Error(), "decoder.dispatch[1]")

	_, err = BuildDispatcher([]config.DispatchConfig{
		{Transport: "sctp", Port: 7, Decoder: LayoutName},
	}, log.NewNop())
	require.Error(t, err)

	_, err = BuildDispatcher([]config.DispatchConfig{
		{Transport: "udp", Port: 7, Decoder: LayoutName, Options: map[string]any{"byte_order": "none"}},
	}, log.NewNop())
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}
