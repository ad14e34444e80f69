package burst

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/log"
)

func TestSpacing(t *testing.T) {
	e := New(DefaultOptions(), log.NewNop())
	e.Register(1, core.TransportUDP, true, 1, 4, 10, 1.000)
	e.Register(1, core.TransportUDP, true, 2, 4, 11, 1.020)
	e.Register(1, core.TransportUDP, true, 3, 4, 12, 1.030)
	e.Register(1, core.TransportUDP, true, 4, 4, 13, 1.070)

	r := e.Finalize()
	require.Len(t, r.Groups, 1)
	g := r.Groups[0]
	assert.Equal(t, 4, g.Messages)
	assert.InDelta(t, 10.0, g.Min.Value, 1e-6)
	assert.Equal(t, uint64(12), g.Min.PacketNumber)
	assert.Equal(t, uint64(3), g.Min.SequenceNumber)
	assert.InDelta(t, 40.0, g.Max.Value, 1e-6)
	assert.Equal(t, uint64(13), g.Max.PacketNumber)
	assert.InDelta(t, 70.0/3, g.Average, 1e-6)
	assert.InDelta(t, 3000.0/70, g.RateHz, 1e-6)
	assert.Empty(t, g.OutOfRange)

	text := strings.Join(r.Lines, "\n")
	assert.Contains(t, text, "== Burst Analysis ==")
	assert.Contains(t, text, "Non-Reliable Messages")
	assert.Contains(t, text, "The number of outgoing messages with a Message Id of     4 was 4")
}

func TestIgnoresZeroHostAndMessageID(t *testing.T) {
	e := New(DefaultOptions(), log.NewNop())
	e.Register(0, core.TransportUDP, true, 1, 4, 1, 1)
	e.Register(1, core.TransportUDP, true, 1, 0, 1, 1)
	r := e.Finalize()
	assert.Empty(t, r.Groups)
}

func TestGroupOrder(t *testing.T) {
	e := New(DefaultOptions(), log.NewNop())
	e.Register(2, core.TransportTCP, true, 1, 1, 1, 1)
	e.Register(1, core.TransportUDP, false, 1, 5, 2, 1)
	e.Register(1, core.TransportUDP, true, 1, 5, 3, 1)
	e.Register(1, core.TransportTCP, false, 1, 6, 4, 1)
	e.Register(1, core.TransportUDP, true, 1, 3, 5, 1)

	r := e.Finalize()
	type id struct {
		host     uint8
		proto    string
		msgID    uint64
		outgoing bool
	}
	var got []id
	for _, g := range r.Groups {
		got = append(got, id{g.HostID, g.Protocol, g.MessageID, g.Outgoing})
	}
	assert.Equal(t, []id{
		{1, "TCP", 6, false},
		{1, "UDP", 3, true},
		{1, "UDP", 5, true},
		{1, "UDP", 5, false},
		{2, "TCP", 1, true},
	}, got)

	// a single message has no spacing
	assert.Zero(t, r.Groups[0].RateHz)
	assert.Contains(t, strings.Join(r.Lines, "\n"), "The number of incoming messages with a Message Id of     6 was 1")
}

func TestOutOfRange(t *testing.T) {
	opts := DefaultOptions()
	opts.Histogram = false
	e := New(opts, log.NewNop())
	e.Register(1, core.TransportTCP, true, 1, 2, 1, 0)
	e.Register(1, core.TransportTCP, true, 2, 2, 2, 20)

	r := e.Finalize()
	require.Len(t, r.Groups[0].OutOfRange, 1)
	assert.InDelta(t, 20000.0, r.Groups[0].OutOfRange[0].Difference, 1e-6)
	text := strings.Join(r.Lines, "\n")
	assert.Contains(t, text, "has an out of range timestamp difference of")
	assert.NotContains(t, text, "bins per millisecond")
}

func TestDebugCSV(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "burst.pcap")
	opts := DefaultOptions()
	opts.DebugCSV = true
	opts.CapturePath = capture

	e := New(opts, log.NewNop())
	e.Register(3, core.TransportUDP, false, 7, 8, 1, 2.0)
	e.Register(3, core.TransportUDP, false, 8, 8, 2, 2.5)
	e.Finalize()

	f, err := os.Open(capture + ".HostId3.MessageId8.UDP.incoming.BurstAnalysis.csv")
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		csvHeader,
		{"2", "8", "2.500000", "500.000000"},
	}, records)
}
