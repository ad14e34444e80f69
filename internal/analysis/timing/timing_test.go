package timing

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcap-analyser/internal/log"
)

func TestFirstSampleIsBaseline(t *testing.T) {
	e := New(DefaultOptions(), log.NewNop())
	e.Register(1, 1, 100.0, 500.0)

	r := e.Finalize()
	require.Len(t, r.Hosts, 1)
	assert.Equal(t, 1, r.Hosts[0].Samples)
	assert.Zero(t, r.Hosts[0].Processed)
	assert.True(t, e.Samples(1)[0].Processed)
	assert.NotContains(t, strings.Join(r.Lines, "\n"), "The number of time messages")
}

func TestDifferences(t *testing.T) {
	e := New(DefaultOptions(), log.NewNop())
	e.Register(1, 1, 100.000, 500.000)
	e.Register(1, 2, 101.001, 501.0005) // ts +1 ms, time +0.5 ms
	e.Register(1, 3, 101.99, 501.999)   // ts -11 ms, time -1.5 ms

	r := e.Finalize()
	require.Len(t, r.Hosts, 1)
	hr := r.Hosts[0]
	assert.Equal(t, uint64(2), hr.Processed)

	assert.InDelta(t, 1.0, hr.Timestamp.Max.Value, 1e-6)
	assert.Equal(t, uint64(2), hr.Timestamp.Max.PacketNumber)
	assert.InDelta(t, -11.0, hr.Timestamp.Min.Value, 1e-6)
	assert.Equal(t, uint64(3), hr.Timestamp.Min.PacketNumber)
	assert.InDelta(t, -5.0, hr.Timestamp.Average, 1e-6)
	assert.Equal(t, uint64(1), hr.Timestamp.Underflow)

	assert.InDelta(t, 0.5, hr.Time.Max.Value, 1e-6)
	assert.InDelta(t, -1.5, hr.Time.Min.Value, 1e-6)
	assert.InDelta(t, -0.5, hr.Time.Average, 1e-6)
	assert.Zero(t, hr.Time.Underflow)

	text := strings.Join(r.Lines, "\n")
	assert.Contains(t, text, "== Time Analysis ==")
	assert.Contains(t, text, "The number of time messages was 2")
	assert.Contains(t, text, "The histogram (40 bins per millisecond) for timestamp values is:")
	assert.Contains(t, text, "The histogram (40 bins per millisecond) for time values is:")
}

func TestDuplicateBelowThreshold(t *testing.T) {
	e := New(DefaultOptions(), log.NewNop())
	e.Register(1, 1, 10.0, 20.0)
	e.Register(1, 2, 10.00002, 20.0) // 0.02 ms later: a mirrored copy
	e.Register(1, 3, 11.0, 21.0)

	r := e.Finalize()
	hr := r.Hosts[0]
	assert.Equal(t, uint64(1), hr.Processed)
	// baseline did not advance to the duplicate
	assert.InDelta(t, 0.0, hr.Timestamp.Max.Value, 1e-6)
	assert.Equal(t, uint64(3), hr.Timestamp.Max.PacketNumber)

	samples := e.Samples(1)
	assert.True(t, samples[0].Processed)
	assert.False(t, samples[1].Processed)
	assert.True(t, samples[2].Processed)
}

func TestHostsAscending(t *testing.T) {
	e := New(DefaultOptions(), log.NewNop())
	e.Register(7, 1, 1, 1)
	e.Register(3, 2, 1, 1)
	e.Register(7, 3, 2, 2)

	r := e.Finalize()
	require.Len(t, r.Hosts, 2)
	assert.Equal(t, uint8(3), r.Hosts[0].HostID)
	assert.Equal(t, uint8(7), r.Hosts[1].HostID)
	assert.Equal(t, 2, r.Hosts[1].Samples)
}

func TestDebugCSV(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "clock.pcap")
	opts := DefaultOptions()
	opts.DebugCSV = true
	opts.CapturePath = capture

	e := New(opts, log.NewNop())
	e.Register(2, 1, 10.0, 20.0)
	e.Register(2, 2, 10.00001, 20.0)
	e.Register(2, 3, 11.0, 21.0)
	e.Finalize()

	f, err := os.Open(capture + ".HostId2.TimeAnalysis.csv")
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		csvHeader,
		{"1", "10.000000", "20.000000"},
		{"3", "11.000000", "21.000000"},
	}, records)
}
