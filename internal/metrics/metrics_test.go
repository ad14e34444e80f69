package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(PacketsTotal.WithLabelValues("UDP"))
	PacketsTotal.WithLabelValues("UDP").Inc()
	PacketsTotal.WithLabelValues("UDP").Inc()
	assert.Equal(t, before+2, testutil.ToFloat64(PacketsTotal.WithLabelValues("UDP")))

	before = testutil.ToFloat64(FilesTotal.WithLabelValues("PCAP", StatusFailed))
	FilesTotal.WithLabelValues("PCAP", StatusFailed).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(FilesTotal.WithLabelValues("PCAP", StatusFailed)))
}

func TestWriteTextfile(t *testing.T) {
	BytesTotal.Add(128)
	path := filepath.Join(t.TempDir(), "analyser.prom")
	require.NoError(t, WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "pcap_analyser_bytes_total")
}

func TestWriteTextfileFromRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "only_this_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	path := filepath.Join(t.TempDir(), "one.prom")
	require.NoError(t, WriteTextfileFrom(reg, path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "only_this_total 1")
	assert.NotContains(t, string(b), "pcap_analyser_bytes_total")

	err = WriteTextfileFrom(reg, filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}
