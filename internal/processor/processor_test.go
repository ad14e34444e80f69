package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcap-analyser/internal/config"
	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/log"
	"firestige.xyz/pcap-analyser/internal/message"
	"firestige.xyz/pcap-analyser/internal/metrics"
)

type packet struct {
	ts    time.Time
	frame []byte
}

func udpFrame(t *testing.T, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, packets ...packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for _, p := range packets {
		ci := gopacket.CaptureInfo{Timestamp: p.ts, CaptureLength: len(p.frame), Length: len(p.frame)}
		require.NoError(t, w.WritePacket(ci, p.frame))
	}
	return buf.Bytes()
}

func saveCapture(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestProcessSingleUDPDatagram(t *testing.T) {
	frame := udpFrame(t, 7, 9, make([]byte, 8))
	data := writeCapture(t, packet{time.Unix(1700000000, 500000000), frame})

	// the global header is the classic little-endian microsecond PCAP 2.4
	require.Equal(t, uint32(0xa1b2c3d4), binary.LittleEndian.Uint32(data))
	require.Equal(t, uint16(2), binary.LittleEndian.Uint16(data[4:]))
	require.Equal(t, uint16(4), binary.LittleEndian.Uint16(data[6:]))

	path := saveCapture(t, data)
	res, err := Process(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, path, res.Path)
	assert.Equal(t, "PCAP", res.Format)
	assert.Equal(t, "Ethernet", res.LinkType)
	assert.Equal(t, len(data), res.Size)
	assert.Equal(t, uint64(1), res.Packets)
	assert.Equal(t, map[string]uint64{"UDP": 1}, res.Protocols)
	assert.Empty(t, res.Errors)
	assert.NoError(t, res.Err())

	require.NotNil(t, res.Latency)
	require.NotNil(t, res.Time)
	assert.Nil(t, res.Burst)
	assert.Empty(t, res.Latency.Groups)
}

func TestProcessVersionMismatchDoesNotCorruptNextRecord(t *testing.T) {
	bad := udpFrame(t, 7, 9, make([]byte, 8))
	bad[14] = 0x65 // version 6, IHL 5
	good := udpFrame(t, 7, 9, make([]byte, 8))

	path := saveCapture(t, writeCapture(t,
		packet{time.Unix(1, 0), bad},
		packet{time.Unix(2, 0), good},
	))

	before := testutil.ToFloat64(metrics.RecordErrorsTotal.WithLabelValues("version_mismatch"))

	res, err := New(DefaultOptions(), log.NewNop(), nil).Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Packets)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, uint64(1), res.Errors[0].PacketNumber)
	assert.True(t, errors.Is(res.Errors[0], core.ErrVersionMismatch))
	assert.True(t, errors.Is(res.Err(), core.ErrVersionMismatch))
	assert.Equal(t, uint64(1), res.Protocols["UDP"])

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RecordErrorsTotal.WithLabelValues("version_mismatch")))
}

func TestProcessLatencyThroughDispatcher(t *testing.T) {
	// host(1) | message id(1) | sequence(4)
	msg := []byte{1, 9, 0, 0, 0, 5}
	path := saveCapture(t, writeCapture(t,
		packet{time.Unix(1, 0), udpFrame(t, 5000, 6000, msg)},
		packet{time.Unix(1, 10_000_000), udpFrame(t, 5000, 6000, msg)},
		packet{time.Unix(1, 20_000_000), udpFrame(t, 6000, 5000, msg)}, // unbound source port
	))

	disp, err := message.BuildDispatcher([]config.DispatchConfig{{
		Transport: "udp",
		Port:      5000,
		Decoder:   message.LayoutName,
		Options: map[string]any{
			"host_id_offset":    0,
			"message_id_offset": 1,
			"sequence_offset":   2,
		},
	}}, log.NewNop())
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Burst = true
	res, err := New(opts, log.NewNop(), disp).Process(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	require.Len(t, res.Latency.Groups, 1)
	g := res.Latency.Groups[0]
	assert.Equal(t, uint8(1), g.HostID)
	assert.Equal(t, "UDP", g.Protocol)
	assert.Equal(t, uint64(9), g.MessageID)
	assert.Equal(t, uint64(1), g.Pairs)
	assert.InDelta(t, 10.0, g.Min.Value, 1e-6)
	assert.Equal(t, uint64(2), g.Min.PacketNumber)
	assert.Equal(t, uint64(5), g.Min.SequenceNumber)

	require.NotNil(t, res.Burst)
	require.Len(t, res.Burst.Groups, 1)
	assert.Equal(t, 2, res.Burst.Groups[0].Messages)
}

func TestProcessTruncatedRecordAborts(t *testing.T) {
	data := writeCapture(t, packet{time.Unix(1, 0), udpFrame(t, 7, 9, make([]byte, 8))})

	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint32(hdr[0:], 2)
	binary.LittleEndian.PutUint32(hdr[8:], 1000)
	binary.LittleEndian.PutUint32(hdr[12:], 1000)
	data = append(data, hdr...)
	data = append(data, make([]byte, 10)...)

	res, err := Process(context.Background(), saveCapture(t, data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTruncated))
	require.NotNil(t, res)
	assert.Equal(t, uint64(1), res.Packets)
	assert.NotNil(t, res.Latency)
}

func TestProcessGlobalHeaderErrors(t *testing.T) {
	_, err := Process(context.Background(), saveCapture(t, []byte("definitely not a capture")))
	assert.True(t, errors.Is(err, core.ErrFormat))

	_, err = Process(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestProcessCancelled(t *testing.T) {
	path := saveCapture(t, writeCapture(t, packet{time.Unix(1, 0), udpFrame(t, 7, 9, nil)}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Process(ctx, path)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, res.Packets)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)

	opts := OptionsFromConfig(cfg.Analysis)
	assert.True(t, opts.Latency)
	assert.True(t, opts.Time)
	assert.False(t, opts.Burst)
	assert.Equal(t, DefaultOptions().LatencyOptions, opts.LatencyOptions)
	assert.Equal(t, 40, opts.TimeOptions.BinsPerMs)
	assert.Equal(t, 0.03, opts.TimeOptions.MinTimestampDifference)
	assert.Equal(t, 15000.0, opts.BurstOptions.HistogramMax)
}

func TestRecordError(t *testing.T) {
	e := RecordError{PacketNumber: 3, Err: core.ErrHeaderLength}
	assert.Equal(t, "packet 3: analyser: header length out of range", e.Error())
	assert.True(t, errors.Is(e, core.ErrHeaderLength))

	r := &Result{}
	assert.NoError(t, r.Err())
	r.Errors = []RecordError{e, {PacketNumber: 4, Err: core.ErrPacketTooShort}}
	assert.True(t, errors.Is(r.Err(), core.ErrPacketTooShort))
	assert.Contains(t, r.Err().Error(), "packet 4")
}
