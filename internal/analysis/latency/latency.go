// Package latency pairs two sightings of the same sequence number from the
// same host and reports the time between them per message id.
package latency

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/DataDog/sketches-go/ddsketch"

	"firestige.xyz/pcap-analyser/internal/analysis"
	"firestige.xyz/pcap-analyser/internal/analysis/histogram"
	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/log"
)

// RelativeAccuracy of the quantile sketch.
const RelativeAccuracy = 0.01

// Options tune the engine. Range values are milliseconds.
type Options struct {
	HistogramMin float64
	HistogramMax float64
	BinsPerMs    int
	Histogram    bool // render the histogram into the report lines
	DebugCSV     bool
	CapturePath  string
}

// DefaultOptions covers 0 to 50 ms at 10 bins per millisecond.
func DefaultOptions() Options {
	return Options{HistogramMin: 0, HistogramMax: 50, BinsPerMs: 10, Histogram: true}
}

// Key identifies a message pairing.
type Key struct {
	HostID         uint8
	Protocol       core.Transport
	SequenceNumber uint64
}

// Pairing is the state kept for one Key.
type Pairing struct {
	MessageID          uint64
	FirstFound         bool
	SecondFound        bool
	FirstPacketNumber  uint64
	SecondPacketNumber uint64
	FirstTimestamp     float64
	SecondTimestamp    float64
	Delta              float64 // milliseconds
	Calculated         bool
}

type groupKey struct {
	host  uint8
	msgID uint64
}

// Engine accumulates pairings for one capture.
type Engine struct {
	opts Options
	log  log.Logger

	pairings map[Key]Pairing
	hosts    map[uint8]struct{}
	messages map[groupKey]struct{}
}

func New(opts Options, logger log.Logger) *Engine {
	return &Engine{
		opts:     opts,
		log:      logger.WithField("engine", "latency"),
		pairings: make(map[Key]Pairing),
		hosts:    make(map[uint8]struct{}),
		messages: make(map[groupKey]struct{}),
	}
}

// Register records one sighting of a message. Messages with a zero host,
// sequence number or message id carry no pairing information.
func (e *Engine) Register(host uint8, proto core.Transport, seq, msgID, packetNumber uint64, ts float64) {
	if host == 0 || seq == 0 || msgID == 0 {
		return
	}

	key := Key{HostID: host, Protocol: proto, SequenceNumber: seq}
	p, exists := e.pairings[key]
	if !exists {
		e.pairings[key] = Pairing{
			MessageID:         msgID,
			FirstFound:        true,
			FirstPacketNumber: packetNumber,
			FirstTimestamp:    ts,
		}
		return
	}

	if !p.FirstFound {
		e.log.Warnf("Found the pairing for host id %3d and sequence number %7d but the first sighting is not set", host, seq)
		return
	}
	if p.SecondFound {
		e.log.Warnf("Found the pairing for host id %3d and sequence number %7d but the second sighting is already set (packet %d)",
			host, seq, packetNumber)
		return
	}

	p.SecondFound = true
	p.SecondPacketNumber = packetNumber
	p.SecondTimestamp = ts

	switch {
	case ts > p.FirstTimestamp:
		p.Delta = (ts - p.FirstTimestamp) * 1000
		p.Calculated = true
	case ts == p.FirstTimestamp:
		p.Delta = 0
		p.Calculated = true
	default:
		e.log.Warnf("Timestamp of packet %d for host id %3d and sequence number %7d is earlier than packet %d",
			packetNumber, host, seq, p.FirstPacketNumber)
	}
	e.pairings[key] = p

	if p.Calculated {
		e.registerHost(host)
		e.registerMessage(host, p.MessageID)
	}
}

// Pairing returns the state stored for key.
func (e *Engine) Pairing(key Key) (Pairing, bool) {
	p, ok := e.pairings[key]
	return p, ok
}

// Len returns the number of pairings, complete or not.
func (e *Engine) Len() int { return len(e.pairings) }

func (e *Engine) registerHost(host uint8) {
	if _, ok := e.hosts[host]; ok {
		return
	}
	e.log.Debugf("Found a pair of data-supplying messages for host id %3d, adding it to the latency analysis", host)
	e.hosts[host] = struct{}{}
}

func (e *Engine) registerMessage(host uint8, msgID uint64) {
	k := groupKey{host: host, msgID: msgID}
	if _, ok := e.messages[k]; ok {
		return
	}
	e.log.Debugf("Found a pair of data-supplying messages with message id %5d for host id %3d, adding them to the latency analysis", msgID, host)
	e.messages[k] = struct{}{}
}

// OutOfRange is a latency that fell outside the histogram.
type OutOfRange struct {
	PacketNumber   uint64  `yaml:"packet_number"`
	SequenceNumber uint64  `yaml:"sequence_number"`
	Latency        float64 `yaml:"latency_ms"`
}

// Group summarizes the calculated pairings of one host, transport and
// message id.
type Group struct {
	HostID     uint8            `yaml:"host_id"`
	Protocol   string           `yaml:"protocol"`
	MessageID  uint64           `yaml:"message_id"`
	Pairs      uint64           `yaml:"pairs"`
	Min        analysis.Extreme `yaml:"min"`
	Max        analysis.Extreme `yaml:"max"`
	Mean       float64          `yaml:"mean_ms"`
	P50        float64          `yaml:"p50_ms"`
	P90        float64          `yaml:"p90_ms"`
	P99        float64          `yaml:"p99_ms"`
	Underflow  uint64           `yaml:"underflow"`
	Overflow   uint64           `yaml:"overflow"`
	OutOfRange []OutOfRange     `yaml:"out_of_range,omitempty"`
}

// Report is the finalized latency analysis.
type Report struct {
	Groups []Group  `yaml:"groups"`
	Lines  []string `yaml:"-"`
}

type entry struct {
	key Key
	p   Pairing
}

// Finalize builds the report. It does not mutate the pairings, so it may be
// called more than once.
func (e *Engine) Finalize() Report {
	var r Report
	r.Lines = append(r.Lines, analysis.Banner("Latency Analysis")...)

	groups := e.calculatedByGroup()
	csvRows := make(map[groupKey][][]string)

	for _, host := range e.sortedHosts() {
		r.Lines = append(r.Lines, analysis.HostHeading(host)...)

		for _, proto := range core.Transports {
			headed := false
			for _, msgID := range e.sortedMessages(host) {
				entries := groups[gkey{host, proto, msgID}]
				if len(entries) == 0 {
					continue
				}
				if !headed {
					r.Lines = append(r.Lines, analysis.SectionHeading(proto.ReliabilityTitle())...)
					headed = true
				}

				g, lines := e.finalizeGroup(host, proto, msgID, entries)
				r.Groups = append(r.Groups, g)
				r.Lines = append(r.Lines, lines...)

				if e.opts.DebugCSV {
					k := groupKey{host, msgID}
					csvRows[k] = append(csvRows[k], csvLines(proto, entries)...)
				}
			}
		}
	}

	if e.opts.DebugCSV {
		e.writeCSV(csvRows)
	}
	return r
}

type gkey struct {
	host  uint8
	proto core.Transport
	msgID uint64
}

func (e *Engine) calculatedByGroup() map[gkey][]entry {
	groups := make(map[gkey][]entry)
	for k, p := range e.pairings {
		if !p.Calculated {
			continue
		}
		gk := gkey{k.HostID, k.Protocol, p.MessageID}
		groups[gk] = append(groups[gk], entry{key: k, p: p})
	}
	for _, entries := range groups {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].p.FirstPacketNumber < entries[j].p.FirstPacketNumber
		})
	}
	return groups
}

func (e *Engine) finalizeGroup(host uint8, proto core.Transport, msgID uint64, entries []entry) (Group, []string) {
	h, err := histogram.New(analysis.Bins(e.opts.HistogramMin, e.opts.HistogramMax, e.opts.BinsPerMs),
		e.opts.HistogramMin, e.opts.HistogramMax, e.log)
	if err != nil {
		e.log.WithError(err).Error("Invalid latency histogram range, using defaults")
		d := DefaultOptions()
		h = histogram.MustNew(analysis.Bins(d.HistogramMin, d.HistogramMax, d.BinsPerMs), d.HistogramMin, d.HistogramMax, e.log)
	}

	sketch, err := ddsketch.NewDefaultDDSketch(RelativeAccuracy)
	if err != nil {
		e.log.WithError(err).Warn("Could not create latency sketch")
	}

	g := Group{HostID: host, Protocol: proto.String(), MessageID: msgID}
	var ext analysis.Extrema
	for _, en := range entries {
		if !h.Add(en.p.Delta) {
			g.OutOfRange = append(g.OutOfRange, OutOfRange{
				PacketNumber:   en.p.SecondPacketNumber,
				SequenceNumber: en.key.SequenceNumber,
				Latency:        en.p.Delta,
			})
		}
		ext.Offer(en.p.Delta, en.p.SecondPacketNumber, en.key.SequenceNumber)
		if sketch != nil {
			if err := sketch.Add(en.p.Delta); err != nil {
				e.log.Debugf("could not add latency %f to sketch: %v", en.p.Delta, err)
			}
		}
	}

	g.Pairs = ext.Count
	g.Min, g.Max, g.Mean = ext.Min, ext.Max, ext.Mean()
	g.Underflow, g.Overflow = h.Underflow(), h.Overflow()
	if sketch != nil && !sketch.IsEmpty() {
		if q, err := sketch.GetValuesAtQuantiles([]float64{0.5, 0.9, 0.99}); err == nil {
			g.P50, g.P90, g.P99 = q[0], q[1], q[2]
		}
	}

	lines := []string{
		fmt.Sprintf("The number of message pairs with a Message Id of %5d was %d", msgID, g.Pairs),
		"",
		fmt.Sprintf("The minimum latency was %18.6f ms for packet number %7d and sequence number %7d",
			g.Min.Value, g.Min.PacketNumber, g.Min.SequenceNumber),
		fmt.Sprintf("The maximum latency was %18.6f ms for packet number %7d and sequence number %7d",
			g.Max.Value, g.Max.PacketNumber, g.Max.SequenceNumber),
		fmt.Sprintf("The average latency was %18.6f ms", g.Mean),
		fmt.Sprintf("The p50/p90/p99 latencies were %.3f / %.3f / %.3f ms", g.P50, g.P90, g.P99),
	}

	if e.opts.Histogram {
		lines = append(lines, "",
			fmt.Sprintf("The histogram (%d bins per millisecond) for the latencies is:", e.opts.BinsPerMs), "")
		lines = append(lines, h.Render()...)
	}

	if len(g.OutOfRange) > 0 {
		lines = append(lines, "")
		for _, o := range g.OutOfRange {
			lines = append(lines, fmt.Sprintf(
				"The message pair for packet number %7d and sequence number %7d has an out of range latency of %18.6f ms",
				o.PacketNumber, o.SequenceNumber, o.Latency))
		}
	}
	lines = append(lines, analysis.Separator()...)
	return g, lines
}

var csvHeader = []string{
	"Protocol",
	"First Packet Number",
	"Second Packet Number",
	"Sequence Number",
	"First Packet Timestamp",
	"Second Packet Timestamp",
	"Latency (ms)",
}

func csvLines(proto core.Transport, entries []entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, en := range entries {
		rows = append(rows, []string{
			proto.String(),
			strconv.FormatUint(en.p.FirstPacketNumber, 10),
			strconv.FormatUint(en.p.SecondPacketNumber, 10),
			strconv.FormatUint(en.key.SequenceNumber, 10),
			analysis.FormatFloat(en.p.FirstTimestamp),
			analysis.FormatFloat(en.p.SecondTimestamp),
			analysis.FormatFloat(en.p.Delta),
		})
	}
	return rows
}

func (e *Engine) writeCSV(rows map[groupKey][][]string) {
	for k, r := range rows {
		path := analysis.CSVPath(e.opts.CapturePath,
			fmt.Sprintf("HostId%d", k.host), fmt.Sprintf("MessageId%d", k.msgID), "LatencyAnalysis")
		if err := analysis.WriteCSV(path, csvHeader, r); err != nil {
			e.log.WithError(err).Error("Failed to write latency debug CSV")
			continue
		}
		e.log.Debugf("Wrote latency debug CSV %s", path)
	}
}

func (e *Engine) sortedHosts() []uint8 {
	hosts := make([]uint8, 0, len(e.hosts))
	for h := range e.hosts {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i] < hosts[j] })
	return hosts
}

func (e *Engine) sortedMessages(host uint8) []uint64 {
	var ids []uint64
	for k := range e.messages {
		if k.host == host {
			ids = append(ids, k.msgID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
