// Package burst measures the spacing between consecutive messages of the same
// host, transport, message id and direction.
package burst

import (
	"fmt"
	"sort"
	"strconv"

	"firestige.xyz/pcap-analyser/internal/analysis"
	"firestige.xyz/pcap-analyser/internal/analysis/histogram"
	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/log"
)

// Options tune the engine. Range values are milliseconds.
type Options struct {
	HistogramMin float64
	HistogramMax float64
	BinsPerMs    int
	Histogram    bool
	DebugCSV     bool
	CapturePath  string
}

// DefaultOptions covers 0 to 15 s at 10 bins per millisecond.
func DefaultOptions() Options {
	return Options{HistogramMin: 0, HistogramMax: 15000, BinsPerMs: 10, Histogram: true}
}

// Message is one registered message.
type Message struct {
	SequenceNumber uint64
	PacketNumber   uint64
	Timestamp      float64
}

type streamKey struct {
	host     uint8
	proto    core.Transport
	msgID    uint64
	outgoing bool
}

// Engine accumulates message timestamps for one capture.
type Engine struct {
	opts    Options
	log     log.Logger
	streams map[streamKey][]Message
	hosts   map[uint8]map[uint64]struct{}
}

func New(opts Options, logger log.Logger) *Engine {
	return &Engine{
		opts:    opts,
		log:     logger.WithField("engine", "burst"),
		streams: make(map[streamKey][]Message),
		hosts:   make(map[uint8]map[uint64]struct{}),
	}
}

// Register appends a message. A zero host or message id is ignored.
func (e *Engine) Register(host uint8, proto core.Transport, outgoing bool, seq, msgID, packetNumber uint64, ts float64) {
	if host == 0 || msgID == 0 {
		return
	}

	ids, ok := e.hosts[host]
	if !ok {
		e.log.Debugf("Found a data-supplying message for host id %3d, adding it to the burst analysis", host)
		ids = make(map[uint64]struct{})
		e.hosts[host] = ids
	}
	if _, ok := ids[msgID]; !ok {
		e.log.Debugf("Found a data-supplying message with message id %5d for host id %3d, adding them to the burst analysis", msgID, host)
		ids[msgID] = struct{}{}
	}

	k := streamKey{host: host, proto: proto, msgID: msgID, outgoing: outgoing}
	e.streams[k] = append(e.streams[k], Message{SequenceNumber: seq, PacketNumber: packetNumber, Timestamp: ts})
}

// OutOfRange is a spacing that fell outside the histogram.
type OutOfRange struct {
	PacketNumber   uint64  `yaml:"packet_number"`
	SequenceNumber uint64  `yaml:"sequence_number"`
	Difference     float64 `yaml:"difference_ms"`
}

// Group summarizes one stream.
type Group struct {
	HostID     uint8            `yaml:"host_id"`
	Protocol   string           `yaml:"protocol"`
	MessageID  uint64           `yaml:"message_id"`
	Outgoing   bool             `yaml:"outgoing"`
	Messages   int              `yaml:"messages"`
	Min        analysis.Extreme `yaml:"min"`
	Max        analysis.Extreme `yaml:"max"`
	Average    float64          `yaml:"average_ms"`
	RateHz     float64          `yaml:"rate_hz"`
	OutOfRange []OutOfRange     `yaml:"out_of_range,omitempty"`
}

// Report is the finalized burst analysis.
type Report struct {
	Groups []Group  `yaml:"groups"`
	Lines  []string `yaml:"-"`
}

func direction(outgoing bool) string {
	if outgoing {
		return "outgoing"
	}
	return "incoming"
}

// Finalize groups by host, transport, message id and direction, in that order.
func (e *Engine) Finalize() Report {
	var r Report
	r.Lines = append(r.Lines, analysis.Banner("Burst Analysis")...)

	hosts := make([]uint8, 0, len(e.hosts))
	for h := range e.hosts {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i] < hosts[j] })

	for _, host := range hosts {
		r.Lines = append(r.Lines, analysis.HostHeading(host)...)

		ids := make([]uint64, 0, len(e.hosts[host]))
		for id := range e.hosts[host] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, proto := range core.Transports {
			headed := false
			for _, id := range ids {
				for _, outgoing := range []bool{true, false} {
					k := streamKey{host: host, proto: proto, msgID: id, outgoing: outgoing}
					msgs := e.streams[k]
					if len(msgs) == 0 {
						continue
					}
					if !headed {
						r.Lines = append(r.Lines, analysis.SectionHeading(proto.ReliabilityTitle())...)
						headed = true
					}
					g, lines := e.finalizeStream(k, msgs)
					r.Groups = append(r.Groups, g)
					r.Lines = append(r.Lines, lines...)
				}
			}
		}
	}
	return r
}

func (e *Engine) finalizeStream(k streamKey, msgs []Message) (Group, []string) {
	h, err := histogram.New(analysis.Bins(e.opts.HistogramMin, e.opts.HistogramMax, e.opts.BinsPerMs),
		e.opts.HistogramMin, e.opts.HistogramMax, e.log)
	if err != nil {
		e.log.WithError(err).Error("Invalid burst histogram range, using defaults")
		d := DefaultOptions()
		h = histogram.MustNew(analysis.Bins(d.HistogramMin, d.HistogramMax, d.BinsPerMs), d.HistogramMin, d.HistogramMax, e.log)
	}

	g := Group{
		HostID:    k.host,
		Protocol:  k.proto.String(),
		MessageID: k.msgID,
		Outgoing:  k.outgoing,
		Messages:  len(msgs),
	}

	var ext analysis.Extrema
	var rows [][]string
	for i := 1; i < len(msgs); i++ {
		m := msgs[i]
		diff := (m.Timestamp - msgs[i-1].Timestamp) * 1000
		if !h.Add(diff) {
			g.OutOfRange = append(g.OutOfRange, OutOfRange{PacketNumber: m.PacketNumber, SequenceNumber: m.SequenceNumber, Difference: diff})
		}
		ext.Offer(diff, m.PacketNumber, m.SequenceNumber)
		if e.opts.DebugCSV {
			rows = append(rows, []string{
				strconv.FormatUint(m.PacketNumber, 10),
				strconv.FormatUint(m.SequenceNumber, 10),
				analysis.FormatFloat(m.Timestamp),
				analysis.FormatFloat(diff),
			})
		}
	}
	g.Min, g.Max, g.Average = ext.Min, ext.Max, ext.Mean()
	if g.Average > 0 {
		g.RateHz = 1000 / g.Average
	}

	lines := []string{fmt.Sprintf("The number of %s messages with a Message Id of %5d was %d", direction(k.outgoing), k.msgID, g.Messages)}
	if ext.Count > 0 {
		lines = append(lines, "",
			fmt.Sprintf("The minimum timestamp difference was %18.6f ms for packet number %7d and sequence number %7d",
				g.Min.Value, g.Min.PacketNumber, g.Min.SequenceNumber),
			fmt.Sprintf("The maximum timestamp difference was %18.6f ms for packet number %7d and sequence number %7d",
				g.Max.Value, g.Max.PacketNumber, g.Max.SequenceNumber),
			fmt.Sprintf("The average timestamp difference was %18.6f ms (%.3f Hz)", g.Average, g.RateHz),
		)
		if e.opts.Histogram {
			lines = append(lines, "",
				fmt.Sprintf("The histogram (%d bins per millisecond) for the timestamp differences is:", e.opts.BinsPerMs), "")
			lines = append(lines, h.Render()...)
		}
		if len(g.OutOfRange) > 0 {
			lines = append(lines, "")
			for _, o := range g.OutOfRange {
				lines = append(lines, fmt.Sprintf(
					"The message for packet number %7d and sequence number %7d has an out of range timestamp difference of %18.6f ms",
					o.PacketNumber, o.SequenceNumber, o.Difference))
			}
		}
	}
	lines = append(lines, analysis.Separator()...)

	if e.opts.DebugCSV && len(rows) > 0 {
		path := analysis.CSVPath(e.opts.CapturePath,
			fmt.Sprintf("HostId%d", k.host), fmt.Sprintf("MessageId%d", k.msgID),
			k.proto.String(), direction(k.outgoing), "BurstAnalysis")
		if err := analysis.WriteCSV(path, csvHeader, rows); err != nil {
			e.log.WithError(err).Error("Failed to write burst debug CSV")
		} else {
			e.log.Debugf("Wrote burst debug CSV %s", path)
		}
	}
	return g, lines
}

var csvHeader = []string{"Packet Number", "Sequence Number", "Packet Timestamp", "Difference (ms)"}
