// Package timing compares the capture timestamps of time-supplying messages
// with the clock values they carry, against an expected cadence.
package timing

import (
	"fmt"
	"math"
	"sort"

	"firestige.xyz/pcap-analyser/internal/analysis"
	"firestige.xyz/pcap-analyser/internal/analysis/histogram"
	"firestige.xyz/pcap-analyser/internal/log"
)

// Options tune the engine. Values are milliseconds.
type Options struct {
	MinTimestampDifference float64 // gaps at or below this are duplicates
	ExpectedDifference     float64
	Range                  float64 // histograms cover ±Range
	BinsPerMs              int
	Histogram              bool
	DebugCSV               bool
	CapturePath            string
}

func DefaultOptions() Options {
	return Options{
		MinTimestampDifference: 0.03,
		ExpectedDifference:     1000,
		Range:                  2,
		BinsPerMs:              40,
		Histogram:              true,
	}
}

// Sample is one time-supplying message.
type Sample struct {
	PacketNumber uint64
	Timestamp    float64 // capture timestamp, seconds
	Time         float64 // carried clock value, seconds
	Processed    bool
}

// Engine accumulates samples per host for one capture.
type Engine struct {
	opts    Options
	log     log.Logger
	samples map[uint8][]Sample
}

func New(opts Options, logger log.Logger) *Engine {
	return &Engine{
		opts:    opts,
		log:     logger.WithField("engine", "time"),
		samples: make(map[uint8][]Sample),
	}
}

// Register appends a sample for host.
func (e *Engine) Register(host uint8, packetNumber uint64, ts, timeValue float64) {
	if _, ok := e.samples[host]; !ok {
		e.log.Debugf("Found a time-supplying message for host id %3d, adding it to the time analysis", host)
	}
	e.samples[host] = append(e.samples[host], Sample{PacketNumber: packetNumber, Timestamp: ts, Time: timeValue})
}

// Samples returns the samples of host in arrival order.
func (e *Engine) Samples(host uint8) []Sample { return e.samples[host] }

// Series summarizes one of the two difference series of a host.
type Series struct {
	Min       analysis.Extreme `yaml:"min"`
	Max       analysis.Extreme `yaml:"max"`
	Average   float64          `yaml:"average_ms"`
	Underflow uint64           `yaml:"underflow"`
	Overflow  uint64           `yaml:"overflow"`
}

// HostReport is the time analysis of one host.
type HostReport struct {
	HostID    uint8  `yaml:"host_id"`
	Samples   int    `yaml:"samples"`
	Processed uint64 `yaml:"processed"`
	Timestamp Series `yaml:"timestamp"`
	Time      Series `yaml:"time"`
}

// Report is the finalized time analysis.
type Report struct {
	Hosts []HostReport `yaml:"hosts"`
	Lines []string     `yaml:"-"`
}

// Finalize walks each host's samples in order. The first sample is the
// baseline; a later sample counts only when its capture timestamp moved by
// more than MinTimestampDifference, and then becomes the new baseline.
func (e *Engine) Finalize() Report {
	var r Report
	r.Lines = append(r.Lines, analysis.Banner("Time Analysis")...)

	hosts := make([]uint8, 0, len(e.samples))
	for h := range e.samples {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i] < hosts[j] })

	for _, host := range hosts {
		r.Lines = append(r.Lines, analysis.HostHeading(host)...)
		hr, lines := e.finalizeHost(host)
		r.Hosts = append(r.Hosts, hr)
		r.Lines = append(r.Lines, lines...)
	}
	return r
}

func (e *Engine) newHistogram() *histogram.Histogram {
	h, err := histogram.New(analysis.Bins(-e.opts.Range, e.opts.Range, e.opts.BinsPerMs), -e.opts.Range, e.opts.Range, e.log)
	if err != nil {
		e.log.WithError(err).Error("Invalid time histogram range, using defaults")
		d := DefaultOptions()
		h = histogram.MustNew(analysis.Bins(-d.Range, d.Range, d.BinsPerMs), -d.Range, d.Range, e.log)
	}
	return h
}

func (e *Engine) finalizeHost(host uint8) (HostReport, []string) {
	samples := e.samples[host]
	tsHist, timeHist := e.newHistogram(), e.newHistogram()
	var tsExt, timeExt analysis.Extrema

	var lastTs, lastTime float64
	for i := range samples {
		s := &samples[i]
		if i == 0 {
			lastTs, lastTime = s.Timestamp, s.Time
			s.Processed = true
			continue
		}

		gap := (s.Timestamp - lastTs) * 1000
		if math.Abs(gap) <= e.opts.MinTimestampDifference {
			e.log.Tracef("Time message in packet %d is %.6f ms after the last one, skipping it", s.PacketNumber, gap)
			continue
		}
		s.Processed = true

		tsDelta := gap - e.opts.ExpectedDifference
		tsHist.Add(tsDelta)
		tsExt.Offer(tsDelta, s.PacketNumber, 0)
		lastTs = s.Timestamp

		timeDelta := (s.Time-lastTime)*1000 - e.opts.ExpectedDifference
		timeHist.Add(timeDelta)
		timeExt.Offer(timeDelta, s.PacketNumber, 0)
		lastTime = s.Time
	}

	hr := HostReport{
		HostID:    host,
		Samples:   len(samples),
		Processed: tsExt.Count,
		Timestamp: series(&tsExt, tsHist),
		Time:      series(&timeExt, timeHist),
	}

	var lines []string
	if tsExt.Count > 0 {
		lines = append(lines, fmt.Sprintf("The number of time messages was %d", tsExt.Count), "")
		lines = append(lines, e.seriesLines("timestamp", hr.Timestamp, tsHist)...)
		lines = append(lines, "")
		lines = append(lines, e.seriesLines("time", hr.Time, timeHist)...)
	}
	lines = append(lines, "")

	if e.opts.DebugCSV {
		e.writeCSV(host, samples)
	}
	return hr, lines
}

func series(ext *analysis.Extrema, h *histogram.Histogram) Series {
	return Series{
		Min:       ext.Min,
		Max:       ext.Max,
		Average:   ext.Mean(),
		Underflow: h.Underflow(),
		Overflow:  h.Overflow(),
	}
}

func (e *Engine) seriesLines(name string, s Series, h *histogram.Histogram) []string {
	lines := []string{
		fmt.Sprintf("The minimum %s difference was %18.6f ms for packet number %7d", name, s.Min.Value, s.Min.PacketNumber),
		fmt.Sprintf("The maximum %s difference was %18.6f ms for packet number %7d", name, s.Max.Value, s.Max.PacketNumber),
		fmt.Sprintf("The average %s difference was %18.6f ms", name, s.Average),
	}
	if e.opts.Histogram {
		lines = append(lines, "",
			fmt.Sprintf("The histogram (%d bins per millisecond) for %s values is:", e.opts.BinsPerMs, name), "")
		lines = append(lines, h.Render()...)
	}
	return lines
}

var csvHeader = []string{"Packet Number", "Timestamp", "Time"}

func (e *Engine) writeCSV(host uint8, samples []Sample) {
	var rows [][]string
	for _, s := range samples {
		if !s.Processed {
			continue
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.PacketNumber),
			analysis.FormatFloat(s.Timestamp),
			analysis.FormatFloat(s.Time),
		})
	}

	path := analysis.CSVPath(e.opts.CapturePath, fmt.Sprintf("HostId%d", host), "TimeAnalysis")
	if err := analysis.WriteCSV(path, csvHeader, rows); err != nil {
		e.log.WithError(err).Error("Failed to write time debug CSV")
		return
	}
	e.log.Debugf("Wrote time debug CSV %s", path)
}
