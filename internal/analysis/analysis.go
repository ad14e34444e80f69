// Package analysis holds what the latency, time and burst engines share:
// extrema bookkeeping, report headings and the debug CSV writer.
package analysis

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strings"
)

// SeparatorWidth matches the histogram marker lines.
const SeparatorWidth = 144

// Extreme is a minimum or maximum together with where it was observed.
type Extreme struct {
	Value          float64 `yaml:"value"`
	PacketNumber   uint64  `yaml:"packet_number"`
	SequenceNumber uint64  `yaml:"sequence_number,omitempty"`
}

// Extrema tracks the smallest and largest value offered and a running mean.
type Extrema struct {
	Min, Max Extreme
	Count    uint64
	Sum      float64
}

// Offer records value. The first offer sets both extrema.
func (e *Extrema) Offer(value float64, packetNumber, seq uint64) {
	if e.Count == 0 || value < e.Min.Value {
		e.Min = Extreme{Value: value, PacketNumber: packetNumber, SequenceNumber: seq}
	}
	if e.Count == 0 || value > e.Max.Value {
		e.Max = Extreme{Value: value, PacketNumber: packetNumber, SequenceNumber: seq}
	}
	e.Count++
	e.Sum += value
}

// Mean returns the average of the offered values, or 0 if none.
func (e *Extrema) Mean() float64 {
	if e.Count == 0 {
		return 0
	}
	return e.Sum / float64(e.Count)
}

// Bins returns the bin count for a millisecond range at binsPerMs.
func Bins(min, max float64, binsPerMs int) int {
	return int(math.Round(math.Abs(max-min) * float64(binsPerMs)))
}

// Banner returns the boxed title that opens an engine report.
func Banner(title string) []string {
	rule := strings.Repeat("=", len(title)+6)
	return []string{"", rule, "== " + title + " ==", rule, ""}
}

// HostHeading returns the underlined heading for one host section.
func HostHeading(host uint8) []string {
	return []string{fmt.Sprintf("Host Id %3d", host), "===========", ""}
}

// SectionHeading returns title underlined with dashes.
func SectionHeading(title string) []string {
	return []string{title, strings.Repeat("-", len(title)), ""}
}

// Separator closes a message id section.
func Separator() []string {
	return []string{"", strings.Repeat("-", SeparatorWidth), ""}
}

// CSVPath builds the debug CSV name that sits next to the capture,
// e.g. capture.pcap.HostId1.MessageId9.LatencyAnalysis.csv.
func CSVPath(capture string, parts ...string) string {
	return capture + "." + strings.Join(parts, ".") + ".csv"
}

// WriteCSV writes header and rows to path, replacing any existing file.
func WriteCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// FormatFloat renders a value the way the debug CSV files carry them.
func FormatFloat(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
