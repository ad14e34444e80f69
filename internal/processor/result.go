package processor

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"firestige.xyz/pcap-analyser/internal/analysis/burst"
	"firestige.xyz/pcap-analyser/internal/analysis/latency"
	"firestige.xyz/pcap-analyser/internal/analysis/timing"
)

// RecordError is a frame the decoder chain rejected.
type RecordError struct {
	PacketNumber uint64
	Err          error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("packet %d: %v", e.PacketNumber, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// MarshalYAML renders the error as text.
func (e RecordError) MarshalYAML() (interface{}, error) {
	return map[string]interface{}{
		"packet_number": e.PacketNumber,
		"error":         e.Err.Error(),
	}, nil
}

// Result is everything learnt from one capture file.
type Result struct {
	Path      string            `yaml:"path"`
	Format    string            `yaml:"format"`
	LinkType  string            `yaml:"link_type"`
	Size      int               `yaml:"size"`
	Packets   uint64            `yaml:"packets"`
	Protocols map[string]uint64 `yaml:"protocols"`
	Errors    []RecordError     `yaml:"errors,omitempty"`
	Duration  time.Duration     `yaml:"-"`

	Latency *latency.Report `yaml:"latency,omitempty"`
	Time    *timing.Report  `yaml:"time,omitempty"`
	Burst   *burst.Report   `yaml:"burst,omitempty"`
}

// Err aggregates the record errors, or returns nil if there are none.
func (r *Result) Err() error {
	var err error
	for _, e := range r.Errors {
		err = multierr.Append(err, e)
	}
	return err
}
