// Package report renders processing results for people and for tools.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"firestige.xyz/pcap-analyser/internal/processor"
)

// Format selects the result rendering.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "text" and "yaml".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (must be text/yaml)", s)
}

// Entry is the outcome of processing one capture. Result may be partial or
// nil when Err is set.
type Entry struct {
	Path   string
	Result *processor.Result
	Err    error
}

var (
	heading = color.New(color.FgCyan, color.Bold)
	failure = color.New(color.FgRed)
)

// Write renders entries in the given format.
func Write(w io.Writer, format Format, entries []Entry) error {
	if format == FormatYAML {
		return WriteYAML(w, entries)
	}
	for _, e := range entries {
		if err := WriteText(w, e); err != nil {
			return err
		}
	}
	return WriteSummary(w, entries)
}

// WriteText writes the engine reports of one capture.
func WriteText(w io.Writer, e Entry) error {
	if _, err := heading.Fprintf(w, "%s\n", e.Path); err != nil {
		return err
	}
	if e.Err != nil {
		if _, err := failure.Fprintf(w, "Error: %v\n", e.Err); err != nil {
			return err
		}
	}

	res := e.Result
	if res == nil {
		return nil
	}
	var lines []string
	if res.Latency != nil {
		lines = append(lines, res.Latency.Lines...)
	}
	if res.Time != nil {
		lines = append(lines, res.Time.Lines...)
	}
	if res.Burst != nil {
		lines = append(lines, res.Burst.Lines...)
	}
	for _, rec := range res.Errors {
		lines = append(lines, rec.Error())
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary writes one table row per capture.
func WriteSummary(w io.Writer, entries []Entry) error {
	if _, err := heading.Fprintln(w, "\nSummary"); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"File", "Format", "Link Type", "Size", "Packets", "Errors", "Protocols", "Status"})
	for _, e := range entries {
		table.Append(summaryRow(e))
	}
	table.Render()
	return nil
}

func summaryRow(e Entry) []string {
	row := []string{filepath.Base(e.Path), "-", "-", "-", "-", "-", "-", "ok"}
	if e.Err != nil {
		row[7] = failure.Sprint("failed")
	}
	res := e.Result
	if res == nil {
		return row
	}
	if res.Format != "" {
		row[1] = res.Format
	}
	if res.LinkType != "" {
		row[2] = res.LinkType
	}
	row[3] = humanize.Bytes(uint64(res.Size))
	row[4] = humanize.Comma(int64(res.Packets))
	row[5] = humanize.Comma(int64(len(res.Errors)))
	if len(res.Protocols) > 0 {
		row[6] = protocolList(res.Protocols)
	}
	return row
}

func protocolList(protocols map[string]uint64) string {
	names := make([]string, 0, len(protocols))
	for name := range protocols {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%s", name, humanize.Comma(int64(protocols[name])))
	}
	return strings.Join(parts, " ")
}

type yamlEntry struct {
	Path   string            `yaml:"path"`
	Error  string            `yaml:"error,omitempty"`
	Result *processor.Result `yaml:"result,omitempty"`
}

// WriteYAML writes all entries as a single YAML document.
func WriteYAML(w io.Writer, entries []Entry) error {
	doc := make([]yamlEntry, len(entries))
	for i, e := range entries {
		doc[i] = yamlEntry{Path: e.Path, Result: e.Result}
		if e.Err != nil {
			doc[i].Error = e.Err.Error()
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return enc.Close()
}
