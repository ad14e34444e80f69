package processor

import (
	"firestige.xyz/pcap-analyser/internal/analysis/burst"
	"firestige.xyz/pcap-analyser/internal/analysis/latency"
	"firestige.xyz/pcap-analyser/internal/analysis/timing"
	"firestige.xyz/pcap-analyser/internal/config"
)

// Options select and tune the analysis engines. CapturePath in the engine
// options is filled in per Process call.
type Options struct {
	Latency bool
	Time    bool
	Burst   bool

	LatencyOptions latency.Options
	TimeOptions    timing.Options
	BurstOptions   burst.Options
}

// DefaultOptions enables latency and time analysis.
func DefaultOptions() Options {
	return Options{
		Latency:        true,
		Time:           true,
		LatencyOptions: latency.DefaultOptions(),
		TimeOptions:    timing.DefaultOptions(),
		BurstOptions:   burst.DefaultOptions(),
	}
}

// OptionsFromConfig maps the analysis section of the configuration.
func OptionsFromConfig(cfg config.AnalysisConfig) Options {
	return Options{
		Latency: cfg.Latency.Enabled,
		Time:    cfg.Time.Enabled,
		Burst:   cfg.Burst.Enabled,
		LatencyOptions: latency.Options{
			HistogramMin: cfg.Latency.Min,
			HistogramMax: cfg.Latency.Max,
			BinsPerMs:    cfg.Latency.BinsPerMs,
			Histogram:    cfg.Latency.Histogram,
			DebugCSV:     cfg.Latency.DebugCSV,
		},
		TimeOptions: timing.Options{
			MinTimestampDifference: cfg.Time.MinDifference,
			ExpectedDifference:     cfg.Time.ExpectedDifference,
			Range:                  cfg.Time.Range,
			BinsPerMs:              cfg.Time.BinsPerMs,
			Histogram:              cfg.Time.Histogram,
			DebugCSV:               cfg.Time.DebugCSV,
		},
		BurstOptions: burst.Options{
			HistogramMin: cfg.Burst.Min,
			HistogramMax: cfg.Burst.Max,
			BinsPerMs:    cfg.Burst.BinsPerMs,
			Histogram:    cfg.Burst.Histogram,
			DebugCSV:     cfg.Burst.DebugCSV,
		},
	}
}
