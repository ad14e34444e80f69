// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesTotal counts capture files by container format and outcome
	FilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcap_analyser_files_total",
			Help: "Total number of capture files processed",
		},
		[]string{"format", "status"},
	)

	// BytesTotal counts capture bytes read
	BytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pcap_analyser_bytes_total",
			Help: "Total number of capture file bytes read",
		},
	)

	// PacketsTotal counts records by the innermost protocol reached
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcap_analyser_packets_total",
			Help: "Total number of capture records decoded",
		},
		[]string{"protocol"},
	)

	// RecordErrorsTotal counts records rejected by the decoder chain
	RecordErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcap_analyser_record_errors_total",
			Help: "Total number of records rejected while decoding",
		},
		[]string{"reason"},
	)

	// ObservationsTotal counts observations handed to each analysis engine
	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcap_analyser_observations_total",
			Help: "Total number of message observations registered with analysis engines",
		},
		[]string{"engine"},
	)

	// ProcessDurationSeconds measures the time taken to process one capture file
	ProcessDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pcap_analyser_process_duration_seconds",
			Help:    "Time taken to process one capture file in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
		},
	)
)

// File status label values
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)
