// Package processor drives one capture file through the container decoder,
// the decoder chain and the analysis engines.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"firestige.xyz/pcap-analyser/internal/analysis/burst"
	"firestige.xyz/pcap-analyser/internal/analysis/latency"
	"firestige.xyz/pcap-analyser/internal/analysis/timing"
	"firestige.xyz/pcap-analyser/internal/capture"
	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/core/decoder"
	"firestige.xyz/pcap-analyser/internal/log"
	"firestige.xyz/pcap-analyser/internal/metrics"
)

// Processor is safe to share between goroutines; every Process call owns its
// own engines.
type Processor struct {
	opts       Options
	log        log.Logger
	dispatcher *decoder.Dispatcher
}

// New returns a processor. A nil dispatcher skips every application payload.
func New(opts Options, logger log.Logger, dispatcher *decoder.Dispatcher) *Processor {
	return &Processor{opts: opts, log: logger, dispatcher: dispatcher}
}

// Process analyses the capture at path with default options and no message
// decoders.
func Process(ctx context.Context, path string) (*Result, error) {
	return New(DefaultOptions(), log.NewNop(), nil).Process(ctx, path)
}

// Process reads the capture at path and walks every record. A global header
// or record header failure stops the run and is returned together with the
// partial result; a frame the decoder chain rejects is recorded in
// Result.Errors and the run continues at the next record.
func (p *Processor) Process(ctx context.Context, path string) (res *Result, err error) {
	logger := p.log.WithField("capture", filepath.Base(path))
	res = &Result{Path: path, Protocols: make(map[string]uint64)}

	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		metrics.ProcessDurationSeconds.Observe(res.Duration.Seconds())
		status := metrics.StatusOK
		if err != nil {
			status = metrics.StatusFailed
		}
		format := res.Format
		if format == "" {
			format = capture.FormatUnknown.String()
		}
		metrics.FilesTotal.WithLabelValues(format, status).Inc()
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).Error("Failed to read the packet capture")
		return res, fmt.Errorf("failed to read capture: %w", err)
	}
	res.Size = len(data)
	metrics.BytesTotal.Add(float64(len(data)))

	container, err := capture.Detect(data, logger)
	if err != nil {
		return res, err
	}
	res.Format = container.Format().String()

	r := capture.NewReader(data)
	gh, err := container.ReadGlobalHeader(r)
	if err != nil {
		return res, err
	}
	res.LinkType = gh.LinkType.String()
	logger.Debugf("Read %s global header, link type %s", res.Format, res.LinkType)

	rn := p.newRun(path, logger)
	chain := decoder.NewChain(p.dispatcher, rn, logger)

	for {
		if err := ctx.Err(); err != nil {
			logger.Warnf("Processing cancelled after %d packets", res.Packets)
			return res, err
		}

		rh, err := container.ReadRecordHeader(r, gh)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.WithError(err).Errorf("Record header after packet %d rejected, abandoning the capture", res.Packets)
			rn.finalize(res)
			return res, fmt.Errorf("record %d: %w", res.Packets+1, err)
		}

		frameData, err := r.Bytes(rh.CapturedLength)
		if err == nil {
			err = r.Skip(rh.TrailerLength)
		}
		if err != nil {
			logger.WithError(err).Errorf("Record %d runs past the end of the capture", res.Packets+1)
			rn.finalize(res)
			return res, fmt.Errorf("record %d: %w", res.Packets+1, err)
		}

		res.Packets++
		frame := core.Frame{
			Number:        res.Packets,
			Timestamp:     rh.Timestamp,
			LinkType:      rh.LinkType,
			Data:          frameData,
			PayloadLength: rh.PayloadLength,
		}

		pkt, err := chain.Decode(frame)
		protocol := pkt.Protocol.String()
		res.Protocols[protocol]++
		metrics.PacketsTotal.WithLabelValues(protocol).Inc()
		if err != nil {
			res.Errors = append(res.Errors, RecordError{PacketNumber: frame.Number, Err: err})
			metrics.RecordErrorsTotal.WithLabelValues(errorReason(err)).Inc()
		}
	}

	rn.finalize(res)
	logger.Infof("Processed %d packets (%d bytes) with %d errors", res.Packets, res.Size, len(res.Errors))
	return res, nil
}

// run holds the engines of one Process call and receives the observations
// made by message decoders.
type run struct {
	latency *latency.Engine
	timing  *timing.Engine
	burst   *burst.Engine
}

func (p *Processor) newRun(path string, logger log.Logger) *run {
	rn := &run{}
	if p.opts.Latency {
		o := p.opts.LatencyOptions
		o.CapturePath = path
		rn.latency = latency.New(o, logger)
	}
	if p.opts.Time {
		o := p.opts.TimeOptions
		o.CapturePath = path
		rn.timing = timing.New(o, logger)
	}
	if p.opts.Burst {
		o := p.opts.BurstOptions
		o.CapturePath = path
		rn.burst = burst.New(o, logger)
	}
	return rn
}

func (rn *run) ObserveLatency(host uint8, transport core.Transport, seq, msgID, packetNumber uint64, ts float64) {
	if rn.latency == nil {
		return
	}
	metrics.ObservationsTotal.WithLabelValues("latency").Inc()
	rn.latency.Register(host, transport, seq, msgID, packetNumber, ts)
}

func (rn *run) ObserveTime(host uint8, packetNumber uint64, ts, value float64) {
	if rn.timing == nil {
		return
	}
	metrics.ObservationsTotal.WithLabelValues("time").Inc()
	rn.timing.Register(host, packetNumber, ts, value)
}

func (rn *run) ObserveBurst(host uint8, transport core.Transport, outgoing bool, seq, msgID, packetNumber uint64, ts float64) {
	if rn.burst == nil {
		return
	}
	metrics.ObservationsTotal.WithLabelValues("burst").Inc()
	rn.burst.Register(host, transport, outgoing, seq, msgID, packetNumber, ts)
}

func (rn *run) finalize(res *Result) {
	if rn.latency != nil {
		r := rn.latency.Finalize()
		res.Latency = &r
	}
	if rn.timing != nil {
		r := rn.timing.Finalize()
		res.Time = &r
	}
	if rn.burst != nil {
		r := rn.burst.Finalize()
		res.Burst = &r
	}
}

var errorReasons = []struct {
	err    error
	reason string
}{
	{core.ErrVersionMismatch, "version_mismatch"},
	{core.ErrHeaderLength, "header_length"},
	{core.ErrLengthMismatch, "length_mismatch"},
	{core.ErrUnexpectedProtocol, "unexpected_protocol"},
	{core.ErrPacketTooShort, "packet_too_short"},
}

func errorReason(err error) string {
	for _, r := range errorReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
