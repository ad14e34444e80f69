package core

import "errors"

// Sentinel errors, wrapped with context by the component that detects them.
var (
	// Capture container errors (fatal to the run)
	ErrFormat              = errors.New("analyser: unrecognised capture format")
	ErrUnsupportedLinkType = errors.New("analyser: unsupported link type")
	ErrTruncated           = errors.New("analyser: capture truncated")

	// Frame/packet decoding errors (fatal to the record only)
	ErrPacketTooShort     = errors.New("analyser: packet too short")
	ErrVersionMismatch    = errors.New("analyser: version mismatch")
	ErrHeaderLength       = errors.New("analyser: header length out of range")
	ErrLengthMismatch     = errors.New("analyser: length mismatch")
	ErrUnexpectedProtocol = errors.New("analyser: unexpected protocol")

	// Histogram construction errors
	ErrHistogramRange      = errors.New("analyser: histogram range is empty")
	ErrHistogramBins       = errors.New("analyser: histogram needs at least one bin")
	ErrHistogramBoundaries = errors.New("analyser: histogram boundaries not strictly increasing")

	// Configuration errors
	ErrConfigInvalid   = errors.New("analyser: invalid configuration")
	ErrDecoderNotFound = errors.New("analyser: message decoder not found")
)
