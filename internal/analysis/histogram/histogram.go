// Package histogram implements the fixed-range bucketed accumulator used by
// every analysis engine.
package histogram

import (
	"fmt"
	"strings"

	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/log"
)

const (
	barWidth    = 120
	markerWidth = 144
)

// Histogram counts values into N bins delimited by N+1 strictly increasing boundaries.
type Histogram struct {
	boundaries []float64
	counts     []uint64
	underflow  uint64
	overflow   uint64
	total      uint64 // values counted in any bin

	min, max float64 // observed in-range extrema, valid when total > 0
}

// New builds a histogram of numBins equal-width bins over [min, max].
// An inverted range is swapped with a warning; an empty range is an error.
func New(numBins int, min, max float64, logger log.Logger) (*Histogram, error) {
	if numBins < 1 {
		return nil, fmt.Errorf("%w: got %d", core.ErrHistogramBins, numBins)
	}
	if min == max {
		return nil, fmt.Errorf("%w: min and max are both %v", core.ErrHistogramRange, min)
	}
	if min > max {
		logger.Warnf("histogram minimum %v is greater than maximum %v, swapping them", min, max)
		min, max = max, min
	}

	h := &Histogram{
		boundaries: make([]float64, numBins+1),
		counts:     make([]uint64, numBins),
	}
	width := (max - min) / float64(numBins)
	for i := range h.boundaries {
		h.boundaries[i] = min + float64(i)*width
	}
	h.boundaries[numBins] = max

	for i := 1; i < len(h.boundaries); i++ {
		if !(h.boundaries[i] > h.boundaries[i-1]) {
			return nil, fmt.Errorf("%w: boundary %d (%v) is not above boundary %d (%v)",
				core.ErrHistogramBoundaries, i, h.boundaries[i], i-1, h.boundaries[i-1])
		}
	}
	return h, nil
}

// MustNew is New for ranges fixed at compile time; it panics on error.
func MustNew(numBins int, min, max float64, logger log.Logger) *Histogram {
	h, err := New(numBins, min, max, logger)
	if err != nil {
		panic(err)
	}
	return h
}

// Add counts value and reports whether it fell inside the histogram range.
func (h *Histogram) Add(value float64) bool {
	last := len(h.boundaries) - 1
	if value < h.boundaries[0] {
		h.underflow++
		return false
	}
	if value > h.boundaries[last] {
		h.overflow++
		return false
	}

	// Linear scan from the bottom: latencies cluster at the low end of the range.
	bin := len(h.counts) - 1
	for i := 0; i < len(h.counts); i++ {
		if value < h.boundaries[i+1] {
			bin = i
			break
		}
	}
	h.counts[bin]++

	if h.total == 0 || value < h.min {
		h.min = value
	}
	if h.total == 0 || value > h.max {
		h.max = value
	}
	h.total++
	return true
}

// Reset zeroes all counters and extrema, keeping the boundaries.
func (h *Histogram) Reset() {
	for i := range h.counts {
		h.counts[i] = 0
	}
	h.underflow, h.overflow, h.total = 0, 0, 0
	h.min, h.max = 0, 0
}

func (h *Histogram) Boundaries() []float64 { return h.boundaries }
func (h *Histogram) Counts() []uint64      { return h.counts }
func (h *Histogram) Underflow() uint64     { return h.underflow }
func (h *Histogram) Overflow() uint64      { return h.overflow }
func (h *Histogram) Total() uint64         { return h.total }

// Min returns the smallest in-range value added, or 0 if none.
func (h *Histogram) Min() float64 { return h.min }

// Max returns the largest in-range value added, or 0 if none.
func (h *Histogram) Max() float64 { return h.max }

// Render returns the text rendering of the histogram, restricted to the bins
// between the observed minimum and maximum, with 1% and 99% cumulative markers.
func (h *Histogram) Render() []string {
	var lines []string
	if h.underflow > 0 {
		lines = append(lines, fmt.Sprintf("Number of values lower than bins: %d", h.underflow), "")
	}

	if h.total > 0 {
		var processed uint64
		firstFound, ninetyNinthFound := false, false
		for i, count := range h.counts {
			if h.boundaries[i+1] < h.min {
				continue
			}

			processed += count
			if !firstFound && float64(processed) >= float64(h.total)*0.01 {
				firstFound = true
				lines = append(lines, strings.Repeat("-", markerWidth)+"  1%")
			}

			lines = append(lines, h.renderBin(i))

			if !ninetyNinthFound && float64(processed) >= float64(h.total)*0.99 {
				ninetyNinthFound = true
				lines = append(lines, strings.Repeat("-", markerWidth)+" 99%")
			}

			if h.boundaries[i+1] > h.max {
				break
			}
		}
	}

	if h.overflow > 0 {
		lines = append(lines, "", fmt.Sprintf("Number of values higher than bins: %d", h.overflow))
	}
	return lines
}

func (h *Histogram) renderBin(i int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "% 09.5f to % 09.5f | ", h.boundaries[i], h.boundaries[i+1])

	count := h.counts[i]
	bar := int(float64(count) / float64(h.total) * barWidth)
	if count > 0 && bar == 0 {
		bar = 1
	}
	b.WriteString(strings.Repeat(")", bar))
	if count > 0 {
		fmt.Fprintf(&b, " %d", count)
	}
	return b.String()
}
