package metrics

import (
	"math"
	"sort"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// TrendMode selects how trend values are stored.
type TrendMode int

const (
	// TrendExact keeps every value; percentiles are exact.
	TrendExact TrendMode = iota
	// TrendHDR keeps a bounded HDR histogram sketch.
	TrendHDR
)

// HDR bounds, in microseconds: 1µs to one hour.
const (
	hdrLowest  = 1
	hdrHighest = 3_600_000_000
	hdrSigFigs = 3
)

type distribution interface {
	add(v float64)
	percentile(p float64) float64
	// frozen returns an independent copy safe for concurrent reads.
	frozen() distribution
}

func newDistribution(mode TrendMode) distribution {
	if mode == TrendHDR {
		return &hdrDist{h: hdrhistogram.New(hdrLowest, hdrHighest, hdrSigFigs)}
	}
	return &exactDist{}
}

type exactDist struct {
	values []float64
	sorted bool
}

func (d *exactDist) add(v float64) {
	d.values = append(d.values, v)
	d.sorted = false
}

func (d *exactDist) frozen() distribution {
	if !d.sorted {
		sort.Float64s(d.values)
		d.sorted = true
	}
	values := make([]float64, len(d.values))
	copy(values, d.values)
	return &exactDist{values: values, sorted: true}
}

// percentile interpolates linearly between the closest ranks.
func (d *exactDist) percentile(p float64) float64 {
	n := len(d.values)
	if n == 0 {
		return 0
	}
	if !d.sorted {
		sort.Float64s(d.values)
		d.sorted = true
	}
	p = clampPercent(p)
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return d.values[lo]
	}
	frac := rank - float64(lo)
	v := d.values[lo] + (d.values[hi]-d.values[lo])*frac
	// Rounding must not push the result past the bracketing ranks.
	return math.Min(math.Max(v, d.values[lo]), d.values[hi])
}

type hdrDist struct {
	h *hdrhistogram.Histogram
}

func (d *hdrDist) add(v float64) {
	us := int64(math.Round(v * 1000))
	if us < d.h.LowestTrackableValue() {
		us = d.h.LowestTrackableValue()
	}
	if us > d.h.HighestTrackableValue() {
		us = d.h.HighestTrackableValue()
	}
	_ = d.h.RecordValue(us)
}

func (d *hdrDist) frozen() distribution {
	return &hdrDist{h: hdrhistogram.Import(d.h.Export())}
}

func (d *hdrDist) percentile(p float64) float64 {
	if d.h.TotalCount() == 0 {
		return 0
	}
	return float64(d.h.ValueAtQuantile(clampPercent(p))) / 1000
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
