package metrics

import (
	"math"
	"sync"
	"time"
)

// Aggregate is a point-in-time copy of one metric. It is safe to share
// between goroutines.
type Aggregate struct {
	Name  string
	Kind  Kind
	Count int64 // samples recorded
	Trues int64 // non-zero samples, rate only
	Sum   float64
	Min   float64
	Max   float64
	First time.Time
	Last  time.Time

	dist distribution
}

// Empty reports whether no sample has been recorded.
func (a Aggregate) Empty() bool { return a.Count == 0 }

// Rate returns Trues/Count, or 0 when empty.
func (a Aggregate) Rate() float64 {
	if a.Count == 0 {
		return 0
	}
	return float64(a.Trues) / float64(a.Count)
}

func (a Aggregate) Avg() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Percentile returns the p-th percentile (0-100) of a trend, 0 when empty.
func (a Aggregate) Percentile(p float64) float64 {
	if a.dist == nil {
		return 0
	}
	return a.dist.percentile(p)
}

func (a Aggregate) Med() float64 { return a.Percentile(50) }

// Value is the headline number for the metric: the rate for rates, the sum
// for counters and the average for trends.
func (a Aggregate) Value() float64 {
	switch a.Kind {
	case KindRate:
		return a.Rate()
	case KindCounter:
		return a.Sum
	default:
		return a.Avg()
	}
}

// aggregate is the live, mutable form owned by the Store.
type aggregate struct {
	mu    sync.Mutex
	name  string
	kind  Kind
	count int64
	trues int64
	sum   float64
	min   float64
	max   float64
	first time.Time
	last  time.Time
	dist  distribution
}

func newAggregate(name string, kind Kind, mode TrendMode) *aggregate {
	agg := &aggregate{name: name, kind: kind}
	if kind == KindTrend {
		agg.dist = newDistribution(mode)
	}
	return agg
}

func (a *aggregate) add(v float64, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count == 0 {
		a.min, a.max = v, v
		a.first = at
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	if at.After(a.last) {
		a.last = at
	}
	a.count++
	a.sum += v
	if v != 0 {
		a.trues++
	}
	if a.dist != nil {
		a.dist.add(v)
	}
}

func (a *aggregate) snapshot() Aggregate {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Aggregate{
		Name:  a.name,
		Kind:  a.kind,
		Count: a.count,
		Trues: a.trues,
		Sum:   a.sum,
		Min:   a.min,
		Max:   a.max,
		First: a.first,
		Last:  a.last,
	}
	if a.dist != nil {
		snap.dist = a.dist.frozen()
	}
	return snap
}
