package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrKindMismatch is returned when a metric is used with a kind other
	// than the one it was declared with.
	ErrKindMismatch = errors.New("metric kind mismatch")
	// ErrInvalidSample is returned for samples without a name, with an
	// unknown kind, or with a NaN or infinite value.
	ErrInvalidSample = errors.New("invalid sample")
)

// Store is a concurrent registry of metric aggregates. Each engine run owns
// its own Store.
type Store struct {
	mode TrendMode
	now  func() time.Time

	mu   sync.RWMutex
	aggs map[string]*aggregate
}

type StoreOption func(*Store)

// WithTrendMode selects exact or HDR trend storage.
func WithTrendMode(mode TrendMode) StoreOption {
	return func(s *Store) { s.mode = mode }
}

// WithClock overrides the timestamp used by the Add helpers.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		mode: TrendExact,
		now:  time.Now,
		aggs: make(map[string]*aggregate),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TrendMode reports the storage mode used for trends.
func (s *Store) TrendMode() TrendMode { return s.mode }

// Declare registers name with kind. Declaring an existing metric again with
// the same kind is a no-op.
func (s *Store) Declare(name string, kind Kind) error {
	_, err := s.lookup(name, kind)
	return err
}

// DeclareBuiltins registers every metric in Builtins.
func (s *Store) DeclareBuiltins() {
	for name, kind := range Builtins {
		_ = s.Declare(name, kind)
	}
}

// Record adds a sample, declaring the metric on first use.
func (s *Store) Record(sample Sample) error {
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return fmt.Errorf("%w: %s value %v", ErrInvalidSample, sample.Metric, sample.Value)
	}
	agg, err := s.lookup(sample.Metric, sample.Kind)
	if err != nil {
		return err
	}
	at := sample.Time
	if at.IsZero() {
		at = s.now()
	}
	agg.add(sample.Value, at)
	return nil
}

// Add records a counter increment.
func (s *Store) Add(name string, delta float64) error {
	return s.Record(Sample{Metric: name, Kind: KindCounter, Value: delta, Time: s.now()})
}

// AddRate records a boolean observation for a rate metric.
func (s *Store) AddRate(name string, ok bool) error {
	v := 0.0
	if ok {
		v = 1
	}
	return s.Record(Sample{Metric: name, Kind: KindRate, Value: v, Time: s.now()})
}

// AddTrend records one value of a trend metric.
func (s *Store) AddTrend(name string, value float64) error {
	return s.Record(Sample{Metric: name, Kind: KindTrend, Value: value, Time: s.now()})
}

func (s *Store) Snapshot(name string) (Aggregate, bool) {
	s.mu.RLock()
	agg, ok := s.aggs[name]
	s.mu.RUnlock()
	if !ok {
		return Aggregate{}, false
	}
	return agg.snapshot(), true
}

// SnapshotAll copies every aggregate. Each entry is internally consistent;
// entries are not captured at a single instant relative to each other.
func (s *Store) SnapshotAll() map[string]Aggregate {
	s.mu.RLock()
	aggs := make([]*aggregate, 0, len(s.aggs))
	for _, agg := range s.aggs {
		aggs = append(aggs, agg)
	}
	s.mu.RUnlock()

	out := make(map[string]Aggregate, len(aggs))
	for _, agg := range aggs {
		out[agg.name] = agg.snapshot()
	}
	return out
}

// Names returns every declared metric name in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.aggs))
	for name := range s.aggs {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (s *Store) Has(name string) bool {
	s.mu.RLock()
	_, ok := s.aggs[name]
	s.mu.RUnlock()
	return ok
}

// KindOf returns the declared kind of name.
func (s *Store) KindOf(name string) (Kind, bool) {
	s.mu.RLock()
	agg, ok := s.aggs[name]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return agg.kind, true
}

func (s *Store) lookup(name string, kind Kind) (*aggregate, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty metric name", ErrInvalidSample)
	}
	if kind < KindRate || kind > KindTrend {
		return nil, fmt.Errorf("%w: %s has %s", ErrInvalidSample, name, kind)
	}

	s.mu.RLock()
	agg, ok := s.aggs[name]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		agg, ok = s.aggs[name]
		if !ok {
			agg = newAggregate(name, kind, s.mode)
			s.aggs[name] = agg
		}
		s.mu.Unlock()
	}

	if agg.kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrKindMismatch, name, agg.kind, kind)
	}
	return agg, nil
}
