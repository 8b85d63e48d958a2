package metrics_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
)

func TestRateAggregate(t *testing.T) {
	s := metrics.NewStore()

	if err := s.Declare(metrics.Errors, metrics.KindRate); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	agg, ok := s.Snapshot(metrics.Errors)
	if !ok {
		t.Fatal("declared metric has no snapshot")
	}
	if agg.Rate() != 0 || !agg.Empty() {
		t.Errorf("empty rate = %v (empty=%v), want 0", agg.Rate(), agg.Empty())
	}

	for _, v := range []bool{true, false, false, true} {
		if err := s.AddRate(metrics.Errors, v); err != nil {
			t.Fatalf("AddRate() error = %v", err)
		}
	}

	agg, _ = s.Snapshot(metrics.Errors)
	if agg.Trues != 2 || agg.Count != 4 {
		t.Errorf("trues/count = %d/%d, want 2/4", agg.Trues, agg.Count)
	}
	if agg.Rate() != 0.5 {
		t.Errorf("Rate() = %v, want 0.5", agg.Rate())
	}
	if agg.Value() != 0.5 {
		t.Errorf("Value() = %v, want 0.5", agg.Value())
	}
}

func TestCounterAggregate(t *testing.T) {
	s := metrics.NewStore()
	for _, v := range []float64{1, 2, 3.5} {
		if err := s.Add(metrics.DataReceived, v); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	agg, _ := s.Snapshot(metrics.DataReceived)
	if agg.Sum != 6.5 || agg.Count != 3 {
		t.Errorf("sum/count = %v/%d, want 6.5/3", agg.Sum, agg.Count)
	}
	if agg.Value() != 6.5 {
		t.Errorf("Value() = %v, want 6.5", agg.Value())
	}
}

func TestTrendPercentilesExact(t *testing.T) {
	s := metrics.NewStore()
	for _, v := range []float64{5, 1, 4, 2, 3} {
		if err := s.AddTrend(metrics.HTTPReqDuration, v); err != nil {
			t.Fatalf("AddTrend() error = %v", err)
		}
	}
	agg, _ := s.Snapshot(metrics.HTTPReqDuration)

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{50, 3},
		{95, 4.8},
		{100, 5},
		{25, 2},
	}
	for _, tt := range tests {
		if got := agg.Percentile(tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if agg.Min != 1 || agg.Max != 5 || agg.Avg() != 3 || agg.Med() != 3 {
		t.Errorf("min/max/avg/med = %v/%v/%v/%v", agg.Min, agg.Max, agg.Avg(), agg.Med())
	}
}

func TestTrendPercentileSingleValueAndEmpty(t *testing.T) {
	s := metrics.NewStore()
	_ = s.Declare("latency", metrics.KindTrend)
	agg, _ := s.Snapshot("latency")
	if agg.Percentile(95) != 0 {
		t.Errorf("empty Percentile(95) = %v, want 0", agg.Percentile(95))
	}

	_ = s.AddTrend("latency", 42)
	agg, _ = s.Snapshot("latency")
	for _, p := range []float64{0, 50, 99.9, 100} {
		if got := agg.Percentile(p); got != 42 {
			t.Errorf("Percentile(%v) = %v, want 42", p, got)
		}
	}
}

func TestTrendPercentilesHDR(t *testing.T) {
	s := metrics.NewStore(metrics.WithTrendMode(metrics.TrendHDR))
	for i := 1; i <= 1000; i++ {
		_ = s.AddTrend(metrics.HTTPReqDuration, float64(i))
	}
	agg, _ := s.Snapshot(metrics.HTTPReqDuration)

	for _, tt := range []struct{ p, want float64 }{{50, 500}, {95, 950}, {99, 990}} {
		got := agg.Percentile(tt.p)
		if math.Abs(got-tt.want)/tt.want > 0.01 {
			t.Errorf("Percentile(%v) = %v, want within 1%% of %v", tt.p, got, tt.want)
		}
	}
	if agg.Min != 1 || agg.Max != 1000 {
		t.Errorf("min/max = %v/%v, want exact 1/1000", agg.Min, agg.Max)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := metrics.NewStore()
	_ = s.AddTrend("t", 10)
	before, _ := s.Snapshot("t")
	_ = s.AddTrend("t", 20)
	if before.Count != 1 || before.Percentile(100) != 10 {
		t.Errorf("snapshot changed after later writes: count=%d p100=%v", before.Count, before.Percentile(100))
	}
}

func TestKindMismatch(t *testing.T) {
	s := metrics.NewStore()
	if err := s.Declare("orders", metrics.KindCounter); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if err := s.Declare("orders", metrics.KindCounter); err != nil {
		t.Errorf("re-declare with same kind error = %v", err)
	}
	if err := s.Declare("orders", metrics.KindRate); !errors.Is(err, metrics.ErrKindMismatch) {
		t.Errorf("Declare() error = %v, want ErrKindMismatch", err)
	}
	if err := s.AddTrend("orders", 1); !errors.Is(err, metrics.ErrKindMismatch) {
		t.Errorf("AddTrend() error = %v, want ErrKindMismatch", err)
	}
}

func TestRecordRejectsInvalidSamples(t *testing.T) {
	s := metrics.NewStore()
	tests := []metrics.Sample{
		{Metric: "", Kind: metrics.KindCounter, Value: 1},
		{Metric: "x", Kind: 0, Value: 1},
		{Metric: "x", Kind: metrics.KindTrend, Value: math.NaN()},
		{Metric: "x", Kind: metrics.KindTrend, Value: math.Inf(1)},
	}
	for _, sample := range tests {
		if err := s.Record(sample); !errors.Is(err, metrics.ErrInvalidSample) {
			t.Errorf("Record(%+v) error = %v, want ErrInvalidSample", sample, err)
		}
	}
	if s.Has("x") {
		t.Error("invalid samples must not declare a metric")
	}
}

func TestRecordAutoDeclaresAndTimestamps(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := metrics.NewStore(metrics.WithClock(func() time.Time { return fixed }))

	if err := s.Record(metrics.Sample{Metric: "custom", Kind: metrics.KindTrend, Value: 3}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	kind, ok := s.KindOf("custom")
	if !ok || kind != metrics.KindTrend {
		t.Fatalf("KindOf() = %v, %v", kind, ok)
	}
	agg, _ := s.Snapshot("custom")
	if !agg.First.Equal(fixed) || !agg.Last.Equal(fixed) {
		t.Errorf("first/last = %v/%v, want %v", agg.First, agg.Last, fixed)
	}
}

func TestDeclareBuiltins(t *testing.T) {
	s := metrics.NewStore()
	s.DeclareBuiltins()
	names := s.Names()
	if len(names) != len(metrics.Builtins) {
		t.Fatalf("Names() = %v, want %d builtins", names, len(metrics.Builtins))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Names() not sorted: %v", names)
		}
	}
	if kind, _ := s.KindOf(metrics.HTTPReqFailed); kind != metrics.KindRate {
		t.Errorf("http_req_failed kind = %s", kind)
	}
}

func TestConcurrentWritersNoLostUpdates(t *testing.T) {
	s := metrics.NewStore()
	const writers = 50
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = s.Add(metrics.HTTPReqs, 1)
				_ = s.AddRate(metrics.Errors, i%2 == 0)
				_ = s.AddTrend(metrics.HTTPReqDuration, float64(i))
			}
		}(w)
	}

	// Concurrent readers must always see a self-consistent rate aggregate.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if agg, ok := s.Snapshot(metrics.Errors); ok && agg.Trues > agg.Count {
				t.Errorf("torn read: trues %d > count %d", agg.Trues, agg.Count)
				return
			}
		}
	}()

	wg.Wait()
	<-done

	all := s.SnapshotAll()
	if got := all[metrics.HTTPReqs].Sum; got != writers*perWriter {
		t.Errorf("http_reqs = %v, want %d", got, writers*perWriter)
	}
	if got := all[metrics.Errors]; got.Count != writers*perWriter || got.Trues != writers*perWriter/2 {
		t.Errorf("errors trues/count = %d/%d", got.Trues, got.Count)
	}
	if got := all[metrics.HTTPReqDuration].Count; got != writers*perWriter {
		t.Errorf("trend count = %d", got)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []metrics.Kind{metrics.KindRate, metrics.KindCounter, metrics.KindTrend} {
		got, err := metrics.ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := metrics.ParseKind("gauge"); err == nil {
		t.Error("ParseKind(gauge) error = nil")
	}
}
