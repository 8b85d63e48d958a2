package threshold

import (
	"errors"
	"testing"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		metric    string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:   "percentile without spaces",
			metric: "http_req_duration",
			input:  "p(95)<500",
			want:   Threshold{Metric: "http_req_duration", Selector: SelPercentile, Percent: 95, Operator: "<", Value: 500, Raw: "p(95)<500"},
		},
		{
			name:   "fractional percentile with spaces",
			metric: "http_req_duration",
			input:  "p(99.9) <= 1500",
			want:   Threshold{Metric: "http_req_duration", Selector: SelPercentile, Percent: 99.9, Operator: "<=", Value: 1500, Raw: "p(99.9) <= 1500"},
		},
		{
			name:   "rate",
			metric: "errors",
			input:  "rate<0.1",
			want:   Threshold{Metric: "errors", Selector: SelRate, Operator: "<", Value: 0.1, Raw: "rate<0.1"},
		},
		{
			name:   "seconds unit converts to milliseconds",
			metric: "http_req_duration",
			input:  "avg < 1.5s",
			want:   Threshold{Metric: "http_req_duration", Selector: SelAvg, Operator: "<", Value: 1500, Raw: "avg < 1.5s"},
		},
		{
			name:   "millisecond unit",
			metric: "iteration_duration",
			input:  "max<=200ms",
			want:   Threshold{Metric: "iteration_duration", Selector: SelMax, Operator: "<=", Value: 200, Raw: "max<=200ms"},
		},
		{
			name:   "not equal",
			metric: "http_reqs",
			input:  "count != 0",
			want:   Threshold{Metric: "http_reqs", Selector: SelCount, Operator: "!=", Value: 0, Raw: "count != 0"},
		},
		{name: "percentile above 100", metric: "d", input: "p(101) < 5", wantError: true},
		{name: "unknown selector", metric: "d", input: "p95 < 5", wantError: true},
		{name: "unknown operator", metric: "d", input: "avg => 5", wantError: true},
		{name: "missing value", metric: "d", input: "avg <", wantError: true},
		{name: "unit on rate", metric: "errors", input: "rate < 1s", wantError: true},
		{name: "empty metric", metric: " ", input: "rate < 1", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.metric, tt.input)
			if tt.wantError {
				var cfgErr *config.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("Parse() error = %v, want *config.ConfigError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFlag(t *testing.T) {
	th, err := ParseFlag("http_req_duration:p(95)<500")
	if err != nil {
		t.Fatalf("ParseFlag() error = %v", err)
	}
	if th.Metric != "http_req_duration" || th.Percent != 95 || th.Value != 500 {
		t.Errorf("ParseFlag() = %+v", th)
	}
	if _, err := ParseFlag("p(95)<500"); err == nil {
		t.Error("ParseFlag() without metric error = nil")
	}
}

func TestParseSetCollectsAllErrors(t *testing.T) {
	_, err := ParseSet(map[string][]string{
		"errors":            {"rate<0.1", "bogus"},
		"http_req_duration": {"p(200)<1"},
	})
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("ParseSet() error = %v, want *config.ConfigError", err)
	}
	if got := len(cfgErr.Issues()); got != 2 {
		t.Errorf("issues = %d (%v), want 2", got, cfgErr.Issues())
	}
}

func TestParseSpecsOrderAndAbort(t *testing.T) {
	got, err := ParseSpecs(map[string][]config.ThresholdSpec{
		"http_req_duration": {{Expression: "p(95)<500"}, {Expression: "p(99)<1500"}},
		"errors":            {{Expression: "rate<0.1", AbortOnFail: true}},
	})
	if err != nil {
		t.Fatalf("ParseSpecs() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Metric != "errors" || !got[0].AbortOnFail {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Percent != 95 || got[2].Percent != 99 {
		t.Errorf("declaration order not kept: %+v %+v", got[1], got[2])
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		actual   float64
		op       string
		expected float64
		want     bool
	}{
		{1, "<", 2, true},
		{2, "<", 2, false},
		{2, "<=", 2, true},
		{0.1 + 0.2, "<=", 0.3, true},
		{3, ">", 2, true},
		{2, ">=", 2, true},
		{0.3, "==", 0.1 + 0.2, true},
		{1, "!=", 2, true},
		{1, "!=", 1, false},
		{1, "~", 1, false},
	}
	for _, tt := range tests {
		if got := compareValues(tt.actual, tt.op, tt.expected); got != tt.want {
			t.Errorf("compareValues(%v %s %v) = %v, want %v", tt.actual, tt.op, tt.expected, got, tt.want)
		}
	}
}

func newStore(t *testing.T) *metrics.Store {
	t.Helper()
	s := metrics.NewStore()
	s.DeclareBuiltins()
	for i := 1; i <= 100; i++ {
		_ = s.AddTrend(metrics.HTTPReqDuration, float64(i))
		_ = s.Add(metrics.HTTPReqs, 1)
		_ = s.AddRate(metrics.Errors, i%10 == 0)
	}
	return s
}

func mustParse(t *testing.T, metric, expr string) Threshold {
	t.Helper()
	th, err := Parse(metric, expr)
	if err != nil {
		t.Fatalf("Parse(%s, %s) error = %v", metric, expr, err)
	}
	return th
}

func TestEvaluate(t *testing.T) {
	s := newStore(t)

	tests := []struct {
		metric   string
		expr     string
		pass     bool
		observed float64
	}{
		{metrics.HTTPReqDuration, "p(95) < 500", true, 95.05},
		{metrics.HTTPReqDuration, "p(95) < 90", false, 95.05},
		{metrics.HTTPReqDuration, "avg == 50.5", true, 50.5},
		{metrics.HTTPReqDuration, "min >= 1", true, 1},
		{metrics.HTTPReqDuration, "max <= 0.1s", true, 100},
		{metrics.HTTPReqDuration, "med < 50", false, 50.5},
		{metrics.HTTPReqDuration, "count == 100", true, 100},
		{metrics.Errors, "rate < 0.1", false, 0.1},
		{metrics.Errors, "rate <= 0.1", true, 0.1},
		{metrics.Errors, "value < 0.2", true, 0.1},
		{metrics.HTTPReqs, "count > 99", true, 100},
		{metrics.HTTPReqs, "value == 100", true, 100},
	}

	for _, tt := range tests {
		t.Run(tt.metric+" "+tt.expr, func(t *testing.T) {
			report, err := Evaluate([]Threshold{mustParse(t, tt.metric, tt.expr)}, s)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			res := report.Results[tt.metric][0]
			if res.Passed != tt.pass {
				t.Errorf("Passed = %v, want %v (observed %v)", res.Passed, tt.pass, res.Observed)
			}
			if diff := res.Observed - tt.observed; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Observed = %v, want %v", res.Observed, tt.observed)
			}
			if report.Passed != tt.pass {
				t.Errorf("report.Passed = %v, want %v", report.Passed, tt.pass)
			}
		})
	}
}

func TestEvaluateOverallRequiresAllPassing(t *testing.T) {
	s := newStore(t)
	ths := []Threshold{
		mustParse(t, metrics.HTTPReqDuration, "p(95)<500"),
		mustParse(t, metrics.Errors, "rate<0.05"),
	}
	report, err := Evaluate(ths, s)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if report.Passed {
		t.Error("report.Passed = true with one failing threshold")
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Threshold.Metric != metrics.Errors {
		t.Errorf("Failed() = %+v", failed)
	}
}

func TestCounterCountIsRunningTotal(t *testing.T) {
	s := metrics.NewStore()
	s.DeclareBuiltins()
	_ = s.Add(metrics.DataReceived, 512)
	_ = s.Add(metrics.DataReceived, 512)
	_ = s.AddTrend(metrics.HTTPReqDuration, 10)
	_ = s.AddTrend(metrics.HTTPReqDuration, 20)

	report, err := Evaluate([]Threshold{
		mustParse(t, metrics.DataReceived, "count==1024"),
		mustParse(t, metrics.HTTPReqDuration, "count==2"),
	}, s)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got := report.Results[metrics.DataReceived][0].Observed; got != 1024 {
		t.Errorf("counter count = %v, want 1024", got)
	}
	if got := report.Results[metrics.HTTPReqDuration][0].Observed; got != 2 {
		t.Errorf("trend count = %v, want 2", got)
	}
	if !report.Passed {
		t.Errorf("report = %+v, want passed", report)
	}
}

func TestFailedKeepsEvaluationOrder(t *testing.T) {
	s := newStore(t)
	ths := []Threshold{
		mustParse(t, metrics.HTTPReqs, "count<10"),
		mustParse(t, metrics.Errors, "rate<0.05"),
		mustParse(t, metrics.HTTPReqDuration, "p(95)<10"),
		mustParse(t, metrics.HTTPReqDuration, "max<50"),
	}
	want := []string{"count<10", "rate<0.05", "p(95)<10", "max<50"}
	for i := 0; i < 20; i++ {
		report, err := Evaluate(ths, s)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		failed := report.Failed()
		if len(failed) != len(want) {
			t.Fatalf("Failed() = %+v, want %d results", failed, len(want))
		}
		for j, res := range failed {
			if res.Expression() != want[j] {
				t.Fatalf("Failed()[%d] = %s, want %s", j, res.Expression(), want[j])
			}
		}
	}
}

func TestEvaluateEmptyAggregatePassesVacuously(t *testing.T) {
	s := metrics.NewStore()
	s.DeclareBuiltins()
	report, err := Evaluate([]Threshold{
		mustParse(t, metrics.Errors, "rate<0.1"),
		mustParse(t, metrics.HTTPReqDuration, "p(95)<1"),
		mustParse(t, metrics.HTTPReqs, "count>10"),
	}, s)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !report.Passed {
		t.Fatalf("report.Passed = false on empty store: %+v", report)
	}
	for _, results := range report.Results {
		for _, res := range results {
			if !res.NoData {
				t.Errorf("%s NoData = false", res.Threshold.Raw)
			}
		}
	}
}

func TestEvaluateUnknownMetric(t *testing.T) {
	s := metrics.NewStore()
	_, err := Evaluate([]Threshold{mustParse(t, "nope", "rate<0.1")}, s)
	if !errors.Is(err, ErrUnknownMetric) {
		t.Fatalf("Evaluate() error = %v, want ErrUnknownMetric", err)
	}
	var unknown *UnknownMetricError
	if !errors.As(err, &unknown) || unknown.Metric != "nope" {
		t.Errorf("error = %#v", err)
	}
	if err := Check([]Threshold{mustParse(t, "nope", "rate<0.1")}, s); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("Check() error = %v, want ErrUnknownMetric", err)
	}
}

func TestEvaluateSelectorKindMismatch(t *testing.T) {
	s := newStore(t)
	for _, tc := range []struct{ metric, expr string }{
		{metrics.Errors, "p(95)<1"},
		{metrics.HTTPReqDuration, "rate<1"},
		{metrics.HTTPReqs, "avg<1"},
	} {
		_, err := Evaluate([]Threshold{mustParse(t, tc.metric, tc.expr)}, s)
		var cfgErr *config.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("Evaluate(%s %s) error = %v, want *config.ConfigError", tc.metric, tc.expr, err)
		}
	}
}

// countingSnapshotter counts reads against a store.
type countingSnapshotter struct {
	store *metrics.Store
	calls int
}

func (c *countingSnapshotter) Snapshot(name string) (metrics.Aggregate, bool) {
	c.calls++
	return c.store.Snapshot(name)
}

func TestEvaluateIsPure(t *testing.T) {
	s := newStore(t)
	before := s.SnapshotAll()
	src := &countingSnapshotter{store: s}
	ths := []Threshold{mustParse(t, metrics.HTTPReqDuration, "p(95)<500"), mustParse(t, metrics.Errors, "rate<0.5")}

	first, err := Evaluate(ths, src)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	second, _ := Evaluate(ths, src)

	after := s.SnapshotAll()
	for name, agg := range before {
		if after[name].Count != agg.Count || after[name].Sum != agg.Sum {
			t.Errorf("%s changed during evaluation", name)
		}
	}
	if first.Passed != second.Passed || first.Results[metrics.Errors][0].Observed != second.Results[metrics.Errors][0].Observed {
		t.Error("repeated evaluation over the same data differs")
	}
	if src.calls != 4 {
		t.Errorf("Snapshot calls = %d, want 4", src.calls)
	}
}
