package output

import (
	"sort"
	"time"

	"github.com/torosent/stagefire/internal/check"
	"github.com/torosent/stagefire/internal/engine"
	"github.com/torosent/stagefire/internal/metrics"
)

// Summary is the serializable form of an engine report.
type Summary struct {
	RunID       string                        `json:"run_id" yaml:"run_id"`
	Scenario    string                        `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	StartedAt   time.Time                     `json:"started_at" yaml:"started_at"`
	Duration    string                        `json:"duration" yaml:"duration"`
	Passed      bool                          `json:"passed" yaml:"passed"`
	Aborted     bool                          `json:"aborted" yaml:"aborted"`
	AbortReason string                        `json:"abort_reason,omitempty" yaml:"abort_reason,omitempty"`
	Iterations  int64                         `json:"iterations" yaml:"iterations"`
	VUsStarted  int                           `json:"vus_started" yaml:"vus_started"`
	PeakVUs     int                           `json:"peak_vus" yaml:"peak_vus"`
	Metrics     map[string]MetricSummary      `json:"metrics" yaml:"metrics"`
	Checks      []check.Tally                 `json:"checks" yaml:"checks"`
	Thresholds  map[string][]ThresholdSummary `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// MetricSummary holds the figures relevant to a metric's kind; the others
// are omitted.
type MetricSummary struct {
	Kind  string   `json:"kind" yaml:"kind"`
	Count int64    `json:"count" yaml:"count"`
	Rate  *float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	Sum   *float64 `json:"sum,omitempty" yaml:"sum,omitempty"`
	Avg   *float64 `json:"avg,omitempty" yaml:"avg,omitempty"`
	Min   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Med   *float64 `json:"med,omitempty" yaml:"med,omitempty"`
	Max   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	P90   *float64 `json:"p90,omitempty" yaml:"p90,omitempty"`
	P95   *float64 `json:"p95,omitempty" yaml:"p95,omitempty"`
	P99   *float64 `json:"p99,omitempty" yaml:"p99,omitempty"`
}

type ThresholdSummary struct {
	Expression string  `json:"expression" yaml:"expression"`
	Passed     bool    `json:"passed" yaml:"passed"`
	Observed   float64 `json:"observed" yaml:"observed"`
	NoData     bool    `json:"no_data,omitempty" yaml:"no_data,omitempty"`
}

// Summarize flattens report into a Summary.
func Summarize(report *engine.Report) Summary {
	s := Summary{
		RunID:       report.RunID,
		Scenario:    report.Scenario,
		StartedAt:   report.StartedAt,
		Duration:    report.Scheduler.Duration.Round(time.Millisecond).String(),
		Passed:      report.Passed,
		Aborted:     report.Aborted,
		AbortReason: report.AbortReason,
		Iterations:  report.Scheduler.Iterations,
		VUsStarted:  report.Scheduler.VUsStarted,
		PeakVUs:     report.Scheduler.PeakVUs,
		Metrics:     make(map[string]MetricSummary, len(report.Metrics)),
		Checks:      report.Checks,
	}
	for name, agg := range report.Metrics {
		s.Metrics[name] = summarizeMetric(agg)
	}
	if len(report.Thresholds.Results) > 0 {
		s.Thresholds = make(map[string][]ThresholdSummary, len(report.Thresholds.Results))
		for metric, results := range report.Thresholds.Results {
			for _, res := range results {
				s.Thresholds[metric] = append(s.Thresholds[metric], ThresholdSummary{
					Expression: res.Expression(),
					Passed:     res.Passed,
					Observed:   res.Observed,
					NoData:     res.NoData,
				})
			}
		}
	}
	return s
}

func summarizeMetric(agg metrics.Aggregate) MetricSummary {
	m := MetricSummary{Kind: agg.Kind.String(), Count: agg.Count}
	switch agg.Kind {
	case metrics.KindRate:
		m.Rate = ptr(agg.Rate())
	case metrics.KindCounter:
		m.Sum = ptr(agg.Sum)
	case metrics.KindTrend:
		if agg.Empty() {
			break
		}
		m.Avg = ptr(agg.Avg())
		m.Min = ptr(agg.Min)
		m.Med = ptr(agg.Med())
		m.Max = ptr(agg.Max)
		m.P90 = ptr(agg.Percentile(90))
		m.P95 = ptr(agg.Percentile(95))
		m.P99 = ptr(agg.Percentile(99))
	}
	return m
}

func ptr(v float64) *float64 { return &v }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
