package threshold

import (
	"fmt"
	"slices"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/metrics"
)

// Snapshotter is the read side of a metric store.
type Snapshotter interface {
	Snapshot(name string) (metrics.Aggregate, bool)
}

// Result is the verdict for one threshold.
type Result struct {
	Threshold Threshold
	Passed    bool
	Observed  float64
	// NoData marks a vacuous pass over an empty aggregate.
	NoData bool
}

// Expression returns the threshold as the user wrote it.
func (r Result) Expression() string { return r.Threshold.Raw }

// Report groups results by metric. The run passes iff every result passes.
type Report struct {
	Passed  bool
	Results map[string][]Result

	failed []Result
}

// Failed lists breached thresholds in evaluation order.
func (r Report) Failed() []Result {
	return slices.Clone(r.failed)
}

// Check verifies that every threshold names a metric known to src and uses
// a selector valid for its kind, without comparing any values.
func Check(thresholds []Threshold, src Snapshotter) error {
	for _, th := range thresholds {
		if _, err := resolve(th, src); err != nil {
			return err
		}
	}
	return nil
}

func resolve(th Threshold, src Snapshotter) (metrics.Aggregate, error) {
	agg, ok := src.Snapshot(th.Metric)
	if !ok {
		return metrics.Aggregate{}, &UnknownMetricError{Metric: th.Metric}
	}
	if !supports(agg.Kind, th.Selector) {
		return metrics.Aggregate{}, config.NewConfigError(fmt.Sprintf(
			"threshold %s %q: selector %s does not apply to a %s metric", th.Metric, th.Raw, th.Name(), agg.Kind))
	}
	return agg, nil
}

// Evaluate compares each threshold with a snapshot of its metric. It only
// reads from src. A threshold on an empty aggregate passes.
func Evaluate(thresholds []Threshold, src Snapshotter) (Report, error) {
	report := Report{Passed: true, Results: make(map[string][]Result)}
	for _, th := range thresholds {
		agg, err := resolve(th, src)
		if err != nil {
			return Report{}, err
		}

		res := Result{Threshold: th}
		if agg.Empty() {
			res.Passed = true
			res.NoData = true
		} else {
			res.Observed = observe(th, agg)
			res.Passed = compareValues(res.Observed, th.Operator, th.Value)
		}
		if !res.Passed {
			report.Passed = false
			report.failed = append(report.failed, res)
		}
		report.Results[th.Metric] = append(report.Results[th.Metric], res)
	}
	return report, nil
}
