package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/metrics"
)

// ErrUnknownMetric is matched by errors for thresholds on metrics the store
// has never declared.
var ErrUnknownMetric = errors.New("unknown metric")

// UnknownMetricError names the metric a threshold referred to.
type UnknownMetricError struct {
	Metric string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("threshold references unknown metric %q", e.Metric)
}

func (e *UnknownMetricError) Is(target error) bool { return target == ErrUnknownMetric }

// Selectors.
const (
	SelPercentile = "p"
	SelAvg        = "avg"
	SelMin        = "min"
	SelMax        = "max"
	SelMed        = "med"
	SelCount      = "count"
	SelRate       = "rate"
	SelValue      = "value"
	SelSum        = "sum"
)

// Threshold is a parsed pass/fail expression bound to a metric, such as
// http_req_duration "p(95) < 500".
type Threshold struct {
	Metric      string
	Selector    string
	Percent     float64 // p(N) only
	Operator    string
	Value       float64 // in the metric's unit; trend values are milliseconds
	Raw         string
	AbortOnFail bool
}

// Name renders the selector as written, e.g. "p(95)".
func (t Threshold) Name() string {
	if t.Selector == SelPercentile {
		return "p(" + strconv.FormatFloat(t.Percent, 'f', -1, 64) + ")"
	}
	return t.Selector
}

var exprPattern = regexp.MustCompile(`^\s*(p\(\s*([0-9]+(?:\.[0-9]+)?)\s*\)|avg|min|max|med|count|rate|value|sum)\s*(<=|>=|==|!=|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?)\s*(ms|s)?\s*$`)

// Parse parses expr, declared for metric. Malformed expressions are reported
// as *config.ConfigError.
func Parse(metric, expr string) (Threshold, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return Threshold{}, config.NewConfigError(fmt.Sprintf("threshold %q: metric name is required", expr))
	}
	matches := exprPattern.FindStringSubmatch(expr)
	if matches == nil {
		return Threshold{}, config.NewConfigError(fmt.Sprintf(
			"threshold %s %q: expected 'selector op number', e.g. 'p(95) < 500' or 'rate < 0.1'", metric, expr))
	}

	th := Threshold{
		Metric:   metric,
		Selector: matches[1],
		Operator: matches[3],
		Raw:      strings.TrimSpace(expr),
	}
	if matches[2] != "" {
		th.Selector = SelPercentile
		p, err := strconv.ParseFloat(matches[2], 64)
		if err != nil || p < 0 || p > 100 {
			return Threshold{}, config.NewConfigError(fmt.Sprintf("threshold %s %q: percentile must be between 0 and 100", metric, expr))
		}
		th.Percent = p
	}

	value, err := strconv.ParseFloat(matches[4], 64)
	if err != nil {
		return Threshold{}, config.NewConfigError(fmt.Sprintf("threshold %s %q: invalid value: %v", metric, expr, err))
	}
	switch matches[5] {
	case "":
	case "ms", "s":
		if !isTrendSelector(th.Selector) {
			return Threshold{}, config.NewConfigError(fmt.Sprintf("threshold %s %q: unit %q only applies to duration selectors", metric, expr, matches[5]))
		}
		if matches[5] == "s" {
			value *= 1000
		}
	}
	th.Value = value
	return th, nil
}

// ParseFlag parses the CLI form "metric:expression".
func ParseFlag(s string) (Threshold, error) {
	metric, expr, ok := strings.Cut(s, ":")
	if !ok {
		return Threshold{}, config.NewConfigError(fmt.Sprintf("threshold %q must be in metric:expression form", s))
	}
	return Parse(metric, expr)
}

// ParseSet parses every expression of every metric. All problems are
// collected into one *config.ConfigError. The result is ordered by metric
// name, then declaration order.
func ParseSet(set map[string][]string) ([]Threshold, error) {
	specs := make(map[string][]config.ThresholdSpec, len(set))
	for metric, exprs := range set {
		for _, expr := range exprs {
			specs[metric] = append(specs[metric], config.ThresholdSpec{Expression: expr})
		}
	}
	return ParseSpecs(specs)
}

// ParseSpecs is ParseSet for configuration entries that carry abort_on_fail.
func ParseSpecs(set map[string][]config.ThresholdSpec) ([]Threshold, error) {
	metricsNames := make([]string, 0, len(set))
	for metric := range set {
		metricsNames = append(metricsNames, metric)
	}
	sort.Strings(metricsNames)

	var (
		out    []Threshold
		issues []string
	)
	for _, metric := range metricsNames {
		for _, spec := range set[metric] {
			th, err := Parse(metric, spec.Expression)
			if err != nil {
				var cfgErr *config.ConfigError
				if errors.As(err, &cfgErr) {
					issues = append(issues, cfgErr.Issues()...)
				} else {
					issues = append(issues, err.Error())
				}
				continue
			}
			th.AbortOnFail = spec.AbortOnFail
			out = append(out, th)
		}
	}
	if len(issues) > 0 {
		return nil, config.NewConfigError(issues...)
	}
	return out, nil
}

func isTrendSelector(sel string) bool {
	switch sel {
	case SelPercentile, SelAvg, SelMin, SelMax, SelMed:
		return true
	}
	return false
}

// supports reports whether sel can be applied to a metric of kind.
func supports(kind metrics.Kind, sel string) bool {
	switch kind {
	case metrics.KindTrend:
		return isTrendSelector(sel) || sel == SelCount || sel == SelValue
	case metrics.KindRate:
		return sel == SelRate || sel == SelValue || sel == SelCount
	case metrics.KindCounter:
		return sel == SelCount || sel == SelValue || sel == SelSum
	}
	return false
}

// observe extracts the value a threshold compares against.
func observe(t Threshold, agg metrics.Aggregate) float64 {
	switch t.Selector {
	case SelPercentile:
		return agg.Percentile(t.Percent)
	case SelAvg:
		return agg.Avg()
	case SelMin:
		return agg.Min
	case SelMax:
		return agg.Max
	case SelMed:
		return agg.Med()
	case SelRate:
		return agg.Rate()
	case SelSum:
		return agg.Sum
	case SelCount:
		// A counter's count is its running total.
		if agg.Kind == metrics.KindCounter {
			return agg.Sum
		}
		return float64(agg.Count)
	default:
		return agg.Value()
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	case "!=":
		return math.Abs(actual-expected) >= epsilon
	default:
		return false
	}
}
