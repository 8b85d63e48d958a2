package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/torosent/stagefire/internal/engine"
	"github.com/torosent/stagefire/internal/metrics"
)

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, report *engine.Report) {
	s := Summarize(report)

	fmt.Fprintln(w, "\n--- Load Test Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", s.RunID)
	if s.Scenario != "" {
		fmt.Fprintf(w, "Scenario:          %s\n", s.Scenario)
	}
	fmt.Fprintf(w, "Duration:          %s\n", s.Duration)
	fmt.Fprintf(w, "Iterations:        %d\n", s.Iterations)
	fmt.Fprintf(w, "VUs:               %d started, %d peak\n", s.VUsStarted, s.PeakVUs)

	if len(s.Checks) > 0 {
		fmt.Fprintln(w, "\nChecks:")
		for _, c := range s.Checks {
			mark := "✓"
			if c.Fails > 0 {
				mark = "✗"
			}
			total := c.Passes + c.Fails
			fmt.Fprintf(w, "  %s %s: %d/%d (%.2f%%)\n", mark, c.Name, c.Passes, total, percent(c.Passes, total))
		}
	}

	fmt.Fprintln(w, "\nMetrics:")
	for _, name := range sortedKeys(s.Metrics) {
		fmt.Fprintf(w, "  %-20s %s\n", name, formatMetric(name, s.Metrics[name]))
	}

	if len(s.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, metric := range sortedKeys(s.Thresholds) {
			for _, th := range s.Thresholds[metric] {
				mark := "✓"
				if !th.Passed {
					mark = "✗"
				}
				note := fmt.Sprintf("observed %s", trimFloat(th.Observed))
				if th.NoData {
					note = "no data"
				}
				fmt.Fprintf(w, "  %s %s %s (%s)\n", mark, metric, th.Expression, note)
			}
		}
	}

	switch {
	case s.Aborted:
		fmt.Fprintf(w, "\nResult: ABORTED (%s)\n", s.AbortReason)
	case s.Passed:
		fmt.Fprintln(w, "\nResult: PASSED")
	default:
		fmt.Fprintln(w, "\nResult: FAILED")
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, report *engine.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Summarize(report))
}

func formatMetric(name string, m MetricSummary) string {
	switch {
	case m.Rate != nil:
		return fmt.Sprintf("%.2f%% (%d samples)", *m.Rate*100, m.Count)
	case m.Sum != nil:
		if name == metrics.DataReceived {
			return formatBytes(*m.Sum)
		}
		return trimFloat(*m.Sum)
	case m.Avg != nil:
		parts := []string{
			"avg=" + ms(*m.Avg),
			"min=" + ms(*m.Min),
			"med=" + ms(*m.Med),
			"max=" + ms(*m.Max),
			"p(90)=" + ms(*m.P90),
			"p(95)=" + ms(*m.P95),
		}
		return strings.Join(parts, " ")
	default:
		return "no data"
	}
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func ms(v float64) string {
	return fmt.Sprintf("%.2fms", v)
}

func trimFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

func formatBytes(b float64) string {
	const unit = 1024.0
	switch {
	case b >= unit*unit:
		return fmt.Sprintf("%.1f MB", b/(unit*unit))
	case b >= unit:
		return fmt.Sprintf("%.1f kB", b/unit)
	default:
		return fmt.Sprintf("%.0f B", b)
	}
}
