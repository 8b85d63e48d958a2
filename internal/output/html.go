package output

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

type htmlMetricRow struct {
	Name  string
	Kind  string
	Value string
}

type htmlThresholdRow struct {
	Metric     string
	Expression string
	Passed     bool
	Observed   string
}

// htmlData contains all data needed for the HTML summary template.
type htmlData struct {
	GeneratedAt string
	Summary     Summary
	Metrics     []htmlMetricRow
	Thresholds  []htmlThresholdRow
}

// WriteHTMLSummary renders a standalone HTML page for s.
func WriteHTMLSummary(w io.Writer, s Summary) error {
	data := htmlData{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Summary:     s,
	}
	for _, name := range sortedKeys(s.Metrics) {
		m := s.Metrics[name]
		data.Metrics = append(data.Metrics, htmlMetricRow{Name: name, Kind: m.Kind, Value: formatMetric(name, m)})
	}
	for _, metric := range sortedKeys(s.Thresholds) {
		for _, th := range s.Thresholds[metric] {
			observed := trimFloat(th.Observed)
			if th.NoData {
				observed = "no data"
			}
			data.Thresholds = append(data.Thresholds, htmlThresholdRow{
				Metric:     metric,
				Expression: th.Expression,
				Passed:     th.Passed,
				Observed:   observed,
			})
		}
	}
	if err := htmlTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render html summary: %w", err)
	}
	return nil
}

var htmlTemplate = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>stagefire run {{.Summary.RunID}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; margin-bottom: 2rem; }
th, td { border: 1px solid #ddd; padding: 0.4rem 0.8rem; text-align: left; }
th { background: #f4f4f4; }
.pass { color: #1a7f37; }
.fail { color: #cf222e; }
</style>
</head>
<body>
<h1>{{if .Summary.Scenario}}{{.Summary.Scenario}}{{else}}Load test{{end}}:
{{if .Summary.Aborted}}<span class="fail">ABORTED</span>{{else if .Summary.Passed}}<span class="pass">PASSED</span>{{else}}<span class="fail">FAILED</span>{{end}}</h1>
<p>Run {{.Summary.RunID}}, {{.Summary.Duration}}, {{.Summary.Iterations}} iterations, {{.Summary.PeakVUs}} peak VUs. Generated {{.GeneratedAt}}.</p>
{{if .Summary.AbortReason}}<p class="fail">{{.Summary.AbortReason}}</p>{{end}}
{{if .Thresholds}}
<h2>Thresholds</h2>
<table>
<tr><th>Metric</th><th>Threshold</th><th>Observed</th><th>Result</th></tr>
{{range .Thresholds}}<tr><td>{{.Metric}}</td><td>{{.Expression}}</td><td>{{.Observed}}</td><td>{{if .Passed}}<span class="pass">pass</span>{{else}}<span class="fail">fail</span>{{end}}</td></tr>
{{end}}</table>
{{end}}
{{if .Summary.Checks}}
<h2>Checks</h2>
<table>
<tr><th>Check</th><th>Passes</th><th>Fails</th></tr>
{{range .Summary.Checks}}<tr><td>{{.Name}}</td><td>{{.Passes}}</td><td{{if .Fails}} class="fail"{{end}}>{{.Fails}}</td></tr>
{{end}}</table>
{{end}}
<h2>Metrics</h2>
<table>
<tr><th>Metric</th><th>Kind</th><th>Value</th></tr>
{{range .Metrics}}<tr><td>{{.Name}}</td><td>{{.Kind}}</td><td>{{.Value}}</td></tr>
{{end}}</table>
</body>
</html>
`))
