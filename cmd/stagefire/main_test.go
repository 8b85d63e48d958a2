package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/torosent/stagefire/internal/check"
	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/engine"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/output"
)

const smokeScenario = `
scenario:
  name: smoke
  steps:
    - request:
        name: evaluate
        method: POST
        path: /api/evaluate
        headers:
          Content-Type: application/json
        body: '{"holeCards":["HA","HK"]}'
    - check:
        checks:
          - name: evaluate status is 200
            status: 200
          - name: evaluate returns success
            json_true: success
`

func pokerServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/api/evaluate" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success":true,"handRank":"ROYAL_FLUSH"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stagefire.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fastArgs(configPath, baseURL string, extra ...string) []string {
	args := []string{
		"--config", configPath,
		"--base-url", baseURL,
		"--stage", "100ms:3",
		"--stage", "200ms:3",
		"--stage", "100ms:0",
		"--control-interval", "20ms",
		"--graceful-stop", "1s",
		"--json-output",
		"--log-level", "warn",
	}
	return append(args, extra...)
}

func TestRunPassesAgainstHealthyService(t *testing.T) {
	srv, hits := pokerServer(t, http.StatusOK)
	cfgPath := writeConfig(t, smokeScenario)

	var stdout, stderr bytes.Buffer
	code := run(fastArgs(cfgPath, srv.URL, "--threshold", "errors:rate<0.1"), &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr:\n%s", code, stderr.String())
	}
	if hits.Load() == 0 {
		t.Fatal("no requests reached the server")
	}

	var summary output.Summary
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		t.Fatalf("stdout is not a JSON summary: %v\n%s", err, stdout.String())
	}
	if !summary.Passed || summary.Scenario != "smoke" || summary.Iterations == 0 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.PeakVUs != 3 {
		t.Errorf("peak VUs = %d, want 3", summary.PeakVUs)
	}
	if e := summary.Metrics[metrics.Errors]; e.Rate == nil || *e.Rate != 0 {
		t.Errorf("errors = %+v", e)
	}
	for _, c := range summary.Checks {
		if c.Fails != 0 {
			t.Errorf("check %q failed %d times", c.Name, c.Fails)
		}
	}
}

func TestRunFailsThresholdsAgainstBrokenService(t *testing.T) {
	srv, _ := pokerServer(t, http.StatusInternalServerError)
	cfgPath := writeConfig(t, smokeScenario)
	export := filepath.Join(t.TempDir(), "summary.yaml")

	var stdout, stderr bytes.Buffer
	code := run(fastArgs(cfgPath, srv.URL, "--threshold", "errors:rate<0.1", "--summary-export", export), &stdout, &stderr)
	if code != exitThresholdsFailed {
		t.Fatalf("exit code = %d, want %d; stderr:\n%s", code, exitThresholdsFailed, stderr.String())
	}
	data, err := os.ReadFile(export)
	if err != nil {
		t.Fatalf("summary export missing: %v", err)
	}
	if !strings.Contains(string(data), "passed: false") {
		t.Errorf("summary export = %s", data)
	}
}

func TestRunAbortsOnContinuousThreshold(t *testing.T) {
	srv, _ := pokerServer(t, http.StatusInternalServerError)
	cfgPath := writeConfig(t, smokeScenario+`
threshold_mode: continuous
threshold_interval: 20ms
thresholds:
  errors:
    - threshold: rate<0.1
      abort_on_fail: true
`)

	var stdout, stderr bytes.Buffer
	args := []string{
		"--config", cfgPath,
		"--base-url", srv.URL,
		"--stage", "5s:2",
		"--control-interval", "20ms",
		"--json-output",
	}
	code := run(args, &stdout, &stderr)
	if code != exitAborted {
		t.Fatalf("exit code = %d, want %d; stderr:\n%s", code, exitAborted, stderr.String())
	}

	var summary output.Summary
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !summary.Aborted || !strings.Contains(summary.AbortReason, "rate<0.1") {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRunSendsTokenAndFeederData(t *testing.T) {
	var (
		mu      sync.Mutex
		players = map[string]int{}
		badAuth int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Player string `json:"player"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		players[body.Player]++
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			badAuth++
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "players.csv")
	if err := os.WriteFile(csvPath, []byte("player\nalice\nbob\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := writeConfig(t, `
auth:
  type: static
  static_token: s3cret
feeder:
  path: `+csvPath+`
scenario:
  name: fed
  steps:
    - request:
        name: evaluate
        method: POST
        path: /api/evaluate
        body: '{"player":"{{player}}"}'
`)

	var stdout, stderr bytes.Buffer
	if code := run(fastArgs(cfgPath, srv.URL), &stdout, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, stderr:\n%s", code, stderr.String())
	}
	mu.Lock()
	defer mu.Unlock()
	if badAuth != 0 {
		t.Errorf("%d requests without the bearer token", badAuth)
	}
	if players["alice"] == 0 || players["bob"] == 0 || len(players) != 2 {
		t.Errorf("players seen = %v, want only alice and bob", players)
	}
}

func TestRunMissingFeederFile(t *testing.T) {
	srv, hits := pokerServer(t, http.StatusOK)
	cfgPath := writeConfig(t, smokeScenario+`
feeder:
  path: `+filepath.Join(t.TempDir(), "missing.csv")+`
`)
	var stdout, stderr bytes.Buffer
	if code := run(fastArgs(cfgPath, srv.URL), &stdout, &stderr); code != exitError {
		t.Fatalf("exit code = %d, want %d", code, exitError)
	}
	if hits.Load() != 0 {
		t.Errorf("server received %d requests", hits.Load())
	}
}

func TestRunConfigErrors(t *testing.T) {
	srv, hits := pokerServer(t, http.StatusOK)
	cfgPath := writeConfig(t, smokeScenario)

	tests := []struct {
		name string
		args []string
	}{
		{"malformed stage", []string{"--config", cfgPath, "--stage", "soon"}},
		{"no stages", []string{"--config", cfgPath, "--base-url", srv.URL}},
		{"unknown threshold metric", fastArgs(cfgPath, srv.URL, "--threshold", "nope:rate<0.1")},
		{"bad threshold expression", fastArgs(cfgPath, srv.URL, "--threshold", "errors:rate<<1")},
		{"unknown flag", []string{"--no-such-flag"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != exitError {
				t.Errorf("exit code = %d, want %d", code, exitError)
			}
			if !strings.HasPrefix(stderr.String(), "Error: ") {
				t.Errorf("stderr = %q", stderr.String())
			}
		})
	}
	if hits.Load() != 0 {
		t.Errorf("server received %d requests from invalid runs", hits.Load())
	}
}

func TestRunUnknownConfigKey(t *testing.T) {
	cfgPath := writeConfig(t, "stages:\n  - duration: 1s\n    target: 1\nconcurrency: 5\n")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--config", cfgPath}, &stdout, &stderr); code != exitError {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "concurrency") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		report engine.Report
		want   int
	}{
		{"passed", engine.Report{Passed: true}, exitOK},
		{"thresholds failed", engine.Report{Passed: false}, exitThresholdsFailed},
		{"aborted", engine.Report{Aborted: true}, exitAborted},
		{"aborted wins", engine.Report{Aborted: true, Checks: []check.Tally{{Name: "x", Fails: 1}}}, exitAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(&tt.report); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMetricDecls(t *testing.T) {
	decls, err := metricDecls([]config.MetricConfig{{Name: "poker_hands", Kind: "counter"}, {Name: "win_prob", Kind: "trend"}})
	if err != nil {
		t.Fatalf("metricDecls() error = %v", err)
	}
	if len(decls) != 2 || decls[0].Kind != metrics.KindCounter || decls[1].Kind != metrics.KindTrend {
		t.Errorf("decls = %+v", decls)
	}

	_, err = metricDecls([]config.MetricConfig{{Name: "x", Kind: "gauge"}})
	var cfgErr *config.ConfigError
	if err == nil || !errors.As(err, &cfgErr) {
		t.Errorf("metricDecls(gauge) error = %v, want ConfigError", err)
	}
}

func TestToTrendMode(t *testing.T) {
	if toTrendMode(config.TrendModeHDR) != metrics.TrendHDR {
		t.Error("hdr not mapped")
	}
	if toTrendMode(config.TrendModeExact) != metrics.TrendExact || toTrendMode("") != metrics.TrendExact {
		t.Error("exact not mapped")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("warn", "json", &buf)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("log output = %q", out)
	}

	if _, err := newLogger("loud", "console", &buf); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := newLogger("info", "xml", &buf); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLiveMetricsEndpoint(t *testing.T) {
	var logs bytes.Buffer
	logger, _ := newLogger("error", "json", &logs)
	lm, err := serveMetrics("127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("serveMetrics() error = %v", err)
	}
	defer lm.close()

	rec := httptest.NewRecorder()
	lm.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status before attach = %d", rec.Code)
	}

	store := metrics.NewStore()
	_ = store.Add(metrics.HTTPReqs, 4)
	lm.attach("01TESTRUN", store)

	rec = httptest.NewRecorder()
	lm.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, `stagefire_http_reqs{run_id="01TESTRUN"} 4`) {
		t.Errorf("metrics = %d %s", rec.Code, body)
	}
}
