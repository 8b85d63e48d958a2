package engine_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/stagefire/internal/check"
	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/engine"
	"github.com/torosent/stagefire/internal/httpclient"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/runner"
	"github.com/torosent/stagefire/internal/scenario"
	"github.com/torosent/stagefire/internal/threshold"
)

func specs(exprs ...string) []config.ThresholdSpec {
	out := make([]config.ThresholdSpec, len(exprs))
	for i, e := range exprs {
		out[i] = config.ThresholdSpec{Expression: e}
	}
	return out
}

func healthScenario(url string) scenario.Scenario {
	return scenario.Scenario{Name: "health", Steps: []scenario.Step{
		&scenario.RequestStep{Name: "health", URL: url},
		&scenario.CheckStep{Predicates: []scenario.Predicate{
			scenario.StatusIs("", 200),
			scenario.JSONPathTrue("", "success"),
		}},
		&scenario.WaitStep{Min: time.Millisecond},
	}}
}

func shortStages() []runner.Stage {
	return []runner.Stage{
		{Duration: 50 * time.Millisecond, Target: 5},
		{Duration: 50 * time.Millisecond, Target: 0},
	}
}

// TestTenVUsFiveIterationsAllOK drives the executor directly so the
// iteration count is exact.
func TestTenVUsFiveIterationsAllOK(t *testing.T) {
	store := metrics.NewStore()
	store.DeclareBuiltins()
	tr := scenario.TransportFunc(func(ctx context.Context, req scenario.Request) (scenario.Response, error) {
		return scenario.Response{Status: 200, Body: []byte(`{"success":true}`), Duration: time.Millisecond}, nil
	})
	exec, err := scenario.NewExecutor(healthScenario("http://poker.test/health"), scenario.Options{
		Transport: tr,
		Metrics:   store,
		Checks:    check.NewReporter(store),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for vu := uint64(1); vu <= 10; vu++ {
		wg.Add(1)
		go func(vu uint64) {
			defer wg.Done()
			for n := int64(0); n < 5; n++ {
				assert.NoError(t, exec.Iterate(context.Background(), vu, n))
			}
		}(vu)
	}
	wg.Wait()

	errs, ok := store.Snapshot(metrics.Errors)
	require.True(t, ok)
	assert.Equal(t, int64(50), errs.Count)
	assert.Equal(t, 0.0, errs.Rate())

	ths, err := threshold.ParseSet(map[string][]string{metrics.Errors: {"rate<0.1"}})
	require.NoError(t, err)
	report, err := threshold.Evaluate(ths, store)
	require.NoError(t, err)
	assert.True(t, report.Passed)
}

func TestRunPassesAgainstHealthyService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	var startedWith string
	e := engine.New(engine.Options{
		Stages:          shortStages(),
		Scenario:        healthScenario(srv.URL + "/health"),
		Transport:       httpclient.NewClient(httpclient.Options{Timeout: time.Second}),
		ControlInterval: 5 * time.Millisecond,
		GracefulStop:    time.Second,
		Thresholds: map[string][]config.ThresholdSpec{
			metrics.Errors:          specs("rate<0.1"),
			metrics.HTTPReqDuration: specs("p(95)<500"),
		},
		OnStart: func(runID string, store *metrics.Store) { startedWith = runID },
	})

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Passed)
	assert.False(t, report.Aborted)
	assert.Len(t, report.RunID, 26)
	assert.Equal(t, report.RunID, startedWith)
	assert.Equal(t, "health", report.Scenario)
	assert.Positive(t, report.Scheduler.Iterations)
	assert.Contains(t, report.Metrics, metrics.HTTPReqs)
	require.Len(t, report.Checks, 2)
	assert.Zero(t, report.Checks[0].Fails)
	assert.Len(t, report.Thresholds.Results, 2)

	_, err = e.Run(context.Background())
	assert.Error(t, err, "second Run must fail")
}

func TestRunFailsWithAlternatingTransportErrors(t *testing.T) {
	var calls atomic.Int64
	tr := scenario.TransportFunc(func(ctx context.Context, req scenario.Request) (scenario.Response, error) {
		if calls.Add(1)%2 == 0 {
			return scenario.Response{}, scenario.NewTransportError(req.Method, req.URL, errors.New("connection reset"))
		}
		return scenario.Response{Status: 200, Body: []byte(`{"success":true}`)}, nil
	})

	report, err := engine.New(engine.Options{
		Stages:          shortStages(),
		Scenario:        healthScenario("http://poker.test/health"),
		Transport:       tr,
		ControlInterval: 5 * time.Millisecond,
		Thresholds:      map[string][]config.ThresholdSpec{metrics.Errors: specs("rate<0.1")},
	}).Run(context.Background())
	require.NoError(t, err)

	errs := report.Metrics[metrics.Errors]
	require.GreaterOrEqual(t, errs.Count, int64(20), "too few iterations to judge the rate")
	assert.InDelta(t, 0.5, errs.Rate(), 0.1)
	assert.False(t, report.Passed)
	require.Len(t, report.Thresholds.Failed(), 1)
	assert.Equal(t, "rate<0.1", report.Thresholds.Failed()[0].Expression())
}

func TestRunRejectsUnknownMetricBeforeStarting(t *testing.T) {
	var calls atomic.Int64
	tr := scenario.TransportFunc(func(ctx context.Context, req scenario.Request) (scenario.Response, error) {
		calls.Add(1)
		return scenario.Response{Status: 200}, nil
	})

	_, err := engine.New(engine.Options{
		Stages:     shortStages(),
		Scenario:   healthScenario("http://poker.test/health"),
		Transport:  tr,
		Thresholds: map[string][]config.ThresholdSpec{"hands_dealt": specs("count>0")},
	}).Run(context.Background())

	require.ErrorIs(t, err, threshold.ErrUnknownMetric)
	assert.Zero(t, calls.Load())
}

func TestRunRejectsBadConfiguration(t *testing.T) {
	tr := scenario.TransportFunc(func(ctx context.Context, req scenario.Request) (scenario.Response, error) {
		return scenario.Response{Status: 200}, nil
	})
	tests := []struct {
		name string
		opt  engine.Options
	}{
		{"no stages", engine.Options{Transport: tr}},
		{"negative target", engine.Options{Transport: tr, Stages: []runner.Stage{{Duration: time.Second, Target: -1}}}},
		{"bad threshold", engine.Options{Transport: tr, Stages: shortStages(),
			Thresholds: map[string][]config.ThresholdSpec{metrics.Errors: specs("rate <<< 1")}}},
		{"selector on wrong kind", engine.Options{Transport: tr, Stages: shortStages(),
			Thresholds: map[string][]config.ThresholdSpec{metrics.Errors: specs("p(95)<1")}}},
		{"no transport", engine.Options{Stages: shortStages()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.New(tt.opt).Run(context.Background())
			var cfgErr *config.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestCustomMetricThresholdPassesVacuously(t *testing.T) {
	tr := scenario.TransportFunc(func(ctx context.Context, req scenario.Request) (scenario.Response, error) {
		return scenario.Response{Status: 200, Body: []byte(`{"success":true}`)}, nil
	})
	report, err := engine.New(engine.Options{
		Stages:          shortStages(),
		Scenario:        healthScenario("http://poker.test/health"),
		Transport:       tr,
		ControlInterval: 5 * time.Millisecond,
		Metrics:         []engine.MetricDecl{{Name: "royal_flushes", Kind: metrics.KindCounter}},
		Thresholds:      map[string][]config.ThresholdSpec{"royal_flushes": specs("count>0")},
	}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Thresholds.Results["royal_flushes"], 1)
	res := report.Thresholds.Results["royal_flushes"][0]
	assert.True(t, res.NoData)
	assert.True(t, report.Passed)
}

func TestContinuousModeAbortsOnBreach(t *testing.T) {
	tr := scenario.TransportFunc(func(ctx context.Context, req scenario.Request) (scenario.Response, error) {
		return scenario.Response{}, scenario.NewTransportError(req.Method, req.URL, errors.New("connection refused"))
	})

	start := time.Now()
	report, err := engine.New(engine.Options{
		Stages:            []runner.Stage{{Duration: 10 * time.Millisecond, Target: 2}, {Duration: time.Hour, Target: 2}},
		Scenario:          healthScenario("http://poker.test/health"),
		Transport:         tr,
		ControlInterval:   5 * time.Millisecond,
		ThresholdMode:     config.ThresholdModeContinuous,
		ThresholdInterval: 10 * time.Millisecond,
		Thresholds: map[string][]config.ThresholdSpec{
			metrics.Errors: {{Expression: "rate<0.1", AbortOnFail: true}},
		},
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 30*time.Second)
	assert.True(t, report.Aborted)
	assert.Contains(t, report.AbortReason, "rate<0.1")
	assert.False(t, report.Passed)
	assert.True(t, report.Scheduler.Stopped)
}

func TestEndModeDoesNotAbort(t *testing.T) {
	tr := scenario.TransportFunc(func(ctx context.Context, req scenario.Request) (scenario.Response, error) {
		return scenario.Response{}, scenario.NewTransportError(req.Method, req.URL, errors.New("connection refused"))
	})
	report, err := engine.New(engine.Options{
		Stages:          shortStages(),
		Scenario:        healthScenario("http://poker.test/health"),
		Transport:       tr,
		ControlInterval: 5 * time.Millisecond,
		Thresholds: map[string][]config.ThresholdSpec{
			metrics.Errors: {{Expression: "rate<0.1", AbortOnFail: true}},
		},
	}).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Aborted)
	assert.False(t, report.Scheduler.Stopped)
	assert.False(t, report.Passed)
}
