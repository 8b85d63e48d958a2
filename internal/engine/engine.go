// Package engine composes one load-test run: it validates the plan, owns
// the run's metric store, drives the scheduler with the scenario executor
// and turns the collected metrics into a verdict.
//
// An Engine holds no package-level state; several can run in one process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/check"
	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/runner"
	"github.com/torosent/stagefire/internal/scenario"
	"github.com/torosent/stagefire/internal/threshold"
)

// MetricDecl declares a custom metric before the run starts so thresholds
// can refer to it.
type MetricDecl struct {
	Name string
	Kind metrics.Kind
}

// Options configure one run.
type Options struct {
	Stages     []runner.Stage
	Thresholds map[string][]config.ThresholdSpec
	Scenario   scenario.Scenario
	Transport  scenario.Transport
	Metrics    []MetricDecl
	Vars       map[string]string
	Data       scenario.DataSource

	MaxVUs            int
	ControlInterval   time.Duration
	GracefulStop      time.Duration
	IterationRate     float64
	ArrivalModel      config.ArrivalModel
	ThresholdMode     config.ThresholdMode
	ThresholdInterval time.Duration
	TrendMode         metrics.TrendMode

	Logger *zap.Logger
	// OnStart receives the run's store once metrics are declared, before
	// any VU starts. Live exporters hook in here.
	OnStart    func(runID string, store *metrics.Store)
	OnVUChange func(active int)
}

// Report is the outcome of a run.
type Report struct {
	RunID       string                       `json:"run_id" yaml:"run_id"`
	Scenario    string                       `json:"scenario" yaml:"scenario"`
	StartedAt   time.Time                    `json:"started_at" yaml:"started_at"`
	EndedAt     time.Time                    `json:"ended_at" yaml:"ended_at"`
	Passed      bool                         `json:"passed" yaml:"passed"`
	Thresholds  threshold.Report             `json:"-" yaml:"-"`
	Checks      []check.Tally                `json:"checks" yaml:"checks"`
	Metrics     map[string]metrics.Aggregate `json:"-" yaml:"-"`
	Scheduler   runner.Result                `json:"-" yaml:"-"`
	Aborted     bool                         `json:"aborted" yaml:"aborted"`
	AbortReason string                       `json:"abort_reason,omitempty" yaml:"abort_reason,omitempty"`
}

// Engine runs one test. Run may be called once.
type Engine struct {
	opt Options

	mu        sync.Mutex
	ran       bool
	scheduler *runner.Scheduler
}

func New(opt Options) *Engine {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.ThresholdMode == "" {
		opt.ThresholdMode = config.ThresholdModeEnd
	}
	return &Engine{opt: opt}
}

// Stop ends a running test early; VUs finish their in-flight iteration.
func (e *Engine) Stop() {
	e.mu.Lock()
	s := e.scheduler
	e.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// Run executes the test. Configuration problems are returned as
// *config.ConfigError and thresholds on undeclared metrics as
// threshold.ErrUnknownMetric, both before any VU starts. A failed threshold
// is not an error: it is reported through Report.Passed.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	if e.ran {
		e.mu.Unlock()
		return nil, errors.New("engine: already ran")
	}
	e.ran = true
	e.mu.Unlock()

	opt := e.opt
	logger := opt.Logger

	if err := runner.ValidateStages(opt.Stages, opt.MaxVUs); err != nil {
		return nil, err
	}
	thresholds, err := threshold.ParseSpecs(opt.Thresholds)
	if err != nil {
		return nil, err
	}
	if opt.Transport == nil {
		return nil, config.NewConfigError("transport is required")
	}

	store := metrics.NewStore(metrics.WithTrendMode(opt.TrendMode))
	store.DeclareBuiltins()
	for _, m := range opt.Metrics {
		if err := store.Declare(m.Name, m.Kind); err != nil {
			return nil, config.NewConfigError(fmt.Sprintf("metrics: %v", err))
		}
	}
	if err := threshold.Check(thresholds, store); err != nil {
		return nil, err
	}

	reporter := check.NewReporter(store)
	exec, err := scenario.NewExecutor(opt.Scenario, scenario.Options{
		Transport: opt.Transport,
		Metrics:   store,
		Checks:    reporter,
		Logger:    logger.Named("scenario"),
		Vars:      opt.Vars,
		Data:      opt.Data,
	})
	if err != nil {
		return nil, err
	}

	sched, err := runner.New(runner.Options{
		Stages:          opt.Stages,
		Iteration:       exec.Iterate,
		MaxVUs:          opt.MaxVUs,
		ControlInterval: opt.ControlInterval,
		GracefulStop:    opt.GracefulStop,
		IterationRate:   opt.IterationRate,
		ArrivalModel:    opt.ArrivalModel,
		Logger:          logger.Named("runner"),
		OnVUChange:      opt.OnVUChange,
	})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.scheduler = sched
	e.mu.Unlock()

	report := &Report{
		RunID:    ulid.Make().String(),
		Scenario: opt.Scenario.Name,
	}
	if opt.OnStart != nil {
		opt.OnStart(report.RunID, store)
	}

	var (
		abortMu     sync.Mutex
		abortReason string
	)
	monitorDone := make(chan struct{})
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	if opt.ThresholdMode == config.ThresholdModeContinuous && len(thresholds) > 0 {
		monitor := threshold.NewMonitor(thresholds, store, opt.ThresholdInterval, func(res threshold.Result) {
			abortMu.Lock()
			abortReason = fmt.Sprintf("threshold %s %q crossed (observed %g)", res.Threshold.Metric, res.Expression(), res.Observed)
			abortMu.Unlock()
			logger.Warn("aborting run", zap.String("reason", abortReason))
			sched.Stop()
		}, logger.Named("threshold"))
		go func() {
			defer close(monitorDone)
			monitor.Run(monitorCtx)
		}()
	} else {
		close(monitorDone)
	}

	logger.Info("run starting",
		zap.String("run_id", report.RunID),
		zap.String("scenario", opt.Scenario.Name),
		zap.Int("stages", len(opt.Stages)),
		zap.Int("thresholds", len(thresholds)),
		zap.String("threshold_mode", string(opt.ThresholdMode)))

	report.StartedAt = time.Now()
	res, err := sched.Run(ctx)
	report.EndedAt = time.Now()
	stopMonitor()
	<-monitorDone
	if err != nil {
		return nil, err
	}

	verdict, err := threshold.Evaluate(thresholds, store)
	if err != nil {
		return nil, err
	}

	abortMu.Lock()
	report.AbortReason = abortReason
	abortMu.Unlock()
	report.Aborted = report.AbortReason != ""
	report.Scheduler = res
	report.Thresholds = verdict
	report.Passed = verdict.Passed && !report.Aborted
	report.Checks = reporter.Summary()
	report.Metrics = store.SnapshotAll()

	logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.Bool("passed", report.Passed),
		zap.Bool("aborted", report.Aborted),
		zap.Int64("iterations", res.Iterations),
		zap.Duration("duration", res.Duration))
	return report, nil
}
