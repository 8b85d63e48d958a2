package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/auth"
	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/engine"
	"github.com/torosent/stagefire/internal/feeder"
	"github.com/torosent/stagefire/internal/httpclient"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/output"
	"github.com/torosent/stagefire/internal/scenario"
	"github.com/torosent/stagefire/internal/tracing"
)

// Process exit codes. Threshold failures and aborts follow the k6 values so
// CI pipelines written for it keep working.
const (
	exitOK               = 0
	exitError            = 1
	exitThresholdsFailed = 99
	exitAborted          = 108
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() { _ = logger.Sync() }()

	report, err := execute(cfg, logger, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return exitCode(report)
}

func exitCode(report *engine.Report) int {
	switch {
	case report.Aborted:
		return exitAborted
	case !report.Passed:
		return exitThresholdsFailed
	default:
		return exitOK
	}
}

func execute(cfg *config.Config, logger *zap.Logger, stdout io.Writer) (*engine.Report, error) {
	sc, err := buildScenario(cfg)
	if err != nil {
		return nil, err
	}
	decls, err := metricDecls(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	transport, err := buildTransport(ctx, cfg, provider, logger)
	if err != nil {
		return nil, err
	}

	var data scenario.DataSource
	if cfg.Feeder.Path != "" {
		f, err := feeder.Load(cfg.Feeder.Path, cfg.Feeder.Type)
		if err != nil {
			return nil, err
		}
		logger.Info("feeder loaded", zap.String("path", cfg.Feeder.Path), zap.Int("records", f.Len()))
		data = f
	}

	var live *liveMetrics
	if cfg.MetricsAddr != "" {
		live, err = serveMetrics(cfg.MetricsAddr, logger)
		if err != nil {
			return nil, err
		}
		defer live.close()
	}

	var progress *output.ProgressReporter
	eng := engine.New(engine.Options{
		Stages:            cfg.Stages,
		Thresholds:        cfg.Thresholds,
		Scenario:          sc,
		Transport:         transport,
		Metrics:           decls,
		Vars:              map[string]string{"BASE_URL": cfg.BaseURL},
		Data:              data,
		MaxVUs:            cfg.MaxVUs,
		ControlInterval:   cfg.ControlInterval,
		GracefulStop:      cfg.GracefulStop,
		IterationRate:     float64(cfg.IterationRate),
		ArrivalModel:      cfg.Arrival.Model,
		ThresholdMode:     cfg.ThresholdMode,
		ThresholdInterval: cfg.ThresholdInterval,
		TrendMode:         toTrendMode(cfg.TrendMode),
		Logger:            logger,
		OnStart: func(runID string, store *metrics.Store) {
			if live != nil {
				live.attach(runID, store)
			}
			if !cfg.JSONOutput {
				progress = output.NewProgressReporter(store, progressInterval, stdout)
				progress.Start()
			}
		},
		OnVUChange: func(active int) {
			if progress != nil {
				progress.SetVUs(active)
			}
		},
	})

	// The first signal stops VUs at their iteration boundary; a second one
	// cancels in-flight requests.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-sigs:
			logger.Info("stopping, waiting for in-flight iterations (interrupt again to cancel)")
			eng.Stop()
		case <-finished:
			return
		}
		select {
		case <-sigs:
			cancel()
		case <-finished:
		}
	}()

	report, err := eng.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return nil, err
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return nil, err
		}
	} else {
		output.PrintReport(stdout, report)
	}
	if cfg.SummaryExport != "" {
		if err := output.ExportSummary(context.Background(), cfg.SummaryExport, report); err != nil {
			return nil, err
		}
		logger.Info("summary exported", zap.String("path", cfg.SummaryExport))
	}
	return report, nil
}

func buildTransport(ctx context.Context, cfg *config.Config, provider *tracing.Provider, logger *zap.Logger) (scenario.Transport, error) {
	t, err := httpclient.New(cfg.Transport, httpclient.Options{
		Timeout:  cfg.Timeout,
		Insecure: cfg.Insecure,
	})
	if err != nil {
		return nil, err
	}
	// Each attempt gets its own span; failures are logged once per attempt.
	t = httpclient.NewTraced(t, provider)
	tokens, err := auth.FromConfig(ctx, cfg.Auth)
	if err != nil {
		return nil, err
	}
	t = auth.WithAuth(t, tokens)
	if cfg.LogErrors {
		t = scenario.WithLogging(t, scenario.NewZapFailureLogger(logger.Named("http")))
	}
	if cfg.Retries > 0 {
		t = scenario.WithRetry(t, scenario.DefaultRetryPolicy(cfg.Retries))
	}
	return t, nil
}

func metricDecls(cfgs []config.MetricConfig) ([]engine.MetricDecl, error) {
	decls := make([]engine.MetricDecl, 0, len(cfgs))
	for _, m := range cfgs {
		kind, err := metrics.ParseKind(m.Kind)
		if err != nil {
			return nil, config.NewConfigError(fmt.Sprintf("metrics %q: %v", m.Name, err))
		}
		decls = append(decls, engine.MetricDecl{Name: m.Name, Kind: kind})
	}
	return decls, nil
}

func toTrendMode(mode config.TrendMode) metrics.TrendMode {
	if mode == config.TrendModeHDR {
		return metrics.TrendHDR
	}
	return metrics.TrendExact
}

// liveMetrics serves the run's store in Prometheus format. The listener is
// bound before the run so a bad address fails fast; until the store exists
// the endpoint answers 503.
type liveMetrics struct {
	server  *http.Server
	handler atomic.Pointer[http.Handler]
	logger  *zap.Logger
}

func serveMetrics(addr string, logger *zap.Logger) (*liveMetrics, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	lm := &liveMetrics{logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		h := lm.handler.Load()
		if h == nil {
			http.Error(w, "run not started", http.StatusServiceUnavailable)
			return
		}
		(*h).ServeHTTP(w, r)
	})
	lm.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := lm.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return lm, nil
}

func (lm *liveMetrics) attach(runID string, store *metrics.Store) {
	h := metrics.NewCollector(store, "stagefire", prometheus.Labels{"run_id": runID}).Handler()
	lm.handler.Store(&h)
}

func (lm *liveMetrics) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := lm.server.Shutdown(ctx); err != nil {
		lm.logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
}
