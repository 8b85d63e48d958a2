package threshold

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor evaluates thresholds periodically while a run is in progress.
// When a breached threshold is marked AbortOnFail, the abort callback fires
// once with that result.
type Monitor struct {
	thresholds []Threshold
	src        Snapshotter
	interval   time.Duration
	onAbort    func(Result)
	logger     *zap.Logger

	abortOnce sync.Once
	mu        sync.Mutex
	last      Report
	evaluated bool
}

func NewMonitor(thresholds []Threshold, src Snapshotter, interval time.Duration, onAbort func(Result), logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		thresholds: thresholds,
		src:        src,
		interval:   interval,
		onAbort:    onAbort,
		logger:     logger,
	}
}

// Run evaluates on every interval tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick performs one evaluation.
func (m *Monitor) Tick() {
	report, err := Evaluate(m.thresholds, m.src)
	if err != nil {
		m.logger.Error("threshold evaluation failed", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.last = report
	m.evaluated = true
	m.mu.Unlock()

	for _, res := range report.Failed() {
		m.logger.Debug("threshold breached",
			zap.String("metric", res.Threshold.Metric),
			zap.String("threshold", res.Threshold.Raw),
			zap.Float64("observed", res.Observed))
		if res.Threshold.AbortOnFail && m.onAbort != nil {
			m.abortOnce.Do(func() { m.onAbort(res) })
		}
	}
}

// Last returns the most recent report, if any evaluation has completed.
func (m *Monitor) Last() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.evaluated
}
