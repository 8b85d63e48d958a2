package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
)

// Source is the read side of the metric store the progress line uses.
type Source interface {
	Snapshot(name string) (metrics.Aggregate, bool)
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   Source
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	vus      atomic.Int64
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source Source, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// SetVUs records the current active VU count. It matches the scheduler's
// OnVUChange callback.
func (p *ProgressReporter) SetVUs(n int) {
	p.vus.Store(int64(n))
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+p.Line())
		case <-p.done:
			return
		}
	}
}

// Line renders the current progress.
func (p *ProgressReporter) Line() string {
	elapsed := time.Since(p.start).Round(time.Second)
	iters, _ := p.source.Snapshot(metrics.Iterations)
	reqs, _ := p.source.Snapshot(metrics.HTTPReqs)
	failed, _ := p.source.Snapshot(metrics.HTTPReqFailed)
	errs, _ := p.source.Snapshot(metrics.Errors)
	dur, _ := p.source.Snapshot(metrics.HTTPReqDuration)

	rps := 0.0
	if secs := time.Since(p.start).Seconds(); secs > 0 {
		rps = reqs.Sum / secs
	}
	line := fmt.Sprintf("%s | VUs: %d | Iterations: %.0f | Requests: %.0f | RPS: %.1f | Failed: %.2f%% | Errors: %.2f%%",
		elapsed, p.vus.Load(), iters.Sum, reqs.Sum, rps, failed.Rate()*100, errs.Rate()*100)
	if !dur.Empty() {
		line += fmt.Sprintf(" | P95: %.1fms", dur.Percentile(95))
	}
	return line
}
