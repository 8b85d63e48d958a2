package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Result captures execution summary.
type Result struct {
	Iterations int64
	VUsStarted int
	PeakVUs    int
	Duration   time.Duration
	// Stopped is set when the run ended before the last stage did.
	Stopped bool
	// HardStopped is set when in-flight iterations were cancelled because
	// draining exceeded the graceful stop window.
	HardStopped bool
}

// Scheduler ramps VUs along the stage plan.
type Scheduler struct {
	opt     Options
	plan    *stagePlan
	arrival arrivalController

	stopOnce sync.Once
	stopCh   chan struct{}
	ran      atomic.Bool
}

// New validates opt and returns a scheduler ready to Run once.
func New(opt Options) (*Scheduler, error) {
	opt.normalize()
	if opt.Iteration == nil {
		return nil, errors.New("runner: iteration function is required")
	}
	if err := ValidateStages(opt.Stages, opt.MaxVUs); err != nil {
		return nil, err
	}
	return &Scheduler{
		opt:     opt,
		plan:    compileStagePlan(opt.Stages),
		arrival: newArrivalController(opt),
		stopCh:  make(chan struct{}),
	}, nil
}

// Stop ends the run early. VUs finish their in-flight iteration.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run drives the stage plan until it ends, Stop is called or ctx is done,
// then waits for every VU to exit.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return Result{}, errors.New("runner: scheduler already ran")
	}
	start := time.Now()
	logger := s.opt.Logger

	stopCtx, signalAll := context.WithCancel(context.Background())
	defer signalAll()
	iterCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()

	pool := newVUPool(stopCtx, iterCtx, s.opt, s.arrival)

	total := s.plan.totalDuration()
	end := time.NewTimer(total)
	defer end.Stop()
	ticker := time.NewTicker(s.opt.ControlInterval)
	defer ticker.Stop()

	active := -1
	reconcile := func() {
		desired := s.plan.desired(time.Since(start), s.opt.MaxVUs)
		now := pool.scale(desired)
		if now != active {
			logger.Debug("vus changed", zap.Int("active", now), zap.Int("desired", desired))
			active = now
			if s.opt.OnVUChange != nil {
				s.opt.OnVUChange(now)
			}
		}
	}

	var stopped bool
	reconcile()
loop:
	for {
		select {
		case <-ctx.Done():
			stopped = true
			break loop
		case <-s.stopCh:
			stopped = true
			break loop
		case <-end.C:
			break loop
		case <-ticker.C:
			reconcile()
		}
	}

	pool.stopAll()
	signalAll()
	if s.opt.OnVUChange != nil && active != 0 {
		s.opt.OnVUChange(0)
	}

	hardStopped := s.drain(pool, hardStop)

	started, peak, iterations := pool.stats()
	res := Result{
		Iterations:  iterations,
		VUsStarted:  started,
		PeakVUs:     peak,
		Duration:    time.Since(start),
		Stopped:     stopped,
		HardStopped: hardStopped,
	}
	logger.Info("scheduler finished",
		zap.Int64("iterations", res.Iterations),
		zap.Int("vus_started", res.VUsStarted),
		zap.Int("peak_vus", res.PeakVUs),
		zap.Duration("duration", res.Duration),
		zap.Bool("stopped", res.Stopped))
	return res, nil
}

// drain waits for every VU to exit, cancelling in-flight iterations once
// the graceful stop window has passed. It reports whether it had to.
func (s *Scheduler) drain(pool *vuPool, hardStop context.CancelFunc) bool {
	done := make(chan struct{})
	go func() {
		pool.wait()
		close(done)
	}()

	if s.opt.GracefulStop <= 0 {
		<-done
		return false
	}
	timer := time.NewTimer(s.opt.GracefulStop)
	defer timer.Stop()
	select {
	case <-done:
		return false
	case <-timer.C:
		_, live := pool.counts()
		s.opt.Logger.Warn("graceful stop expired, interrupting iterations",
			zap.Duration("graceful_stop", s.opt.GracefulStop),
			zap.Int("live_vus", live))
		hardStop()
		<-done
		return true
	}
}
