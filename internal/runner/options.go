package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/stagefire/internal/config"
)

const DefaultControlInterval = time.Second

// IterationFunc runs one iteration for a VU; n counts that VU's iterations
// from zero. A returned error is logged and never stops the VU.
type IterationFunc func(ctx context.Context, vuID uint64, n int64) error

// Options configure the Scheduler.
type Options struct {
	Stages          []Stage
	Iteration       IterationFunc
	MaxVUs          int                 // cap on live VUs; 0 means the highest stage target
	ControlInterval time.Duration       // reconcile period
	GracefulStop    time.Duration       // hard-stop window after the stop signal; 0 disables it
	IterationRate   float64             // iteration starts per second across all VUs; 0 means unpaced
	ArrivalModel    config.ArrivalModel // pacing distribution when IterationRate > 0
	RandomSeed      int64
	PoissonSampler  func() float64                  // optional injection for tests
	LimiterFactory  func(rps float64) *rate.Limiter // optional injection for tests
	Logger          *zap.Logger
	// OnVUChange is called from the control loop whenever the number of
	// active VUs changes.
	OnVUChange func(active int)
}

func (o *Options) normalize() {
	if o.ControlInterval <= 0 {
		o.ControlInterval = DefaultControlInterval
	}
	if o.GracefulStop < 0 {
		o.GracefulStop = 0
	}
	if o.MaxVUs <= 0 {
		o.MaxVUs = compileStagePlan(o.Stages).peak
	}
	if o.IterationRate < 0 {
		o.IterationRate = 0
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = config.ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps float64) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			return rate.NewLimiter(rate.Limit(rps), burstFor(rps))
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
