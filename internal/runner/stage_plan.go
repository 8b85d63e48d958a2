package runner

import (
	"fmt"
	"math"
	"time"

	"github.com/torosent/stagefire/internal/config"
)

// Stage is one leg of the ramp: reach Target VUs linearly over Duration.
type Stage = config.Stage

type stagePlan struct {
	segments []stageSegment
	duration time.Duration
	peak     int
}

type stageSegment struct {
	start    time.Duration
	duration time.Duration
	from     float64
	to       float64
}

// compileStagePlan chains the stages into segments starting from zero VUs.
func compileStagePlan(stages []Stage) *stagePlan {
	plan := &stagePlan{}
	var (
		offset time.Duration
		from   float64
	)
	for _, st := range stages {
		if st.Duration <= 0 {
			continue
		}
		plan.segments = append(plan.segments, stageSegment{
			start:    offset,
			duration: st.Duration,
			from:     from,
			to:       float64(st.Target),
		})
		if st.Target > plan.peak {
			plan.peak = st.Target
		}
		offset += st.Duration
		from = float64(st.Target)
	}
	plan.duration = offset
	return plan
}

// at returns the target concurrency after elapsed. Past the end it holds the
// last target.
func (p *stagePlan) at(elapsed time.Duration) float64 {
	if p == nil || len(p.segments) == 0 {
		return 0
	}
	if elapsed <= 0 {
		return p.segments[0].from
	}
	for _, seg := range p.segments {
		end := seg.start + seg.duration
		if elapsed >= end {
			continue
		}
		if seg.from == seg.to {
			return seg.from
		}
		progress := float64(elapsed-seg.start) / float64(seg.duration)
		return seg.from + (seg.to-seg.from)*progress
	}
	return p.segments[len(p.segments)-1].to
}

// desired rounds the target concurrency and clamps it to [0, maxVUs].
func (p *stagePlan) desired(elapsed time.Duration, maxVUs int) int {
	n := int(math.Round(p.at(elapsed)))
	if n < 0 {
		return 0
	}
	if maxVUs > 0 && n > maxVUs {
		return maxVUs
	}
	return n
}

func (p *stagePlan) totalDuration() time.Duration {
	if p == nil {
		return 0
	}
	return p.duration
}

// ConcurrencyAt is the piecewise-linear target concurrency of stages at t.
func ConcurrencyAt(stages []Stage, t time.Duration) float64 {
	return compileStagePlan(stages).at(t)
}

// TotalDuration sums the stage durations.
func TotalDuration(stages []Stage) time.Duration {
	return compileStagePlan(stages).totalDuration()
}

// ValidateStages reports every problem with stages. maxVUs <= 0 means no
// cap.
func ValidateStages(stages []Stage, maxVUs int) error {
	if len(stages) == 0 {
		return config.NewConfigError("stages: at least one stage is required")
	}
	var issues []string
	for i, st := range stages {
		if st.Duration <= 0 {
			issues = append(issues, fmt.Sprintf("stages[%d]: duration must be positive", i))
		}
		if st.Target < 0 {
			issues = append(issues, fmt.Sprintf("stages[%d]: target must be non-negative", i))
		}
		if maxVUs > 0 && st.Target > maxVUs {
			issues = append(issues, fmt.Sprintf("stages[%d]: target %d exceeds max VUs %d", i, st.Target, maxVUs))
		}
	}
	if len(issues) > 0 {
		return config.NewConfigError(issues...)
	}
	return nil
}
