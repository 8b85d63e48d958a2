// Package runner schedules virtual users along a piecewise-linear stage
// plan.
//
// A [Scheduler] owns a pool of VU goroutines. Every control interval it
// computes the target concurrency from the elapsed time, spawns VUs when the
// target rises and signals the newest VUs to stop when it falls. A signalled
// VU finishes its in-flight iteration before exiting; iterations themselves
// run on a context that only the hard stop cancels:
//
//	s, err := runner.New(runner.Options{
//		Stages: []runner.Stage{
//			{Duration: 30 * time.Second, Target: 20},
//			{Duration: time.Minute, Target: 20},
//			{Duration: 10 * time.Second, Target: 0},
//		},
//		Iteration:    exec.Iterate,
//		GracefulStop: 30 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	res, err := s.Run(ctx)
//
// # Arrival Models
//
// With IterationRate set, iteration starts are paced across all VUs:
//   - [config.ArrivalModelUniform]: evenly spaced starts via a token bucket
//   - [config.ArrivalModelPoisson]: exponentially distributed gaps
package runner
