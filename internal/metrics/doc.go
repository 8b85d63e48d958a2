// Package metrics aggregates samples emitted by virtual users.
//
// A [Store] holds one aggregate per metric name. Three kinds exist:
//
//   - rate: fraction of non-zero samples (checks, errors, http_req_failed)
//   - counter: running sum (http_reqs, iterations, data_received)
//   - trend: a distribution supporting percentile queries (http_req_duration)
//
// Typical use from a VU:
//
//	store := metrics.NewStore(metrics.WithTrendMode(metrics.TrendHDR))
//	store.DeclareBuiltins()
//	store.AddTrend(metrics.HTTPReqDuration, 12.5)
//	store.AddRate(metrics.Errors, false)
//
//	agg, _ := store.Snapshot(metrics.HTTPReqDuration)
//	p95 := agg.Percentile(95)
//
// # Concurrency
//
// The name-to-aggregate map is guarded by a read-mostly lock that is only
// taken for writing when a metric is first seen. Each aggregate has its own
// mutex, so writers to different metrics never contend. Snapshots copy the
// aggregate under its lock and are never torn.
//
// # Percentiles
//
// Exact trends keep every value and use linear interpolation between the
// closest ranks (rank = p/100 × (n-1)). HDR trends keep a bounded histogram
// with three significant figures; values are recorded in microseconds of the
// millisecond input and must be non-negative.
//
// A rate with no samples reports 0. Threshold evaluation treats empty
// aggregates as passing.
package metrics
