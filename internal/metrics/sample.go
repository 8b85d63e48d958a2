package metrics

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the aggregation applied to a metric's samples.
type Kind int

const (
	KindRate Kind = iota + 1
	KindCounter
	KindTrend
)

func (k Kind) String() string {
	switch k {
	case KindRate:
		return "rate"
	case KindCounter:
		return "counter"
	case KindTrend:
		return "trend"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps "rate", "counter" or "trend" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rate":
		return KindRate, nil
	case "counter":
		return KindCounter, nil
	case "trend":
		return KindTrend, nil
	default:
		return 0, fmt.Errorf("unknown metric kind %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Sample is a single observation. It is not mutated after it is recorded.
type Sample struct {
	Metric string
	Kind   Kind
	Value  float64
	Time   time.Time
}

// Built-in metric names recorded by the scenario executor and check reporter.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	DataReceived      = "data_received"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	Checks            = "checks"
	Errors            = "errors"
)

// Builtins lists every built-in metric with its kind.
var Builtins = map[string]Kind{
	HTTPReqs:          KindCounter,
	HTTPReqDuration:   KindTrend,
	HTTPReqFailed:     KindRate,
	DataReceived:      KindCounter,
	Iterations:        KindCounter,
	IterationDuration: KindTrend,
	Checks:            KindRate,
	Errors:            KindRate,
}
