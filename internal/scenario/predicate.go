package scenario

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/stagefire/internal/extractor"
)

// Predicate is one named assertion evaluated against a response. resp is
// nil when the request it would check produced no response.
type Predicate interface {
	Name() string
	Eval(resp *Response) bool
}

type predicateFunc struct {
	name string
	fn   func(resp *Response) bool
}

func (p predicateFunc) Name() string { return p.name }

func (p predicateFunc) Eval(resp *Response) bool {
	if resp == nil {
		return false
	}
	return p.fn(resp)
}

// PredicateFunc builds a Predicate from fn. fn is never called with nil.
func PredicateFunc(name string, fn func(resp *Response) bool) Predicate {
	return predicateFunc{name: name, fn: fn}
}

func orDefault(name, def string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return def
}

func StatusIs(name string, code int) Predicate {
	return PredicateFunc(orDefault(name, fmt.Sprintf("status is %d", code)), func(resp *Response) bool {
		return resp.Status == code
	})
}

func StatusIn(name string, codes ...int) Predicate {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(c)
	}
	def := "status in [" + strings.Join(parts, ",") + "]"
	return PredicateFunc(orDefault(name, def), func(resp *Response) bool {
		for _, c := range codes {
			if resp.Status == c {
				return true
			}
		}
		return false
	})
}

func BodyContains(name, substr string) Predicate {
	return PredicateFunc(orDefault(name, fmt.Sprintf("body contains %q", substr)), func(resp *Response) bool {
		return strings.Contains(string(resp.Body), substr)
	})
}

// JSONPathTrue passes when the value at path is the JSON literal true.
func JSONPathTrue(name, path string) Predicate {
	return PredicateFunc(orDefault(name, path+" is true"), func(resp *Response) bool {
		return extractor.IsTrue(resp.Body, path)
	})
}

// JSONPathExists passes when path resolves to any value, null included.
func JSONPathExists(name, path string) Predicate {
	return PredicateFunc(orDefault(name, path+" exists"), func(resp *Response) bool {
		return extractor.Exists(resp.Body, path)
	})
}

func LatencyBelow(name string, limit time.Duration) Predicate {
	return PredicateFunc(orDefault(name, "latency below "+limit.String()), func(resp *Response) bool {
		return resp.Duration < limit
	})
}
