// Package extractor pulls values out of response bodies by JSON path or
// regular expression.
package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Rule names a variable and where its value comes from. Exactly one of
// JSONPath and Regex is set.
type Rule struct {
	Variable string
	JSONPath string
	Regex    string
}

// Extractor is a validated Rule with its pattern compiled.
type Extractor struct {
	Rule
	re *regexp.Regexp
}

// Compile validates rules up front so a bad pattern fails the run before it
// starts rather than on every response.
func Compile(rules []Rule) ([]Extractor, error) {
	out := make([]Extractor, 0, len(rules))
	for idx, r := range rules {
		if strings.TrimSpace(r.Variable) == "" {
			return nil, fmt.Errorf("extractor %d: variable name is required", idx)
		}
		if (r.JSONPath == "") == (r.Regex == "") {
			return nil, fmt.Errorf("extractor %q: exactly one of json path or regex is required", r.Variable)
		}
		ex := Extractor{Rule: r}
		if r.Regex != "" {
			re, err := regexp.Compile(r.Regex)
			if err != nil {
				return nil, fmt.Errorf("extractor %q: %w", r.Variable, err)
			}
			ex.re = re
		}
		out = append(out, ex)
	}
	return out, nil
}

// Extract returns the value for this rule, or false if nothing matched.
func (e Extractor) Extract(body []byte) (string, bool) {
	if e.re != nil {
		return findRegex(body, e.re)
	}
	res := Lookup(body, e.JSONPath)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// ExtractAll applies every extractor to body and returns the values that
// matched. Misses are logged at debug level and skipped.
func ExtractAll(body []byte, extractors []Extractor, logger *zap.Logger) map[string]string {
	result := make(map[string]string, len(extractors))
	for _, ex := range extractors {
		value, ok := ex.Extract(body)
		if !ok {
			if logger != nil {
				logger.Debug("extractor found no match",
					zap.String("var", ex.Variable),
					zap.String("json", ex.JSONPath),
					zap.String("regex", ex.Regex))
			}
			continue
		}
		result[ex.Variable] = value
	}
	return result
}
