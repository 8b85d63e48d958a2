package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/extractor"
	"github.com/torosent/stagefire/internal/scenario"
)

// buildScenario turns the declarative scenario into executable steps. A
// config without steps runs the poker API scenario.
func buildScenario(cfg *config.Config) (scenario.Scenario, error) {
	sc := cfg.Scenario
	if len(sc.Steps) == 0 {
		sc = pokerScenario()
	}
	name := sc.Name
	if name == "" {
		name = "default"
	}

	steps := make([]scenario.Step, 0, len(sc.Steps))
	for idx, st := range sc.Steps {
		step, err := buildStep(cfg.BaseURL, st)
		if err != nil {
			return scenario.Scenario{}, fmt.Errorf("scenario.steps[%d]: %w", idx, err)
		}
		steps = append(steps, step)
	}
	return scenario.Scenario{Name: name, Steps: steps}, nil
}

func buildStep(baseURL string, st config.StepConfig) (scenario.Step, error) {
	switch {
	case st.Request != nil:
		return buildRequest(baseURL, *st.Request)
	case st.Check != nil:
		return buildCheck(*st.Check)
	case st.Sleep != nil:
		return &scenario.WaitStep{Min: st.Sleep.Min, Max: st.Sleep.Max}, nil
	default:
		return nil, fmt.Errorf("step has no request, check or sleep")
	}
}

func buildRequest(baseURL string, rc config.RequestConfig) (*scenario.RequestStep, error) {
	method := strings.ToUpper(strings.TrimSpace(rc.Method))
	if method == "" {
		method = http.MethodGet
	}
	target := strings.TrimSpace(rc.URL)
	if target == "" {
		target = joinURL(baseURL, rc.Path)
	}

	body := rc.Body
	if path := strings.TrimSpace(rc.BodyFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read body file: %w", err)
		}
		body = string(data)
	}

	rules := make([]extractor.Rule, len(rc.Extract))
	for i, ex := range rc.Extract {
		rules[i] = extractor.Rule{Variable: ex.Variable, JSONPath: ex.JSONPath, Regex: ex.Regex}
	}
	extractors, err := extractor.Compile(rules)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(rc.Name)
	if name == "" {
		name = method + " " + requestLabel(rc)
	}
	return &scenario.RequestStep{
		Name:       name,
		Method:     method,
		URL:        target,
		Body:       body,
		Headers:    rc.Headers,
		Extractors: extractors,
	}, nil
}

func requestLabel(rc config.RequestConfig) string {
	if rc.URL != "" {
		return rc.URL
	}
	if rc.Path == "" {
		return "/"
	}
	return rc.Path
}

func joinURL(baseURL, path string) string {
	if path == "" {
		return baseURL + "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(baseURL, "/") + path
}

func buildCheck(cc config.CheckConfig) (*scenario.CheckStep, error) {
	preds := make([]scenario.Predicate, 0, len(cc.Checks))
	for _, pc := range cc.Checks {
		p, err := buildPredicate(pc)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return &scenario.CheckStep{Name: cc.Name, Predicates: preds}, nil
}

func buildPredicate(pc config.PredicateConfig) (scenario.Predicate, error) {
	switch {
	case pc.Status != 0:
		return scenario.StatusIs(pc.Name, pc.Status), nil
	case len(pc.StatusIn) > 0:
		return scenario.StatusIn(pc.Name, pc.StatusIn...), nil
	case pc.BodyContains != "":
		return scenario.BodyContains(pc.Name, pc.BodyContains), nil
	case pc.JSONTrue != "":
		return scenario.JSONPathTrue(pc.Name, pc.JSONTrue), nil
	case pc.JSONExists != "":
		return scenario.JSONPathExists(pc.Name, pc.JSONExists), nil
	case pc.LatencyBelow > 0:
		return scenario.LatencyBelow(pc.Name, pc.LatencyBelow), nil
	default:
		return nil, fmt.Errorf("check %q has no assertion", pc.Name)
	}
}

// pokerScenario exercises the poker API: health, hand evaluation, hand
// comparison and a light win-probability simulation.
func pokerScenario() config.ScenarioConfig {
	jsonHeaders := map[string]string{"Content-Type": "application/json"}
	post := func(name, path, body string) config.StepConfig {
		return config.StepConfig{Request: &config.RequestConfig{
			Name: name, Method: http.MethodPost, Path: path, Headers: jsonHeaders, Body: body,
		}}
	}
	checks := func(preds ...config.PredicateConfig) config.StepConfig {
		return config.StepConfig{Check: &config.CheckConfig{Checks: preds}}
	}
	pause := func(d time.Duration) config.StepConfig {
		return config.StepConfig{Sleep: &config.SleepConfig{Min: d, Max: d}}
	}

	return config.ScenarioConfig{
		Name: "poker",
		Steps: []config.StepConfig{
			{Request: &config.RequestConfig{Name: "health", Method: http.MethodGet, Path: "/health"}},
			checks(config.PredicateConfig{Name: "health status is 200", Status: http.StatusOK}),
			pause(time.Second),

			post("evaluate", "/api/evaluate",
				`{"holeCards":["HA","HK"],"communityCards":["HQ","HJ","HT","D2","C3"]}`),
			checks(
				config.PredicateConfig{Name: "evaluate status is 200", Status: http.StatusOK},
				config.PredicateConfig{Name: "evaluate returns success", JSONTrue: "success"},
				config.PredicateConfig{Name: "evaluate returns hand rank", JSONExists: "handRank"},
			),
			pause(time.Second),

			post("compare", "/api/compare",
				`{"player1HoleCards":["HA","HK"],"player1CommunityCards":["HQ","HJ","HT","D2","C3"],`+
					`"player2HoleCards":["SA","SK"],"player2CommunityCards":["HQ","HJ","HT","D2","C3"]}`),
			checks(
				config.PredicateConfig{Name: "compare status is 200", Status: http.StatusOK},
				config.PredicateConfig{Name: "compare returns success", JSONTrue: "success"},
				config.PredicateConfig{Name: "compare returns winner", JSONExists: "winner"},
			),
			pause(time.Second),

			post("probability", "/api/probability",
				`{"holeCards":["HA","HK"],"communityCards":["HQ","HJ","HT"],"numPlayers":4,"simulations":100}`),
			checks(
				config.PredicateConfig{Name: "probability status is 200", Status: http.StatusOK},
				config.PredicateConfig{Name: "probability returns success", JSONTrue: "success"},
				config.PredicateConfig{Name: "probability returns win probability", JSONExists: "winProbability"},
			),
			pause(2 * time.Second),
		},
	}
}
