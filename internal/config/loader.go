package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BaseURLEnv names the environment variable consulted when no base URL is configured.
const BaseURLEnv = "API_URL"

// Loader handles loading configuration from files and command-line arguments.
type Loader struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

func NewLoader() *Loader {
	return &Loader{Getenv: os.Getenv}
}

// Default returns the configuration used before any file or flag is applied.
func Default() *Config {
	return &Config{
		ControlInterval:   time.Second,
		GracefulStop:      30 * time.Second,
		Timeout:           30 * time.Second,
		ThresholdMode:     ThresholdModeEnd,
		ThresholdInterval: 2 * time.Second,
		Arrival:           ArrivalConfig{Model: ArrivalModelUniform},
		TrendMode:         TrendModeExact,
		Transport:         TransportNetHTTP,
		LogLevel:          "info",
		LogFormat:         "console",
		Thresholds:        map[string][]ThresholdSpec{},
		Tracing: TracingConfig{
			Protocol:    "grpc",
			SampleRate:  1.0,
			ServiceName: "stagefire",
		},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
// Flags override file settings. Unknown file keys are rejected with a *ConfigError.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	applyAuthEnv(&cfg.Auth, getenv)

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = strings.TrimRight(strings.TrimSpace(getenv(BaseURLEnv)), "/")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	return cfg, nil
}

var topLevelKeys = []string{
	"base_url", "stages", "thresholds", "max_vus", "control_interval", "graceful_stop",
	"timeout", "retries", "threshold_mode", "threshold_interval", "iteration_rate",
	"arrival", "arrival_model", "trend_mode", "transport", "insecure", "json_output",
	"summary_export", "metrics_addr", "log_errors", "log_level", "log_format",
	"tracing", "scenario", "metrics", "auth", "feeder",
}

// Environment fallbacks for auth secrets so they need not live in config files.
const (
	AuthClientSecretEnv = "STAGEFIRE_AUTH_CLIENT_SECRET"
	AuthPasswordEnv     = "STAGEFIRE_AUTH_PASSWORD"
	AuthStaticTokenEnv  = "STAGEFIRE_AUTH_STATIC_TOKEN"
)

// normalizeKey folds camelCase, snake_case and kebab-case spellings together.
func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "_", "")
	return strings.ReplaceAll(key, "-", "")
}

// rejectUnknown reports every key in settings that is not one of allowed.
func rejectUnknown(section string, settings map[string]interface{}, allowed ...string) error {
	known := make(map[string]struct{}, len(allowed))
	for _, key := range allowed {
		known[normalizeKey(key)] = struct{}{}
	}
	var unknown []string
	for key := range settings {
		if _, ok := known[normalizeKey(key)]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	issues := make([]string, len(unknown))
	for i, key := range unknown {
		if section == "" {
			issues[i] = fmt.Sprintf("unknown key %q", key)
		} else {
			issues[i] = fmt.Sprintf("%s: unknown key %q", section, key)
		}
	}
	return &ConfigError{issues: issues}
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}
	if err := rejectUnknown("", settings, topLevelKeys...); err != nil {
		return err
	}

	if raw, ok := lookupSetting(settings, "base_url", "baseurl", "base-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
		cfg.BaseURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "stages"); ok {
		stages, err := parseStages(raw)
		if err != nil {
			return fmt.Errorf("stages: %w", err)
		}
		cfg.Stages = stages
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := parseThresholds(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	ints := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"max_vus", "maxvus", "max-vus"}, &cfg.MaxVUs},
		{[]string{"retries"}, &cfg.Retries},
		{[]string{"iteration_rate", "iterationrate", "iteration-rate"}, &cfg.IterationRate},
	}
	for _, field := range ints {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = val
		}
	}

	durations := []struct {
		keys []string
		dst  *time.Duration
	}{
		{[]string{"control_interval", "controlinterval", "control-interval"}, &cfg.ControlInterval},
		{[]string{"graceful_stop", "gracefulstop", "graceful-stop"}, &cfg.GracefulStop},
		{[]string{"timeout"}, &cfg.Timeout},
		{[]string{"threshold_interval", "thresholdinterval", "threshold-interval"}, &cfg.ThresholdInterval},
	}
	for _, field := range durations {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = val
		}
	}

	bools := []struct {
		keys []string
		dst  *bool
	}{
		{[]string{"insecure"}, &cfg.Insecure},
		{[]string{"json_output", "jsonoutput", "json-output"}, &cfg.JSONOutput},
		{[]string{"log_errors", "logerrors", "log-errors"}, &cfg.LogErrors},
	}
	for _, field := range bools {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = val
		}
	}

	strs := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"summary_export", "summaryexport", "summary-export"}, &cfg.SummaryExport},
		{[]string{"metrics_addr", "metricsaddr", "metrics-addr"}, &cfg.MetricsAddr},
		{[]string{"log_level", "loglevel", "log-level"}, &cfg.LogLevel},
		{[]string{"log_format", "logformat", "log-format"}, &cfg.LogFormat},
	}
	for _, field := range strs {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "threshold_mode", "thresholdmode", "threshold-mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("threshold_mode: %w", err)
		}
		cfg.ThresholdMode = ThresholdMode(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "trend_mode", "trendmode", "trend-mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("trend_mode: %w", err)
		}
		cfg.TrendMode = TrendMode(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "transport"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
		cfg.Transport = TransportKind(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "arrival"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival = arrival
		}
	} else if raw, ok := lookupSetting(settings, "arrival_model", "arrivalmodel", "arrival-model"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrival_model: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival = arrival
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracing(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "scenario"); ok {
		scenario, err := parseScenario(raw)
		if err != nil {
			return fmt.Errorf("scenario: %w", err)
		}
		cfg.Scenario = scenario
	}

	if raw, ok := lookupSetting(settings, "metrics"); ok {
		metrics, err := parseMetrics(raw)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		cfg.Metrics = metrics
	}

	if raw, ok := lookupSetting(settings, "auth"); ok {
		auth, err := parseAuth(raw)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		cfg.Auth = auth
	}

	if raw, ok := lookupSetting(settings, "feeder"); ok {
		feeder, err := parseFeeder(raw)
		if err != nil {
			return fmt.Errorf("feeder: %w", err)
		}
		cfg.Feeder = feeder
	}

	return nil
}

func parseStages(value interface{}) ([]Stage, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	stages := make([]Stage, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		if err := rejectUnknown(fmt.Sprintf("stages[%d]", idx), entry, "duration", "target"); err != nil {
			return nil, err
		}
		var st Stage
		if raw, ok := lookupSetting(entry, "duration"); ok {
			if st.Duration, err = asDuration(raw); err != nil {
				return nil, fmt.Errorf("index %d duration: %w", idx, err)
			}
		}
		if raw, ok := lookupSetting(entry, "target"); ok {
			if st.Target, err = asInt(raw); err != nil {
				return nil, fmt.Errorf("index %d target: %w", idx, err)
			}
		}
		stages = append(stages, st)
	}
	return stages, nil
}

// parseThresholds accepts, per metric, a single expression, a list of
// expressions, or a list of {threshold, abort_on_fail} objects.
func parseThresholds(value interface{}) (map[string][]ThresholdSpec, error) {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]ThresholdSpec, len(entry))
	for metric, raw := range entry {
		var items []interface{}
		switch v := raw.(type) {
		case string:
			items = []interface{}{v}
		case map[string]interface{}, map[interface{}]interface{}:
			items = []interface{}{v}
		default:
			if items, err = toInterfaceSlice(raw); err != nil {
				return nil, fmt.Errorf("%s: %w", metric, err)
			}
		}
		specs := make([]ThresholdSpec, 0, len(items))
		for idx, item := range items {
			spec, err := parseThresholdSpec(item)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", metric, idx, err)
			}
			specs = append(specs, spec)
		}
		out[metric] = specs
	}
	return out, nil
}

func parseThresholdSpec(value interface{}) (ThresholdSpec, error) {
	if s, ok := value.(string); ok {
		return ThresholdSpec{Expression: strings.TrimSpace(s)}, nil
	}
	entry, err := toStringKeyMap(value)
	if err != nil {
		return ThresholdSpec{}, err
	}
	if err := rejectUnknown("threshold", entry, "threshold", "abort_on_fail"); err != nil {
		return ThresholdSpec{}, err
	}
	var spec ThresholdSpec
	if raw, ok := lookupSetting(entry, "threshold"); ok {
		val, err := asString(raw)
		if err != nil {
			return ThresholdSpec{}, fmt.Errorf("threshold: %w", err)
		}
		spec.Expression = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "abort_on_fail", "abortonfail", "abort-on-fail"); ok {
		if spec.AbortOnFail, err = asBool(raw); err != nil {
			return ThresholdSpec{}, fmt.Errorf("abort_on_fail: %w", err)
		}
	}
	return spec, nil
}

func parseArrival(value interface{}) (ArrivalConfig, error) {
	if value == nil {
		return ArrivalConfig{}, nil
	}
	switch v := value.(type) {
	case string:
		model := strings.ToLower(strings.TrimSpace(v))
		return ArrivalConfig{Model: ArrivalModel(model)}, nil
	default:
		entry, err := toStringKeyMap(value)
		if err != nil {
			return ArrivalConfig{}, err
		}
		if err := rejectUnknown("arrival", entry, "model"); err != nil {
			return ArrivalConfig{}, err
		}
		raw, ok := lookupSetting(entry, "model")
		if !ok {
			return ArrivalConfig{}, fmt.Errorf("model field is required")
		}
		val, err := asString(raw)
		if err != nil {
			return ArrivalConfig{}, fmt.Errorf("model: %w", err)
		}
		return ArrivalConfig{Model: ArrivalModel(strings.ToLower(strings.TrimSpace(val)))}, nil
	}
}

func applyTracing(t *TracingConfig, value interface{}) error {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if err := rejectUnknown("tracing", entry, "endpoint", "protocol", "insecure", "sample_rate", "service_name", "propagate"); err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(entry, "insecure"); ok {
		if t.Insecure, err = asBool(raw); err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "sample_rate", "samplerate", "sample-rate"); ok {
		if t.SampleRate, err = asFloat64(raw); err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "service_name", "servicename", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &val
	}
	return nil
}

func parseMetrics(value interface{}) ([]MetricConfig, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	metrics := make([]MetricConfig, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		if err := rejectUnknown(fmt.Sprintf("metrics[%d]", idx), entry, "name", "kind"); err != nil {
			return nil, err
		}
		var m MetricConfig
		if raw, ok := lookupSetting(entry, "name"); ok {
			val, _ := asString(raw)
			m.Name = strings.TrimSpace(val)
		}
		if raw, ok := lookupSetting(entry, "kind"); ok {
			val, _ := asString(raw)
			m.Kind = strings.ToLower(strings.TrimSpace(val))
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

func parseScenario(value interface{}) (ScenarioConfig, error) {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return ScenarioConfig{}, err
	}
	if err := rejectUnknown("scenario", entry, "name", "steps"); err != nil {
		return ScenarioConfig{}, err
	}
	var sc ScenarioConfig
	if raw, ok := lookupSetting(entry, "name"); ok {
		val, _ := asString(raw)
		sc.Name = strings.TrimSpace(val)
	}
	raw, ok := lookupSetting(entry, "steps")
	if !ok {
		return sc, nil
	}
	items, err := toInterfaceSlice(raw)
	if err != nil {
		return ScenarioConfig{}, fmt.Errorf("steps: %w", err)
	}
	for idx, item := range items {
		step, err := buildStep(item)
		if err != nil {
			return ScenarioConfig{}, fmt.Errorf("steps[%d]: %w", idx, err)
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

func buildStep(value interface{}) (StepConfig, error) {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return StepConfig{}, err
	}
	if err := rejectUnknown("step", entry, "request", "check", "sleep"); err != nil {
		return StepConfig{}, err
	}
	var step StepConfig
	if raw, ok := lookupSetting(entry, "request"); ok {
		req, err := buildRequest(raw)
		if err != nil {
			return StepConfig{}, fmt.Errorf("request: %w", err)
		}
		step.Request = &req
	}
	if raw, ok := lookupSetting(entry, "check"); ok {
		chk, err := buildCheck(raw)
		if err != nil {
			return StepConfig{}, fmt.Errorf("check: %w", err)
		}
		step.Check = &chk
	}
	if raw, ok := lookupSetting(entry, "sleep"); ok {
		sl, err := buildSleep(raw)
		if err != nil {
			return StepConfig{}, fmt.Errorf("sleep: %w", err)
		}
		step.Sleep = &sl
	}
	return step, nil
}

func buildRequest(value interface{}) (RequestConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return RequestConfig{}, err
	}
	if err := rejectUnknown("request", settings, "name", "method", "path", "url", "headers", "body", "body_file", "extract"); err != nil {
		return RequestConfig{}, err
	}
	req := RequestConfig{Method: http.MethodGet}
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, _ := asString(raw)
		req.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "method"); ok {
		val, _ := asString(raw)
		if val = strings.ToUpper(strings.TrimSpace(val)); val != "" {
			req.Method = val
		}
	}
	if raw, ok := lookupSetting(settings, "path"); ok {
		val, _ := asString(raw)
		req.Path = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "url"); ok {
		val, _ := asString(raw)
		req.URL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "body"); ok {
		val, err := asString(raw)
		if err != nil {
			return RequestConfig{}, fmt.Errorf("body: %w", err)
		}
		req.Body = val
	}
	if raw, ok := lookupSetting(settings, "body_file", "bodyfile", "body-file"); ok {
		val, _ := asString(raw)
		req.BodyFile = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return RequestConfig{}, fmt.Errorf("headers: %w", err)
		}
		if len(hdrs) > 0 {
			req.Headers = make(map[string]string, len(hdrs))
			for key, val := range hdrs {
				trimmed := strings.TrimSpace(key)
				if trimmed == "" {
					return RequestConfig{}, fmt.Errorf("headers: key cannot be empty")
				}
				req.Headers[http.CanonicalHeaderKey(trimmed)] = val
			}
		}
	}
	if raw, ok := lookupSetting(settings, "extract"); ok {
		items, err := toInterfaceSlice(raw)
		if err != nil {
			return RequestConfig{}, fmt.Errorf("extract: %w", err)
		}
		for idx, item := range items {
			entry, err := toStringKeyMap(item)
			if err != nil {
				return RequestConfig{}, fmt.Errorf("extract[%d]: %w", idx, err)
			}
			if err := rejectUnknown(fmt.Sprintf("extract[%d]", idx), entry, "var", "json", "regex"); err != nil {
				return RequestConfig{}, err
			}
			var ex ExtractConfig
			if raw, ok := lookupSetting(entry, "var"); ok {
				val, _ := asString(raw)
				ex.Variable = strings.TrimSpace(val)
			}
			if raw, ok := lookupSetting(entry, "json"); ok {
				val, _ := asString(raw)
				ex.JSONPath = strings.TrimSpace(val)
			}
			if raw, ok := lookupSetting(entry, "regex"); ok {
				val, _ := asString(raw)
				ex.Regex = val
			}
			req.Extract = append(req.Extract, ex)
		}
	}
	return req, nil
}

func buildCheck(value interface{}) (CheckConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return CheckConfig{}, err
	}
	if err := rejectUnknown("check", settings, "name", "checks"); err != nil {
		return CheckConfig{}, err
	}
	var chk CheckConfig
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, _ := asString(raw)
		chk.Name = strings.TrimSpace(val)
	}
	raw, ok := lookupSetting(settings, "checks")
	if !ok {
		return chk, nil
	}
	items, err := toInterfaceSlice(raw)
	if err != nil {
		return CheckConfig{}, fmt.Errorf("checks: %w", err)
	}
	for idx, item := range items {
		p, err := buildPredicate(item)
		if err != nil {
			return CheckConfig{}, fmt.Errorf("checks[%d]: %w", idx, err)
		}
		chk.Checks = append(chk.Checks, p)
	}
	return chk, nil
}

func buildPredicate(value interface{}) (PredicateConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return PredicateConfig{}, err
	}
	if err := rejectUnknown("check", settings, "name", "status", "status_in", "body_contains", "json_true", "json_exists", "latency_below"); err != nil {
		return PredicateConfig{}, err
	}
	var p PredicateConfig
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, _ := asString(raw)
		p.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "status"); ok {
		if p.Status, err = asInt(raw); err != nil {
			return PredicateConfig{}, fmt.Errorf("status: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "status_in", "statusin", "status-in"); ok {
		items, err := toInterfaceSlice(raw)
		if err != nil {
			return PredicateConfig{}, fmt.Errorf("status_in: %w", err)
		}
		for _, item := range items {
			code, err := asInt(item)
			if err != nil {
				return PredicateConfig{}, fmt.Errorf("status_in: %w", err)
			}
			p.StatusIn = append(p.StatusIn, code)
		}
	}
	if raw, ok := lookupSetting(settings, "body_contains", "bodycontains", "body-contains"); ok {
		p.BodyContains, _ = asString(raw)
	}
	if raw, ok := lookupSetting(settings, "json_true", "jsontrue", "json-true"); ok {
		val, _ := asString(raw)
		p.JSONTrue = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "json_exists", "jsonexists", "json-exists"); ok {
		val, _ := asString(raw)
		p.JSONExists = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "latency_below", "latencybelow", "latency-below"); ok {
		if p.LatencyBelow, err = asDuration(raw); err != nil {
			return PredicateConfig{}, fmt.Errorf("latency_below: %w", err)
		}
	}
	return p, nil
}

// buildSleep accepts a plain duration or a {min, max} range.
func buildSleep(value interface{}) (SleepConfig, error) {
	switch value.(type) {
	case map[string]interface{}, map[interface{}]interface{}:
	default:
		d, err := asDuration(value)
		if err != nil {
			return SleepConfig{}, err
		}
		return SleepConfig{Min: d, Max: d}, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return SleepConfig{}, err
	}
	if err := rejectUnknown("sleep", settings, "min", "max"); err != nil {
		return SleepConfig{}, err
	}
	var sl SleepConfig
	if raw, ok := lookupSetting(settings, "min"); ok {
		if sl.Min, err = asDuration(raw); err != nil {
			return SleepConfig{}, fmt.Errorf("min: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "max"); ok {
		if sl.Max, err = asDuration(raw); err != nil {
			return SleepConfig{}, fmt.Errorf("max: %w", err)
		}
	}
	if sl.Max == 0 {
		sl.Max = sl.Min
	}
	return sl, nil
}

func parseAuth(value interface{}) (AuthConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return AuthConfig{}, err
	}
	if err := rejectUnknown("auth", settings, "type", "token_url", "client_id", "client_secret",
		"username", "password", "scopes", "static_token", "refresh_before_expiry"); err != nil {
		return AuthConfig{}, err
	}

	var auth AuthConfig
	strs := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"token_url", "tokenurl", "token-url"}, &auth.TokenURL},
		{[]string{"client_id", "clientid", "client-id"}, &auth.ClientID},
		{[]string{"client_secret", "clientsecret", "client-secret"}, &auth.ClientSecret},
		{[]string{"username"}, &auth.Username},
		{[]string{"password"}, &auth.Password},
		{[]string{"static_token", "statictoken", "static-token"}, &auth.StaticToken},
	}
	for _, field := range strs {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return AuthConfig{}, fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return AuthConfig{}, fmt.Errorf("type: %w", err)
		}
		auth.Type = AuthType(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "scopes"); ok {
		if auth.Scopes, err = asStringSlice(raw); err != nil {
			return AuthConfig{}, fmt.Errorf("scopes: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "refresh_before_expiry", "refreshbeforeexpiry", "refresh-before-expiry"); ok {
		if auth.RefreshBeforeExpiry, err = asDuration(raw); err != nil {
			return AuthConfig{}, fmt.Errorf("refresh_before_expiry: %w", err)
		}
	}
	return auth, nil
}

func applyAuthEnv(auth *AuthConfig, getenv func(string) string) {
	fallbacks := []struct {
		dst *string
		env string
	}{
		{&auth.ClientSecret, AuthClientSecretEnv},
		{&auth.Password, AuthPasswordEnv},
		{&auth.StaticToken, AuthStaticTokenEnv},
	}
	for _, fb := range fallbacks {
		if *fb.dst == "" {
			*fb.dst = strings.TrimSpace(getenv(fb.env))
		}
	}
}

func parseFeeder(value interface{}) (FeederConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return FeederConfig{}, err
	}
	if err := rejectUnknown("feeder", settings, "path", "type"); err != nil {
		return FeederConfig{}, err
	}
	var feeder FeederConfig
	if raw, ok := lookupSetting(settings, "path"); ok {
		val, err := asString(raw)
		if err != nil {
			return FeederConfig{}, fmt.Errorf("path: %w", err)
		}
		feeder.Path = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return FeederConfig{}, fmt.Errorf("type: %w", err)
		}
		feeder.Type = strings.ToLower(strings.TrimSpace(val))
	}
	return feeder, nil
}
