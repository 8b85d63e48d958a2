package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultBaseURL is used when neither the config nor API_URL names a target.
const DefaultBaseURL = "http://localhost:8080"

type Config struct {
	BaseURL           string                     `mapstructure:"base_url"`
	Stages            []Stage                    `mapstructure:"stages"`
	Thresholds        map[string][]ThresholdSpec `mapstructure:"thresholds"`
	MaxVUs            int                        `mapstructure:"max_vus"`
	ControlInterval   time.Duration              `mapstructure:"control_interval"`
	GracefulStop      time.Duration              `mapstructure:"graceful_stop"`
	Timeout           time.Duration              `mapstructure:"timeout"`
	Retries           int                        `mapstructure:"retries"`
	ThresholdMode     ThresholdMode              `mapstructure:"threshold_mode"`
	ThresholdInterval time.Duration              `mapstructure:"threshold_interval"`
	IterationRate     int                        `mapstructure:"iteration_rate"`
	Arrival           ArrivalConfig              `mapstructure:"arrival"`
	TrendMode         TrendMode                  `mapstructure:"trend_mode"`
	Transport         TransportKind              `mapstructure:"transport"`
	Insecure          bool                       `mapstructure:"insecure"`
	JSONOutput        bool                       `mapstructure:"json_output"`
	SummaryExport     string                     `mapstructure:"summary_export"`
	MetricsAddr       string                     `mapstructure:"metrics_addr"`
	LogErrors         bool                       `mapstructure:"log_errors"`
	LogLevel          string                     `mapstructure:"log_level"`
	LogFormat         string                     `mapstructure:"log_format"`
	Tracing           TracingConfig              `mapstructure:"tracing"`
	Scenario          ScenarioConfig             `mapstructure:"scenario"`
	Metrics           []MetricConfig             `mapstructure:"metrics"`
	Auth              AuthConfig                 `mapstructure:"auth"`
	Feeder            FeederConfig               `mapstructure:"feeder"`
	ConfigFile        string                     `mapstructure:"-"`
}

// Stage is one leg of the concurrency ramp.
type Stage struct {
	Duration time.Duration `mapstructure:"duration"`
	Target   int           `mapstructure:"target"`
}

// ThresholdSpec is a single pass/fail expression declared for a metric.
type ThresholdSpec struct {
	Expression  string `mapstructure:"threshold"`
	AbortOnFail bool   `mapstructure:"abort_on_fail"`
}

type ThresholdMode string

const (
	ThresholdModeEnd        ThresholdMode = "end"
	ThresholdModeContinuous ThresholdMode = "continuous"
)

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model"`
}

type TrendMode string

const (
	TrendModeExact TrendMode = "exact"
	TrendModeHDR   TrendMode = "hdr"
)

type TransportKind string

const (
	TransportNetHTTP  TransportKind = "nethttp"
	TransportFastHTTP TransportKind = "fasthttp"
)

type AuthType string

const (
	AuthTypeStatic                  AuthType = "static"
	AuthTypeOAuth2ClientCredentials AuthType = "oauth2_client_credentials"
	AuthTypeOAuth2ResourceOwner     AuthType = "oauth2_resource_owner"
)

// AuthConfig selects how the bearer token attached to every request is
// obtained. An empty Type disables authentication.
type AuthConfig struct {
	Type                AuthType      `mapstructure:"type"`
	TokenURL            string        `mapstructure:"token_url"`
	ClientID            string        `mapstructure:"client_id"`
	ClientSecret        string        `mapstructure:"client_secret"`
	Username            string        `mapstructure:"username"`
	Password            string        `mapstructure:"password"`
	Scopes              []string      `mapstructure:"scopes"`
	StaticToken         string        `mapstructure:"static_token"`
	RefreshBeforeExpiry time.Duration `mapstructure:"refresh_before_expiry"`
}

// FeederConfig names a data file whose records are handed out to
// iterations in round-robin order.
type FeederConfig struct {
	Path string `mapstructure:"path"`
	Type string `mapstructure:"type"` // csv, json or yaml; inferred from the extension when empty
}

// TracingConfig configures OpenTelemetry export of request spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether spans should be produced at all.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether W3C trace headers are injected into requests.
// Propagation defaults to on whenever tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// ScenarioConfig is the declarative form of the per-VU script.
type ScenarioConfig struct {
	Name  string       `mapstructure:"name"`
	Steps []StepConfig `mapstructure:"steps"`
}

// StepConfig holds exactly one of Request, Check or Sleep.
type StepConfig struct {
	Request *RequestConfig `mapstructure:"request"`
	Check   *CheckConfig   `mapstructure:"check"`
	Sleep   *SleepConfig   `mapstructure:"sleep"`
}

type RequestConfig struct {
	Name     string            `mapstructure:"name"`
	Method   string            `mapstructure:"method"`
	Path     string            `mapstructure:"path"`
	URL      string            `mapstructure:"url"`
	Headers  map[string]string `mapstructure:"headers"`
	Body     string            `mapstructure:"body"`
	BodyFile string            `mapstructure:"body_file"`
	Extract  []ExtractConfig   `mapstructure:"extract"`
}

type ExtractConfig struct {
	Variable string `mapstructure:"var"`
	JSONPath string `mapstructure:"json"`
	Regex    string `mapstructure:"regex"`
}

type CheckConfig struct {
	Name   string            `mapstructure:"name"`
	Checks []PredicateConfig `mapstructure:"checks"`
}

// PredicateConfig declares one named assertion; exactly one matcher is set.
type PredicateConfig struct {
	Name         string        `mapstructure:"name"`
	Status       int           `mapstructure:"status"`
	StatusIn     []int         `mapstructure:"status_in"`
	BodyContains string        `mapstructure:"body_contains"`
	JSONTrue     string        `mapstructure:"json_true"`
	JSONExists   string        `mapstructure:"json_exists"`
	LatencyBelow time.Duration `mapstructure:"latency_below"`
}

func (p PredicateConfig) matchers() int {
	n := 0
	if p.Status != 0 {
		n++
	}
	if len(p.StatusIn) > 0 {
		n++
	}
	if p.BodyContains != "" {
		n++
	}
	if p.JSONTrue != "" {
		n++
	}
	if p.JSONExists != "" {
		n++
	}
	if p.LatencyBelow > 0 {
		n++
	}
	return n
}

type SleepConfig struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// MetricConfig declares a custom metric the scenario or thresholds refer to.
type MetricConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`
}

// ConfigError aggregates every problem found in a configuration. It is fatal:
// a run never starts once one is returned.
type ConfigError struct {
	issues []string
}

// NewConfigError builds a ConfigError from one or more issue descriptions.
func NewConfigError(issues ...string) *ConfigError {
	return &ConfigError{issues: issues}
}

func (e *ConfigError) Error() string {
	if len(e.issues) == 0 {
		return "invalid configuration"
	}
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.issues, "; "))
}

func (e *ConfigError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.BaseURL) == "" {
		issues = append(issues, "base_url is required")
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, fmt.Sprintf("base_url %q is not an absolute URL", c.BaseURL))
	}

	if len(c.Stages) == 0 {
		issues = append(issues, "at least one stage is required")
	}
	for idx, st := range c.Stages {
		if st.Duration <= 0 {
			issues = append(issues, fmt.Sprintf("stages[%d]: duration must be > 0", idx))
		}
		if st.Target < 0 {
			issues = append(issues, fmt.Sprintf("stages[%d]: target must be >= 0", idx))
		}
		if c.MaxVUs > 0 && st.Target > c.MaxVUs {
			issues = append(issues, fmt.Sprintf("stages[%d]: target %d exceeds max_vus %d", idx, st.Target, c.MaxVUs))
		}
	}

	if c.MaxVUs < 0 {
		issues = append(issues, "max_vus must be >= 0")
	}
	if c.ControlInterval < 0 {
		issues = append(issues, "control_interval must be >= 0")
	}
	if c.GracefulStop < 0 {
		issues = append(issues, "graceful_stop must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if c.IterationRate < 0 {
		issues = append(issues, "iteration_rate must be >= 0")
	}
	if c.ThresholdInterval < 0 {
		issues = append(issues, "threshold_interval must be >= 0")
	}

	switch c.ThresholdMode {
	case "", ThresholdModeEnd, ThresholdModeContinuous:
	default:
		issues = append(issues, fmt.Sprintf("threshold_mode %q is not supported (use end or continuous)", c.ThresholdMode))
	}
	switch c.Arrival.Model {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("arrival model %q is not supported", c.Arrival.Model))
	}
	switch c.TrendMode {
	case "", TrendModeExact, TrendModeHDR:
	default:
		issues = append(issues, fmt.Sprintf("trend_mode %q is not supported (use exact or hdr)", c.TrendMode))
	}
	switch c.Transport {
	case "", TransportNetHTTP, TransportFastHTTP:
	default:
		issues = append(issues, fmt.Sprintf("transport %q is not supported (use nethttp or fasthttp)", c.Transport))
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log_format %q is not supported (use console or json)", c.LogFormat))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log_level %q is not supported", c.LogLevel))
	}

	for metric, specs := range c.Thresholds {
		if strings.TrimSpace(metric) == "" {
			issues = append(issues, "thresholds: metric name cannot be empty")
		}
		for idx, spec := range specs {
			if strings.TrimSpace(spec.Expression) == "" {
				issues = append(issues, fmt.Sprintf("thresholds[%s][%d]: expression is required", metric, idx))
			}
		}
	}

	issues = append(issues, validateMetrics(c.Metrics)...)
	issues = append(issues, validateScenario(c.Scenario)...)
	issues = append(issues, validateTracing(c.Tracing)...)
	issues = append(issues, validateAuth(c.Auth)...)
	issues = append(issues, validateFeeder(c.Feeder)...)

	if len(issues) > 0 {
		return &ConfigError{issues: issues}
	}
	return nil
}

func validateMetrics(metrics []MetricConfig) []string {
	var issues []string
	seen := map[string]int{}
	for idx, m := range metrics {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("metrics[%d]: name is required", idx))
			continue
		}
		if prev, ok := seen[name]; ok {
			issues = append(issues, fmt.Sprintf("metrics[%d]: duplicate name also defined at index %d", idx, prev))
		} else {
			seen[name] = idx
		}
		switch m.Kind {
		case "rate", "counter", "trend":
		default:
			issues = append(issues, fmt.Sprintf("metrics[%d]: kind %q must be rate, counter or trend", idx, m.Kind))
		}
	}
	return issues
}

func validateScenario(sc ScenarioConfig) []string {
	var issues []string
	names := map[string]int{}
	for idx, step := range sc.Steps {
		set := 0
		if step.Request != nil {
			set++
		}
		if step.Check != nil {
			set++
		}
		if step.Sleep != nil {
			set++
		}
		if set != 1 {
			issues = append(issues, fmt.Sprintf("scenario.steps[%d]: exactly one of request, check or sleep is required", idx))
			continue
		}

		switch {
		case step.Request != nil:
			req := step.Request
			if strings.TrimSpace(req.Path) != "" && strings.TrimSpace(req.URL) != "" {
				issues = append(issues, fmt.Sprintf("scenario.steps[%d]: path and url are mutually exclusive", idx))
			}
			if req.Body != "" && strings.TrimSpace(req.BodyFile) != "" {
				issues = append(issues, fmt.Sprintf("scenario.steps[%d]: body and body_file are mutually exclusive", idx))
			}
			if name := strings.TrimSpace(req.Name); name != "" {
				key := strings.ToLower(name)
				if prev, ok := names[key]; ok {
					issues = append(issues, fmt.Sprintf("scenario.steps[%d]: duplicate request name also defined at index %d", idx, prev))
				} else {
					names[key] = idx
				}
			}
			for exIdx, ex := range req.Extract {
				if strings.TrimSpace(ex.Variable) == "" {
					issues = append(issues, fmt.Sprintf("scenario.steps[%d].extract[%d]: var is required", idx, exIdx))
				}
				if (ex.JSONPath == "") == (ex.Regex == "") {
					issues = append(issues, fmt.Sprintf("scenario.steps[%d].extract[%d]: exactly one of json or regex is required", idx, exIdx))
				}
			}
		case step.Check != nil:
			if len(step.Check.Checks) == 0 {
				issues = append(issues, fmt.Sprintf("scenario.steps[%d]: check requires at least one assertion", idx))
			}
			for pIdx, p := range step.Check.Checks {
				if strings.TrimSpace(p.Name) == "" {
					issues = append(issues, fmt.Sprintf("scenario.steps[%d].checks[%d]: name is required", idx, pIdx))
				}
				if p.matchers() != 1 {
					issues = append(issues, fmt.Sprintf("scenario.steps[%d].checks[%d]: exactly one assertion is required", idx, pIdx))
				}
			}
		case step.Sleep != nil:
			if step.Sleep.Min < 0 || step.Sleep.Max < 0 {
				issues = append(issues, fmt.Sprintf("scenario.steps[%d]: sleep durations must be >= 0", idx))
			}
			if step.Sleep.Max > 0 && step.Sleep.Max < step.Sleep.Min {
				issues = append(issues, fmt.Sprintf("scenario.steps[%d]: sleep max must be >= min", idx))
			}
		}
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol %q must be grpc or http", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}

func validateAuth(auth AuthConfig) []string {
	var issues []string
	require := func(value, field string) {
		if strings.TrimSpace(value) == "" {
			issues = append(issues, fmt.Sprintf("auth: %s is required for %s", field, auth.Type))
		}
	}
	switch auth.Type {
	case "":
		return nil
	case AuthTypeStatic:
		require(auth.StaticToken, "static_token")
	case AuthTypeOAuth2ClientCredentials:
		require(auth.TokenURL, "token_url")
		require(auth.ClientID, "client_id")
		require(auth.ClientSecret, "client_secret")
	case AuthTypeOAuth2ResourceOwner:
		require(auth.TokenURL, "token_url")
		require(auth.ClientID, "client_id")
		require(auth.Username, "username")
		require(auth.Password, "password")
	default:
		issues = append(issues, fmt.Sprintf("auth: type %q is not supported", auth.Type))
	}
	if auth.TokenURL != "" {
		if u, err := url.Parse(auth.TokenURL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, fmt.Sprintf("auth: token_url %q is not an absolute URL", auth.TokenURL))
		}
	}
	if auth.RefreshBeforeExpiry < 0 {
		issues = append(issues, "auth: refresh_before_expiry must be >= 0")
	}
	return issues
}

func validateFeeder(f FeederConfig) []string {
	if strings.TrimSpace(f.Path) == "" {
		if f.Type != "" {
			return []string{"feeder: path is required when type is set"}
		}
		return nil
	}
	switch f.Type {
	case "", "csv", "json", "yaml":
		return nil
	default:
		return []string{fmt.Sprintf("feeder: type %q must be csv, json or yaml", f.Type)}
	}
}
