package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags on a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stagefire",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (YAML, JSON or TOML)")
	flags.String("base-url", "", "Base URL of the service under test (falls back to $API_URL)")

	// Load shape
	flags.StringArray("stage", nil, "Ramp stage as duration:target, e.g. 30s:20 (repeatable, replaces config stages)")
	flags.Int("max-vus", 0, "Upper bound on concurrent VUs (0 means the highest stage target)")
	flags.Duration("control-interval", time.Second, "How often the scheduler reconciles the VU pool")
	flags.Duration("graceful-stop", 30*time.Second, "How long stopping VUs may finish their iteration before it is cancelled (0 waits forever)")
	flags.Int("iteration-rate", 0, "Cap on iteration starts per second across all VUs (0 means unlimited)")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model used when pacing iterations (uniform or poisson)")

	// Transport
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")
	flags.Int("retries", 0, "Number of retries per request")
	flags.String("transport", string(TransportNetHTTP), "HTTP client implementation (nethttp or fasthttp)")
	flags.Bool("insecure", false, "Skip TLS certificate verification")

	// Thresholds and metrics
	flags.StringArray("threshold", nil, "Threshold as metric:expression, e.g. 'http_req_duration:p(95)<500' (repeatable, replaces config thresholds)")
	flags.String("threshold-mode", string(ThresholdModeEnd), "When thresholds are evaluated (end or continuous)")
	flags.Duration("threshold-interval", 2*time.Second, "Evaluation interval in continuous threshold mode")
	flags.String("trend-mode", string(TrendModeExact), "Trend storage (exact or hdr)")

	// Output
	flags.Bool("json-output", false, "Emit the final report as JSON")
	flags.String("summary-export", "", "Write the run summary to this path (.json, .yaml or .html)")
	flags.String("metrics-addr", "", "Serve live Prometheus metrics on this address, e.g. :9090")
	flags.Bool("log-errors", false, "Log each failed request")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console or json)")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint; enables request tracing")
	flags.String("tracing-protocol", "grpc", "OTLP protocol (grpc or http)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of iterations traced (0.0-1.0)")
	flags.String("tracing-service-name", "stagefire", "service.name resource attribute")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context headers into requests")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// ParseStageFlag parses a duration:target pair such as "30s:20".
func ParseStageFlag(value string) (Stage, error) {
	durPart, targetPart, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return Stage{}, fmt.Errorf("stage %q must be in duration:target form", value)
	}
	dur, err := asDuration(durPart)
	if err != nil {
		return Stage{}, fmt.Errorf("stage %q: duration: %w", value, err)
	}
	target, err := strconv.Atoi(strings.TrimSpace(targetPart))
	if err != nil {
		return Stage{}, fmt.Errorf("stage %q: target: %w", value, err)
	}
	return Stage{Duration: dur, Target: target}, nil
}

// splitThresholdFlag splits "metric:expression" at the first colon.
func splitThresholdFlag(value string) (string, string, error) {
	metric, expr, ok := strings.Cut(value, ":")
	metric = strings.TrimSpace(metric)
	expr = strings.TrimSpace(expr)
	if !ok || metric == "" || expr == "" {
		return "", "", fmt.Errorf("threshold %q must be in metric:expression form", value)
	}
	return metric, expr, nil
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("base-url") {
		val, err := fs.GetString("base-url")
		if err != nil {
			return err
		}
		cfg.BaseURL = strings.TrimSpace(val)
	}

	if fs.Changed("stage") {
		vals, err := fs.GetStringArray("stage")
		if err != nil {
			return err
		}
		stages := make([]Stage, 0, len(vals))
		for _, v := range vals {
			st, err := ParseStageFlag(v)
			if err != nil {
				return NewConfigError(err.Error())
			}
			stages = append(stages, st)
		}
		cfg.Stages = stages
	}

	if fs.Changed("threshold") {
		vals, err := fs.GetStringArray("threshold")
		if err != nil {
			return err
		}
		thresholds := map[string][]ThresholdSpec{}
		for _, v := range vals {
			metric, expr, err := splitThresholdFlag(v)
			if err != nil {
				return NewConfigError(err.Error())
			}
			thresholds[metric] = append(thresholds[metric], ThresholdSpec{Expression: expr})
		}
		cfg.Thresholds = thresholds
	}

	ints := map[string]*int{
		"max-vus":        &cfg.MaxVUs,
		"iteration-rate": &cfg.IterationRate,
		"retries":        &cfg.Retries,
	}
	for name, dst := range ints {
		if fs.Changed(name) {
			val, err := fs.GetInt(name)
			if err != nil {
				return err
			}
			*dst = val
		}
	}

	durations := map[string]*time.Duration{
		"control-interval":   &cfg.ControlInterval,
		"graceful-stop":      &cfg.GracefulStop,
		"timeout":            &cfg.Timeout,
		"threshold-interval": &cfg.ThresholdInterval,
	}
	for name, dst := range durations {
		if fs.Changed(name) {
			val, err := fs.GetDuration(name)
			if err != nil {
				return err
			}
			*dst = val
		}
	}

	bools := map[string]*bool{
		"insecure":         &cfg.Insecure,
		"json-output":      &cfg.JSONOutput,
		"log-errors":       &cfg.LogErrors,
		"tracing-insecure": &cfg.Tracing.Insecure,
	}
	for name, dst := range bools {
		if fs.Changed(name) {
			val, err := fs.GetBool(name)
			if err != nil {
				return err
			}
			*dst = val
		}
	}

	strs := map[string]*string{
		"summary-export":       &cfg.SummaryExport,
		"metrics-addr":         &cfg.MetricsAddr,
		"log-level":            &cfg.LogLevel,
		"log-format":           &cfg.LogFormat,
		"tracing-endpoint":     &cfg.Tracing.Endpoint,
		"tracing-service-name": &cfg.Tracing.ServiceName,
	}
	for name, dst := range strs {
		if fs.Changed(name) {
			val, err := fs.GetString(name)
			if err != nil {
				return err
			}
			*dst = strings.TrimSpace(val)
		}
	}

	lowered := func(name string) (string, bool, error) {
		if !fs.Changed(name) {
			return "", false, nil
		}
		val, err := fs.GetString(name)
		return strings.ToLower(strings.TrimSpace(val)), true, err
	}
	if val, ok, err := lowered("threshold-mode"); err != nil {
		return err
	} else if ok {
		cfg.ThresholdMode = ThresholdMode(val)
	}
	if val, ok, err := lowered("arrival-model"); err != nil {
		return err
	} else if ok {
		cfg.Arrival.Model = ArrivalModel(val)
	}
	if val, ok, err := lowered("trend-mode"); err != nil {
		return err
	} else if ok {
		cfg.TrendMode = TrendMode(val)
	}
	if val, ok, err := lowered("transport"); err != nil {
		return err
	} else if ok {
		cfg.Transport = TransportKind(val)
	}
	if val, ok, err := lowered("tracing-protocol"); err != nil {
		return err
	} else if ok {
		cfg.Tracing.Protocol = val
	}

	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}

	return nil
}
