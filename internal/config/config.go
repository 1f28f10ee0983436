// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/scriptflow/pkg/controlflow/preprocess"
	scripterrors "github.com/tombee/scriptflow/pkg/errors"
)

// Preset names accepted in the preset field.
const (
	PresetDefault         = "default"
	PresetHighPerformance = "high_performance"
	PresetDebug           = "debug"
)

// Executor kinds.
const (
	ExecutorDryRun = "dryrun"
	ExecutorHTTP   = "http"
)

// Trace exporter kinds.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Config represents the complete scriptflow configuration.
type Config struct {
	Log LogConfig `yaml:"log"`

	// Preset selects the base preprocessor configuration. Explicit values
	// in the preprocess section are applied on top of it.
	Preset string `yaml:"preset,omitempty"`

	Preprocess    preprocess.Config   `yaml:"preprocess"`
	Executor      ExecutorConfig      `yaml:"executor"`
	History       HistoryConfig       `yaml:"history"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is the output format (json, text).
	Format string `yaml:"format"`

	// AddSource adds file and line to log records.
	AddSource bool `yaml:"add_source"`
}

// ExecutorConfig selects and configures the step executor used by run.
type ExecutorConfig struct {
	// Kind is dryrun or http.
	Kind string `yaml:"kind"`

	DryRun DryRunConfig `yaml:"dryrun,omitempty"`
	HTTP   HTTPConfig   `yaml:"http,omitempty"`
}

// DryRunConfig configures the simulated executor.
type DryRunConfig struct {
	// StepDelay is slept before each simulated step.
	StepDelay time.Duration `yaml:"step_delay,omitempty"`

	// FailSteps lists step ids (original or linear) that report failure.
	FailSteps []string `yaml:"fail_steps,omitempty"`

	// SkipWaits returns immediately from wait steps instead of sleeping.
	SkipWaits bool `yaml:"skip_waits,omitempty"`
}

// HTTPConfig configures the executor that posts each step to a device agent.
type HTTPConfig struct {
	// Endpoint is the URL steps are posted to.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds a single request.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// RateLimit is the maximum steps per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty"`

	// Burst is the rate limiter burst size.
	Burst int `yaml:"burst,omitempty"`

	// ResultQuery is a jq expression selecting the step data from the
	// response body. Its result must be an object.
	ResultQuery string `yaml:"result_query,omitempty"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file. Defaults to history.db in the data dir.
	Path string `yaml:"path,omitempty"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is none, stdout, otlp-http or otlp-grpc.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP receiver address.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for OTLP exporters.
	Insecure bool `yaml:"insecure"`

	ServiceName string `yaml:"service_name,omitempty"`

	// SampleRate is the fraction of runs traced (0.0 - 1.0).
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address for /metrics, e.g. ":9464".
	Addr string `yaml:"addr,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Preset:     PresetDefault,
		Preprocess: preprocess.DefaultConfig(),
		Executor: ExecutorConfig{
			Kind: ExecutorDryRun,
			HTTP: HTTPConfig{
				Timeout: 30 * time.Second,
				Burst:   1,
			},
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Exporter:    ExporterNone,
				ServiceName: appName,
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Addr: ":9464",
			},
		},
	}
}

// PresetConfig returns the preprocessor configuration for a preset name.
func PresetConfig(name string) (preprocess.Config, error) {
	switch name {
	case "", PresetDefault:
		return preprocess.DefaultConfig(), nil
	case PresetHighPerformance:
		return preprocess.HighPerformanceConfig(), nil
	case PresetDebug:
		return preprocess.DebugConfig(), nil
	}
	return preprocess.Config{}, fmt.Errorf("unknown preset %q (want %s, %s or %s)",
		name, PresetDefault, PresetHighPerformance, PresetDebug)
}

// Load loads configuration from an optional YAML file and the environment.
// Environment variables take precedence over the file. If configPath is
// empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &scripterrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile decodes path on top of the defaults. The preset is read
// first so that file values override the preset rather than the reverse.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if head.Preset != "" {
		base, err := PresetConfig(head.Preset)
		if err != nil {
			return err
		}
		c.Preset = head.Preset
		c.Preprocess = base
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv applies SCRIPTFLOW_* overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("SCRIPTFLOW_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}
	// SCRIPTFLOW_DEBUG wins over the level variables.
	if parseBool(os.Getenv("SCRIPTFLOW_DEBUG")) {
		c.Log.Level = "debug"
		c.Log.AddSource = true
	}

	if val := os.Getenv("SCRIPTFLOW_CONTINUE_ON_ERROR"); val != "" {
		c.Preprocess.Engine.ErrorHandling.ContinueOnError = parseBool(val)
	}
	if val := os.Getenv("SCRIPTFLOW_OPTIMIZATION_LEVEL"); val != "" {
		c.Preprocess.OptimizationLevel = preprocess.OptimizationLevel(strings.ToLower(val))
	}
	if val := os.Getenv("SCRIPTFLOW_MAX_NESTING"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Preprocess.Parser.MaxNestingDepth = n
		}
	}

	if val := os.Getenv("SCRIPTFLOW_EXECUTOR"); val != "" {
		c.Executor.Kind = strings.ToLower(val)
	}
	if val := os.Getenv("SCRIPTFLOW_HTTP_ENDPOINT"); val != "" {
		c.Executor.HTTP.Endpoint = val
	}
	if val := os.Getenv("SCRIPTFLOW_HTTP_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Executor.HTTP.Timeout = d
		}
	}
	if val := os.Getenv("SCRIPTFLOW_HTTP_RATE_LIMIT"); val != "" {
		if r, err := strconv.ParseFloat(val, 64); err == nil {
			c.Executor.HTTP.RateLimit = r
		}
	}

	if val := os.Getenv("SCRIPTFLOW_HISTORY"); val != "" {
		c.History.Enabled = parseBool(val)
	}
	if val := os.Getenv("SCRIPTFLOW_HISTORY_PATH"); val != "" {
		c.History.Path = val
	}

	if val := os.Getenv("SCRIPTFLOW_TRACE_EXPORTER"); val != "" {
		c.Observability.Tracing.Exporter = strings.ToLower(val)
		c.Observability.Tracing.Enabled = c.Observability.Tracing.Exporter != ExporterNone
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Observability.Tracing.Endpoint = val
	}
	if val := os.Getenv("SCRIPTFLOW_METRICS_ADDR"); val != "" {
		c.Observability.Metrics.Addr = val
		c.Observability.Metrics.Enabled = true
	}
}

// applyDefaults fills zero values left by a minimal file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Preprocess.OptimizationLevel == "" {
		c.Preprocess.OptimizationLevel = preprocess.OptimizationStandard
	}
	if c.Executor.Kind == "" {
		c.Executor.Kind = defaults.Executor.Kind
	}
	if c.Executor.HTTP.Timeout == 0 {
		c.Executor.HTTP.Timeout = defaults.Executor.HTTP.Timeout
	}
	if c.Executor.HTTP.Burst == 0 {
		c.Executor.HTTP.Burst = defaults.Executor.HTTP.Burst
	}
	if c.Observability.Tracing.Exporter == "" {
		c.Observability.Tracing.Exporter = ExporterNone
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = defaults.Observability.Tracing.ServiceName
	}
	if c.Observability.Tracing.SampleRate == 0 {
		c.Observability.Tracing.SampleRate = defaults.Observability.Tracing.SampleRate
	}
	if c.Observability.Metrics.Addr == "" {
		c.Observability.Metrics.Addr = defaults.Observability.Metrics.Addr
	}
}

// HistoryPath resolves the history database path, defaulting to the XDG
// data directory.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

func parseBool(val string) bool {
	return val == "1" || strings.EqualFold(val, "true")
}
