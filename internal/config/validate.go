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
	"net/url"
	"strings"

	"github.com/itchyny/gojq"

	scripterrors "github.com/tombee/scriptflow/pkg/errors"
)

// Validate checks that the configuration is usable. All problems are
// collected into a single ConfigError.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be one of trace, debug, info, warn, error, got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}

	if _, err := PresetConfig(c.Preset); err != nil {
		errs = append(errs, "preset: "+err.Error())
	}
	if err := c.Preprocess.OptimizationLevel.Validate(); err != nil {
		errs = append(errs, "preprocess.optimization_level: "+err.Error())
	}
	if c.Preprocess.Parser.ValidateNesting && c.Preprocess.Parser.MaxNestingDepth < 1 {
		errs = append(errs, fmt.Sprintf("preprocess.parser.max_nesting_depth must be at least 1, got %d", c.Preprocess.Parser.MaxNestingDepth))
	}
	if c.Preprocess.Handler.InfiniteLoopCap < 1 {
		errs = append(errs, fmt.Sprintf("preprocess.handler.infinite_loop_cap must be positive, got %d", c.Preprocess.Handler.InfiniteLoopCap))
	}

	switch c.Executor.Kind {
	case ExecutorDryRun:
	case ExecutorHTTP:
		errs = append(errs, c.Executor.HTTP.validate()...)
	default:
		errs = append(errs, fmt.Sprintf("executor.kind must be %s or %s, got %q", ExecutorDryRun, ExecutorHTTP, c.Executor.Kind))
	}

	tr := c.Observability.Tracing
	switch tr.Exporter {
	case ExporterNone, ExporterStdout:
	case ExporterOTLPHTTP, ExporterOTLPGRPC:
		if tr.Enabled && tr.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("observability.tracing.endpoint is required for the %s exporter", tr.Exporter))
		}
	default:
		errs = append(errs, fmt.Sprintf("observability.tracing.exporter must be one of none, stdout, otlp-http, otlp-grpc, got %q", tr.Exporter))
	}
	if tr.SampleRate < 0 || tr.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("observability.tracing.sample_rate must be between 0 and 1, got %v", tr.SampleRate))
	}
	if c.Observability.Metrics.Enabled && c.Observability.Metrics.Addr == "" {
		errs = append(errs, "observability.metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return &scripterrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed:\n  " + strings.Join(errs, "\n  "),
		}
	}
	return nil
}

func (h HTTPConfig) validate() []string {
	var errs []string
	if h.Endpoint == "" {
		errs = append(errs, "executor.http.endpoint is required for the http executor")
	} else if u, err := url.Parse(h.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("executor.http.endpoint must be an http(s) URL, got %q", h.Endpoint))
	}
	if h.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("executor.http.timeout must be positive, got %v", h.Timeout))
	}
	if h.RateLimit < 0 {
		errs = append(errs, fmt.Sprintf("executor.http.rate_limit must not be negative, got %v", h.RateLimit))
	}
	if h.RateLimit > 0 && h.Burst < 1 {
		errs = append(errs, fmt.Sprintf("executor.http.burst must be at least 1, got %d", h.Burst))
	}
	if h.ResultQuery != "" {
		if _, err := gojq.Parse(h.ResultQuery); err != nil {
			errs = append(errs, fmt.Sprintf("executor.http.result_query is not a valid jq expression: %v", err))
		}
	}
	return errs
}
