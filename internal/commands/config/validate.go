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
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/internal/config"
	scripterrors "github.com/tombee/scriptflow/pkg/errors"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	shared.JSONResponse
	Source   string   `json:"source"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration file and environment overrides.

Checks performed:
  - YAML syntax and structure
  - Log, preset and optimization values are known
  - The executor is configured (an http executor needs an endpoint)
  - Tracing and metrics settings are complete

With --strict, warnings are treated as errors.`,
		Example: `  # Validate configuration
  scriptflow config validate

  # Validate with warnings as errors
  scriptflow config validate --strict

  # Get validation result as JSON
  scriptflow config validate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(out io.Writer, strict bool) error {
	source := shared.ResolveConfigPath()
	if p := shared.GetConfigPath(); p != "" && !fileExists(p) {
		return outputValidationResult(out, ValidationResult{
			Source: p,
			Errors: []string{"configuration file not found"},
		}, strict)
	}

	result := ValidationResult{Source: source}
	if source == "" {
		result.Source = "(defaults and environment)"
	}

	cfg, err := config.Load(source)
	if err != nil {
		result.Errors = loadErrors(err)
		return outputValidationResult(out, result, strict)
	}
	result.Warnings = warnings(cfg)
	return outputValidationResult(out, result, strict)
}

// loadErrors splits a load failure into one message per problem.
func loadErrors(err error) []string {
	var ce *scripterrors.ConfigError
	if !errors.As(err, &ce) {
		return []string{err.Error()}
	}
	if ce.Cause != nil {
		return []string{fmt.Sprintf("%s: %v", ce.Reason, ce.Cause)}
	}
	lines := strings.Split(ce.Reason, "\n")
	if len(lines) == 1 {
		return []string{err.Error()}
	}
	var errs []string
	for _, l := range lines[1:] {
		if l = strings.TrimSpace(l); l != "" {
			errs = append(errs, l)
		}
	}
	return errs
}

// warnings reports settings that are valid but probably not intended.
func warnings(cfg *config.Config) []string {
	var warns []string

	if cfg.Preprocess.Parser.AllowUnmatched {
		warns = append(warns, "preprocess.parser.allow_unmatched is set; unclosed structures are closed at the end of the script")
	}
	if cfg.Preprocess.Handler.AllowNestedLoops {
		warns = append(warns, "preprocess.handler.allow_nested_loops is set; nested loops multiply the plan size")
	}

	tr := cfg.Observability.Tracing
	if tr.Enabled && (tr.Exporter == "" || tr.Exporter == config.ExporterNone) {
		warns = append(warns, "observability.tracing is enabled but the exporter is none; no spans will be exported")
	}

	if cfg.Executor.Kind == config.ExecutorHTTP {
		if u, err := url.Parse(cfg.Executor.HTTP.Endpoint); err == nil && u.Scheme == "http" && !isLocalHost(u.Hostname()) {
			warns = append(warns, fmt.Sprintf("executor.http.endpoint %s is not using TLS", cfg.Executor.HTTP.Endpoint))
		}
	}

	if !cfg.History.Enabled {
		warns = append(warns, "history is disabled; runs will not be recorded")
	}
	return warns
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// outputValidationResult prints the result and returns the exit error.
func outputValidationResult(out io.Writer, result ValidationResult, strict bool) error {
	result.Valid = len(result.Errors) == 0
	failed := !result.Valid || (strict && len(result.Warnings) > 0)
	result.JSONResponse = shared.NewJSONResponse("config validate", !failed)

	if shared.GetJSON() {
		if err := shared.EmitJSON(out, result); err != nil {
			return err
		}
	} else {
		if result.Valid {
			fmt.Fprintln(out, shared.RenderOK("Configuration is valid: "+result.Source))
		} else {
			fmt.Fprintln(out, shared.RenderError("Configuration validation failed: "+result.Source))
		}
		fmt.Fprintln(out)

		if len(result.Errors) > 0 {
			fmt.Fprintln(out, shared.RenderHeader("Errors:"))
			for _, err := range result.Errors {
				fmt.Fprintf(out, "  %s %s\n", shared.Style(shared.StatusError, shared.SymbolError), err)
			}
			fmt.Fprintln(out)
		}

		if len(result.Warnings) > 0 {
			fmt.Fprintln(out, shared.RenderHeader("Warnings:"))
			for _, warn := range result.Warnings {
				fmt.Fprintf(out, "  %s %s\n", shared.Style(shared.StatusWarn, shared.SymbolWarn), warn)
			}
			fmt.Fprintln(out)
		}

		if result.Valid && len(result.Warnings) == 0 {
			fmt.Fprintln(out, "No issues found.")
		}
		if result.Valid && failed {
			fmt.Fprintln(out, "Validation failed (strict mode: warnings treated as errors)")
		}
	}

	if failed {
		return shared.Silent(shared.ExitConfigError)
	}
	return nil
}
