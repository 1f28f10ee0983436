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

// Package config implements the config command.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/scriptflow/internal/commands/completion"
	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/internal/config"
)

// sensitiveHeaders are masked by config show.
var sensitiveHeaders = []string{"authorization", "token", "key", "secret", "cookie"}

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "config",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "View and manage configuration",
		Long: `View and manage scriptflow configuration.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  init     - Write a starter config file
  validate - Check the configuration for errors`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(NewValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd, args)
	}

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults, the config file and
environment overrides are applied.

Sensitive executor headers are masked.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Long:  `Display the path to the configuration file.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var (
		preset string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write the default configuration to the config file location so it can
be edited. An existing file is kept unless --force is given.`,
		Example: `  scriptflow config init
  scriptflow config init --preset debug --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			if fileExists(path) && !force {
				return shared.NewConfigError(fmt.Sprintf("%s already exists (use --force to overwrite)", path), nil)
			}

			cfg := config.Default()
			if preset != "" {
				pc, err := config.PresetConfig(preset)
				if err != nil {
					return shared.NewConfigError("invalid --preset", err)
				}
				cfg.Preset = preset
				cfg.Preprocess = pc
			}
			if err := config.Save(path, cfg); err != nil {
				return shared.NewConfigError("cannot write config", err)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), struct {
					shared.JSONResponse
					Path string `json:"path"`
				}{shared.NewJSONResponse("config init", true), path})
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("wrote "+path))
			return nil
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Base the file on a preset (default, high_performance, debug)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	_ = cmd.RegisterFlagCompletionFunc("preset", completion.CompletePresets)
	return cmd
}

// configPath returns --config or the default location.
func configPath() (string, error) {
	if p := shared.GetConfigPath(); p != "" {
		return p, nil
	}
	p, err := config.ConfigPath()
	if err != nil {
		return "", shared.NewConfigError("failed to determine config path", err)
	}
	return p, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	masked := maskSensitiveConfig(cfg)

	source := shared.ResolveConfigPath()
	if source == "" {
		source = "(defaults and environment)"
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return outputConfigJSON(out, source, masked)
	}
	return outputConfigYAML(out, source, masked)
}

// maskSensitiveConfig returns a copy of cfg with credential headers masked.
func maskSensitiveConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	if len(cfg.Executor.HTTP.Headers) > 0 {
		headers := make(map[string]string, len(cfg.Executor.HTTP.Headers))
		for k, v := range cfg.Executor.HTTP.Headers {
			if isSensitiveHeader(k) {
				v = maskValue(v)
			}
			headers[k] = v
		}
		masked.Executor.HTTP.Headers = headers
	}
	return &masked
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveHeaders {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// maskValue masks a credential for display
func maskValue(v string) string {
	if v == "" {
		return ""
	}

	// Environment variable references are not secrets
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return v
	}

	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

// outputConfigJSON emits the config under its YAML keys.
func outputConfigJSON(out io.Writer, source string, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return shared.EmitJSON(out, struct {
		shared.JSONResponse
		Source string         `json:"source"`
		Config map[string]any `json:"config"`
	}{shared.NewJSONResponse("config show", true), source, tree})
}

func outputConfigYAML(out io.Writer, source string, cfg *config.Config) error {
	fmt.Fprintf(out, "Configuration: %s\n", source)
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
