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

// Package run implements the run command.
package run

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/scriptflow/internal/commands/completion"
	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/internal/executor"
	"github.com/tombee/scriptflow/internal/history"
	"github.com/tombee/scriptflow/internal/log"
	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	"github.com/tombee/scriptflow/pkg/controlflow/preprocess"
)

type options struct {
	vars            []string
	varFile         string
	executor        string
	endpoint        string
	failSteps       []string
	skipWaits       bool
	continueOnError bool
	stopOnError     bool
	timeout         time.Duration
	noHistory       bool
	trace           string
	metricsAddr     string
	flags           shared.PreprocessFlags
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Expand and execute a script",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Run preprocesses a script into its linear plan and executes every step
through the configured step executor.

Executors:
  dryrun   simulates every step; waits sleep unless --skip-waits (default)
  http     posts each step as JSON to a device agent endpoint

Variables are seeded into the run's global scope and can be referenced in
conditions. They come from the script's variables section, then --var-file,
then --var, later sources winning.

Failures inside a try block are handled by its catch section and do not fail
the run. Other failures fail the run; with --stop-on-error the remaining
steps are not executed.

Every run is recorded in the history database unless --no-history is set.`,
		Example: `  # Simulate a script
  scriptflow run login.yaml

  # Simulate a failure to exercise catch blocks
  scriptflow run checkout.yaml --fail-step submit --skip-waits

  # Drive a device agent
  scriptflow run login.yaml --executor http --endpoint http://localhost:8080/steps

  # Override variables
  scriptflow run checkout.yaml --var retries=5 --var user=alice`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteScriptFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], &opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&opts.vars, "var", nil, "Script variable in key=value format (repeatable)")
	f.StringVar(&opts.varFile, "var-file", "", "YAML or JSON file of variables (use '-' for stdin)")
	f.StringVarP(&opts.executor, "executor", "e", "", "Step executor (dryrun, http)")
	f.StringVar(&opts.endpoint, "endpoint", "", "Device agent URL for the http executor")
	f.StringSliceVar(&opts.failSteps, "fail-step", nil, "Step ids the dryrun executor reports as failed")
	f.BoolVar(&opts.skipWaits, "skip-waits", false, "Do not sleep on wait steps in dryrun mode")
	f.BoolVar(&opts.continueOnError, "continue-on-error", false, "Keep executing after an unhandled failure")
	f.BoolVar(&opts.stopOnError, "stop-on-error", false, "Stop at the first unhandled failure")
	f.DurationVar(&opts.timeout, "timeout", 0, "Abort the run after this duration")
	f.BoolVar(&opts.noHistory, "no-history", false, "Do not record the run")
	f.StringVar(&opts.trace, "trace", "", "Export spans (stdout, otlp-http, otlp-grpc)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	opts.flags.Register(f)
	completion.RegisterPreprocessFlags(cmd)
	_ = cmd.RegisterFlagCompletionFunc("executor", completion.CompleteExecutors)
	cmd.MarkFlagsMutuallyExclusive("continue-on-error", "stop-on-error")

	return cmd
}

// applyFlags writes the command-line overrides into cfg.
func (o *options) applyFlags(cfg *config.Config) error {
	if err := o.flags.Apply(cfg); err != nil {
		return err
	}
	if o.executor != "" {
		cfg.Executor.Kind = o.executor
	}
	if o.endpoint != "" {
		cfg.Executor.HTTP.Endpoint = o.endpoint
	}
	if len(o.failSteps) > 0 {
		cfg.Executor.DryRun.FailSteps = append(cfg.Executor.DryRun.FailSteps, o.failSteps...)
	}
	if o.skipWaits {
		cfg.Executor.DryRun.SkipWaits = true
	}
	switch {
	case o.continueOnError:
		cfg.Preprocess.Engine.ErrorHandling.ContinueOnError = true
	case o.stopOnError:
		cfg.Preprocess.Engine.ErrorHandling.ContinueOnError = false
	}
	if o.noHistory {
		cfg.History.Enabled = false
	}
	if o.trace != "" {
		cfg.Observability.Tracing.Enabled = true
		cfg.Observability.Tracing.Exporter = o.trace
	}
	if o.metricsAddr != "" {
		cfg.Observability.Metrics.Enabled = true
		cfg.Observability.Metrics.Addr = o.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return shared.NewConfigError("invalid configuration", err)
	}
	return nil
}

func run(cmd *cobra.Command, path string, opts *options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if err := opts.applyFlags(cfg); err != nil {
		return err
	}
	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())

	s, err := shared.LoadScript(path)
	if err != nil {
		return err
	}
	vars, err := parseVars(s.Variables, opts.vars, opts.varFile)
	if err != nil {
		return shared.NewConfigError("invalid variables", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	exec, err := executor.New(cfg.Executor, logger)
	if err != nil {
		return shared.NewConfigError("cannot create step executor", err)
	}

	version, _, _ := shared.GetVersion()
	obs, err := newObserver(ctx, cfg.Observability, version, cmd.ErrOrStderr(), logger)
	if err != nil {
		return shared.NewConfigError("cannot start observability", err)
	}
	defer obs.Close()

	eng := engine.New(cfg.Preprocess.EngineConfig(),
		append([]engine.Option{engine.WithLogger(logger)}, obs.engineOptions()...)...)
	pre := shared.NewPreprocessor(cfg, logger, preprocess.WithEngine(eng))

	plan, err := pre.PreprocessScript(ctx, s.Steps)
	if err != nil {
		return shared.PreprocessError(err)
	}
	logger.Info("executing script",
		log.ScriptKey, s.Name,
		"steps", plan.ProcessedStepCount,
		"executor", cfg.Executor.Kind)

	res, err := eng.ExecutePlan(ctx, plan.Plan, log.NewStepMiddleware(logger, exec), engine.WithVariables(vars))
	if err != nil {
		return shared.NewExecutionError("run aborted", err)
	}
	log.WithRunContext(logger, res.RunID, s.Name).Info("run finished",
		"success", res.Success,
		log.DurationKey, res.Stats.TotalDuration.Milliseconds())

	if cfg.History.Enabled {
		record(ctx, cfg, s.Name, res, logger)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if err := shared.EmitJSON(out, newResponse(s.Name, res)); err != nil {
			return err
		}
	} else {
		writeText(out, s.Name, res, shared.GetVerbose())
	}

	if !res.Success {
		return shared.Silent(shared.ExitExecutionFailed)
	}
	return nil
}

// record saves res to the history store. Failures are logged, never
// returned; the run itself already finished.
func record(ctx context.Context, cfg *config.Config, scriptName string, res *engine.Result, logger *slog.Logger) {
	store, err := shared.OpenHistory(context.WithoutCancel(ctx), cfg)
	if err != nil {
		logger.Warn("run not recorded", "error", err)
		return
	}
	defer store.Close()

	run, steps := history.FromResult(scriptName, res)
	if err := store.SaveRun(context.WithoutCancel(ctx), run, steps); err != nil {
		logger.Warn("run not recorded", log.RunIDKey, res.RunID, "error", err)
	}
}
