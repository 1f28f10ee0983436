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

// Package validate implements the validate command.
package validate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/scriptflow/internal/commands/completion"
	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/internal/filewatcher"
	"github.com/tombee/scriptflow/pkg/controlflow/handler"
	"github.com/tombee/scriptflow/pkg/controlflow/preprocess"
	"github.com/tombee/scriptflow/pkg/script"
)

// FileResult is the validation outcome of one script file.
type FileResult struct {
	File        string            `json:"file"`
	Valid       bool              `json:"valid"`
	Steps       int               `json:"steps,omitempty"`
	LoadError   *shared.JSONError `json:"load_error,omitempty"`
	Errors      []handler.Issue   `json:"errors,omitempty"`
	Warnings    []handler.Issue   `json:"warnings,omitempty"`
	Suggestions []handler.Issue   `json:"suggestions,omitempty"`
}

// Response is the JSON output of validate.
type Response struct {
	shared.JSONResponse
	Files []FileResult `json:"files"`
}

type options struct {
	watch   bool
	exclude []string
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "validate <script|glob>...",
		Short: "Check script markers and control-structure rules",
		Annotations: map[string]string{
			"group": "scripts",
		},
		Long: `Validate loads every script matching the given paths or glob patterns,
parses its loop, conditional and try/catch markers and checks each control
structure against its handler's rules. Nothing is expanded or executed.

Patterns support ** for any number of directories. Editor temporary files
are always excluded.

With --watch, validate keeps running and re-checks scripts as they change.`,
		Example: `  # Validate one script
  scriptflow validate login.yaml

  # Validate every script in a tree
  scriptflow validate 'scripts/**/*.yaml'

  # Re-validate on save
  scriptflow validate 'scripts/**/*.yaml' --watch

  # Machine-readable output
  scriptflow validate login.yaml --json`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completion.CompleteScriptFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Re-validate scripts when they change")
	cmd.Flags().StringSliceVar(&opts.exclude, "exclude", nil, "Glob patterns to skip")

	return cmd
}

func run(cmd *cobra.Command, args []string, opts options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())
	pre := shared.NewPreprocessor(cfg, logger)

	patterns, err := filewatcher.NewPatterns(args, append(filewatcher.DefaultExcludePatterns(), opts.exclude...))
	if err != nil {
		return shared.NewInvalidScriptError("invalid pattern", err)
	}
	files, err := patterns.Expand()
	if err != nil {
		return shared.NewInvalidScriptError("cannot expand patterns", err)
	}
	if len(files) == 0 && !opts.watch {
		return shared.NewInvalidScriptError(fmt.Sprintf("no scripts match %v", args), nil)
	}

	out := cmd.OutOrStdout()
	results := ValidateFiles(pre, files)
	if err := report(out, results); err != nil {
		return err
	}

	if !opts.watch {
		for _, r := range results {
			if !r.Valid {
				return shared.Silent(shared.ExitInvalidScript)
			}
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watch(ctx, out, logger, pre, patterns)
}

func watch(ctx context.Context, out io.Writer, logger *slog.Logger, pre *preprocess.Preprocessor, patterns *filewatcher.Patterns) error {
	w, err := filewatcher.New(patterns, filewatcher.WithLogger(logger))
	if err != nil {
		return shared.NewExecutionError("cannot watch scripts", err)
	}
	if !shared.GetJSON() {
		fmt.Fprintln(out, shared.RenderLabel("Watching for changes. Press Ctrl+C to stop."))
	}

	return w.Run(ctx, func(events []filewatcher.Event) {
		var changed []string
		for _, ev := range events {
			if ev.Op == filewatcher.OpDeleted || ev.Op == filewatcher.OpRenamed {
				if _, err := os.Stat(ev.Path); errors.Is(err, fs.ErrNotExist) {
					if !shared.GetJSON() {
						fmt.Fprintln(out, shared.RenderInfo(ev.Path+" removed"))
					}
					continue
				}
			}
			changed = append(changed, ev.Path)
		}
		if len(changed) == 0 {
			return
		}
		if err := report(out, ValidateFiles(pre, changed)); err != nil {
			logger.Error("failed to write report", "error", err)
		}
	})
}

// ValidateFiles loads and validates each file.
func ValidateFiles(pre *preprocess.Preprocessor, files []string) []FileResult {
	results := make([]FileResult, 0, len(files))
	for _, file := range files {
		results = append(results, validateFile(pre, file))
	}
	return results
}

func validateFile(pre *preprocess.Preprocessor, file string) FileResult {
	res := FileResult{File: file}
	s, err := script.LoadFile(file)
	if err != nil {
		jerr := shared.NewJSONError(shared.NewInvalidScriptError("cannot load script", err))
		jerr.File = file
		res.LoadError = &jerr
		return res
	}
	res.Steps = len(s.Steps)

	vr := pre.ValidateScript(s.Steps)
	res.Valid = vr.IsValid
	res.Errors = vr.Errors
	res.Warnings = vr.Warnings
	res.Suggestions = vr.Suggestions
	return res
}

func report(out io.Writer, results []FileResult) error {
	if shared.GetJSON() {
		success := true
		for _, r := range results {
			success = success && r.Valid
		}
		return shared.EmitJSON(out, Response{
			JSONResponse: shared.NewJSONResponse("validate", success),
			Files:        results,
		})
	}

	quiet := shared.GetQuiet()
	for _, r := range results {
		switch {
		case r.LoadError != nil:
			fmt.Fprintln(out, shared.RenderError(r.File))
			fmt.Fprintf(out, "    %s\n", r.LoadError.Message)
			if r.LoadError.Suggestion != "" {
				fmt.Fprintf(out, "    %s %s\n", shared.RenderLabel("suggestion:"), r.LoadError.Suggestion)
			}
			continue
		case !r.Valid:
			fmt.Fprintln(out, shared.RenderError(r.File))
		case quiet:
			continue
		default:
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s %s", r.File, shared.RenderLabel(fmt.Sprintf("(%d steps)", r.Steps)))))
		}
		printIssues(out, "error", r.Errors)
		if !quiet {
			printIssues(out, "warning", r.Warnings)
			printIssues(out, "suggestion", r.Suggestions)
		}
	}
	return nil
}

func printIssues(out io.Writer, label string, issues []handler.Issue) {
	for _, is := range issues {
		where := ""
		if is.NodeID != "" {
			where = " [" + is.NodeID + "]"
		}
		fmt.Fprintf(out, "    %s %s%s: %s\n", shared.RenderLabel(label), is.Code, where, is.Message)
	}
}
