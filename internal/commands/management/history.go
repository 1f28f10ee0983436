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

// Package management implements commands that inspect and maintain local
// state.
package management

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/tombee/scriptflow/internal/commands/completion"
	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/internal/history"
	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	scripterrors "github.com/tombee/scriptflow/pkg/errors"
)

// shortIDLen is how much of a run id list prints. show and delete accept
// any unique prefix.
const shortIDLen = 8

// ListResponse is the JSON output of history list.
type ListResponse struct {
	shared.JSONResponse
	Runs []*history.Run `json:"runs"`
}

// ShowResponse is the JSON output of history show.
type ShowResponse struct {
	shared.JSONResponse
	Run   *history.Run   `json:"run"`
	Steps []history.Step `json:"steps"`
}

// PruneResponse is the JSON output of history prune.
type PruneResponse struct {
	shared.JSONResponse
	Cutoff  time.Time `json:"cutoff"`
	Removed int64     `json:"removed"`
}

// NewHistoryCommand creates the history command group.
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "history",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "View and prune recorded runs",
		Long: `Commands for listing, viewing and removing past script runs.

Every 'scriptflow run' is recorded in a local SQLite database unless history
is disabled in the configuration or with --no-history.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var filter history.RunFilter
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		Long: `List recorded runs, newest first, optionally filtered by script or state.

See also: scriptflow history show, scriptflow run`,
		Example: `  # List recent runs
  scriptflow history list

  # Runs of one script
  scriptflow history list --script login

  # Only failed runs, as JSON
  scriptflow history list --failed --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.State = engine.State(state)
			return withStore(cmd, func(ctx context.Context, store *history.Store) error {
				runs, err := store.ListRuns(ctx, filter)
				if err != nil {
					return shared.NewExecutionError("cannot list runs", err)
				}
				return printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}

	cmd.Flags().StringVar(&filter.Script, "script", "", "Filter by script name")
	cmd.Flags().StringVar(&state, "state", "", "Filter by final state (completed, aborted)")
	cmd.Flags().BoolVar(&filter.FailedOnly, "failed", false, "Show only runs that did not succeed")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	_ = cmd.RegisterFlagCompletionFunc("state", completion.CompleteRunStates)

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its steps",
		Long: `Display the statistics and every linear step of a recorded run.

See also: scriptflow history list`,
		Example: `  scriptflow history show 3f2a9c1d
  scriptflow history show 3f2a9c1d --json | jq '.steps[] | select(.outcome=="failed")'`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *history.Store) error {
				run, err := resolveRun(ctx, store, args[0])
				if err != nil {
					return err
				}
				steps, err := store.ListSteps(ctx, run.ID)
				if err != nil {
					return shared.NewExecutionError("cannot read steps", err)
				}
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), ShowResponse{
						JSONResponse: shared.NewJSONResponse("history show", true),
						Run:          run,
						Steps:        steps,
					})
				}
				return printRun(cmd.OutOrStdout(), run, steps)
			})
		},
	}
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "delete <run-id>...",
		Short:             "Delete recorded runs",
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *history.Store) error {
				var deleted []string
				for _, id := range args {
					run, err := resolveRun(ctx, store, id)
					if err != nil {
						return err
					}
					if err := store.DeleteRun(ctx, run.ID); err != nil {
						return shared.NewExecutionError("cannot delete run", err)
					}
					deleted = append(deleted, run.ID)
				}
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), struct {
						shared.JSONResponse
						Deleted []string `json:"deleted"`
					}{shared.NewJSONResponse("history delete", true), deleted})
				}
				for _, id := range deleted {
					fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("deleted "+id))
				}
				return nil
			})
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a given age",
		Example: `  # Keep the last 30 days
  scriptflow history prune --older-than 30d

  # Keep the last 12 hours
  scriptflow history prune --older-than 12h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := parseAge(olderThan)
			if err != nil {
				return shared.NewConfigError("invalid --older-than", err)
			}
			cutoff := time.Now().Add(-age)
			return withStore(cmd, func(ctx context.Context, store *history.Store) error {
				n, err := store.Prune(ctx, cutoff)
				if err != nil {
					return shared.NewExecutionError("cannot prune runs", err)
				}
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), PruneResponse{
						JSONResponse: shared.NewJSONResponse("history prune", true),
						Cutoff:       cutoff,
						Removed:      n,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("removed %d run(s) older than %s", n, olderThan)))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "30d", "Age cutoff, e.g. 30d or 12h")
	return cmd
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *history.Store) error) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := shared.OpenHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

// resolveRun finds a run by id or unique id prefix.
func resolveRun(ctx context.Context, store *history.Store, id string) (*history.Run, error) {
	run, err := store.GetRun(ctx, id)
	if err == nil {
		return run, nil
	}
	var nf *scripterrors.NotFoundError
	if !errors.As(err, &nf) {
		return nil, shared.NewExecutionError("cannot read run", err)
	}

	runs, err := store.ListRuns(ctx, history.RunFilter{})
	if err != nil {
		return nil, shared.NewExecutionError("cannot list runs", err)
	}
	var matches []*history.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, shared.NewExecutionError("run not found", nf)
	case 1:
		return matches[0], nil
	}
	return nil, shared.NewExecutionError(fmt.Sprintf("run id prefix %q matches %d runs", id, len(matches)), nil)
}

// parseAge accepts Go durations plus a day suffix, e.g. "30d".
func parseAge(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := cast.ToIntE(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("age must not be negative, got %s", s)
	}
	return d, nil
}

func printRuns(out io.Writer, runs []*history.Run) error {
	if shared.GetJSON() {
		if runs == nil {
			runs = []*history.Run{}
		}
		return shared.EmitJSON(out, ListResponse{
			JSONResponse: shared.NewJSONResponse("history list", true),
			Runs:         runs,
		})
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCRIPT\tRESULT\tSTEPS\tDURATION\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			shortID(r.ID),
			truncate(r.Script, 24),
			result(r),
			r.Successful+r.Handled, r.Total,
			r.Duration.Round(time.Millisecond),
			formatStarted(r.StartedAt))
	}
	return w.Flush()
}

func printRun(out io.Writer, r *history.Run, steps []history.Step) error {
	fmt.Fprintf(out, "Run ID:     %s\n", r.ID)
	fmt.Fprintf(out, "Script:     %s\n", r.Script)
	fmt.Fprintf(out, "Result:     %s\n", result(r))
	fmt.Fprintf(out, "Started:    %s\n", formatStarted(r.StartedAt))
	fmt.Fprintf(out, "Duration:   %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Steps:      %d total, %d ok, %d failed, %d handled, %d skipped, %d not executed\n",
		r.Total, r.Successful, r.Failed, r.Handled, r.Skipped, r.NotExecuted)

	if len(steps) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tSTEP\tOUTCOME\tITER\tPATH\tDURATION\tDETAIL")
		for _, st := range steps {
			iter, path := "-", "-"
			if st.Iteration > 0 {
				iter = fmt.Sprint(st.Iteration)
			}
			if st.Path != "" {
				path = st.Path
			}
			detail := st.Error
			if detail == "" {
				detail = st.Reason
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				st.Index+1, st.StepID, st.Outcome, iter, path,
				st.Duration.Round(time.Millisecond), truncate(detail, 60))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	for _, e := range r.Errors {
		if e.Handled {
			continue
		}
		fmt.Fprintf(out, "\n%s %s\n", shared.RenderError(e.StepID+":"), e.Message)
	}
	return nil
}

func result(r *history.Run) string {
	if r.Success {
		return shared.RenderStatus(true, "OK")
	}
	if r.State == engine.StateAborted {
		return shared.RenderStatus(false, "ABORTED")
	}
	return shared.RenderStatus(false, "FAILED")
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func formatStarted(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
