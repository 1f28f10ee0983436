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

// Package plan implements the plan command.
package plan

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/scriptflow/internal/commands/completion"
	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/preprocess"
	"github.com/tombee/scriptflow/pkg/script"
)

// Output formats for text mode.
const (
	OutputTable = "table"
	OutputYAML  = "yaml"
)

// Response is the JSON output of plan.
type Response struct {
	shared.JSONResponse
	Script             string            `json:"script"`
	OriginalStepCount  int               `json:"original_step_count"`
	ProcessedStepCount int               `json:"processed_step_count"`
	Stats              preprocess.Stats  `json:"stats"`
	Plan               ast.PlanStats     `json:"plan"`
	Conditions         map[string]string `json:"conditions,omitempty"`
	Steps              []ast.LinearStep  `json:"steps"`
}

type options struct {
	output string
	flags  shared.PreprocessFlags
}

// NewCommand creates the plan command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "plan <script>",
		Short: "Show the linear steps a script expands to",
		Annotations: map[string]string{
			"group": "scripts",
		},
		Long: `Plan parses a script and expands every loop, conditional and try/catch
block into the linear step sequence the engine would run. Nothing is executed.

Output formats:
  table  one row per linear step with its iteration and branch path (default)
  yaml   a marker-free script that can be run by executors that only
         understand flat step lists`,
		Example: `  # Show the expanded steps
  scriptflow plan login.yaml

  # Export a flat script
  scriptflow plan login.yaml --output yaml > login.flat.yaml

  # Plan with the debug preset
  scriptflow plan login.yaml --preset debug --json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteScriptFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", OutputTable, "Output format (table, yaml)")
	opts.flags.Register(cmd.Flags())
	completion.RegisterPreprocessFlags(cmd)
	_ = cmd.RegisterFlagCompletionFunc("output", completion.CompletePlanFormats)

	return cmd
}

func run(cmd *cobra.Command, path string, opts *options) error {
	switch opts.output {
	case OutputTable, OutputYAML:
	default:
		return shared.NewConfigError(fmt.Sprintf("unknown output format %q (want table or yaml)", opts.output), nil)
	}

	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if err := opts.flags.Apply(cfg); err != nil {
		return err
	}
	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())

	s, err := shared.LoadScript(path)
	if err != nil {
		return err
	}
	pre := shared.NewPreprocessor(cfg, logger)
	res, err := pre.PreprocessScript(cmd.Context(), s.Steps)
	if err != nil {
		return shared.PreprocessError(err)
	}

	out := cmd.OutOrStdout()
	switch {
	case shared.GetJSON():
		return shared.EmitJSON(out, Response{
			JSONResponse:       shared.NewJSONResponse("plan", true),
			Script:             s.Name,
			OriginalStepCount:  res.OriginalStepCount,
			ProcessedStepCount: res.ProcessedStepCount,
			Stats:              res.Stats,
			Plan:               res.Plan.Stats,
			Conditions:         res.Plan.Conditions,
			Steps:              res.Plan.Steps,
		})
	case opts.output == OutputYAML:
		return writeYAML(out, s, res.Plan)
	default:
		return writeTable(out, s, res)
	}
}

// writeYAML emits the plan as a flat script. Expanded steps carry their loop
// and branch metadata in reserved parameters.
func writeYAML(out io.Writer, s *script.Script, plan *ast.ExecutionPlan) error {
	flat := &script.Script{
		Name:        s.Name,
		Description: s.Description,
		Variables:   s.Variables,
		Steps:       plan.AutomationSteps(),
	}
	for i := range flat.Steps {
		flat.Steps[i].Order = i + 1
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(flat); err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	return enc.Close()
}

func writeTable(out io.Writer, s *script.Script, res *preprocess.Result) error {
	name := s.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintln(out, shared.RenderHeader("Plan: "+name))
	fmt.Fprintf(out, "%s %d -> %d steps, %d control structures, nesting %d, %s\n\n",
		shared.RenderLabel("expansion:"),
		res.OriginalStepCount, res.ProcessedStepCount,
		res.Stats.ControlStructuresFound, res.Plan.Stats.MaxNesting,
		res.Plan.Stats.ComplexityRating)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tTYPE\tITERATION\tPATH")
	for i, ls := range res.Plan.Steps {
		iter := "-"
		if ls.Context.LoopIteration != nil {
			iter = fmt.Sprint(ls.Context.Iteration())
		}
		path := ls.Context.Path()
		if path == "" {
			path = "-"
		}
		indent := strings.Repeat("  ", int(ls.Context.NestingLevel))
		fmt.Fprintf(w, "%d\t%s%s\t%s\t%s\t%s\n", i+1, indent, ls.Step.ID, ls.Step.Type, iter, path)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, warn := range res.Stats.Warnings {
		fmt.Fprintln(out, shared.RenderWarn(warn))
	}
	return nil
}
