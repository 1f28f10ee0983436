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

// Package analyze implements the analyze command.
package analyze

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/scriptflow/internal/commands/completion"
	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/preprocess"
)

// Response is the JSON output of analyze.
type Response struct {
	shared.JSONResponse
	Script   string                         `json:"script"`
	Analysis *preprocess.ComplexityAnalysis `json:"analysis"`
}

// NewCommand creates the analyze command
func NewCommand() *cobra.Command {
	var flags shared.PreprocessFlags

	cmd := &cobra.Command{
		Use:   "analyze <script>",
		Short: "Report how much a script expands and how complex it is",
		Annotations: map[string]string{
			"group": "scripts",
		},
		Long: `Analyze preprocesses a script and reports the expansion ratio, the number
of control structures, the deepest nesting and an estimated duration based
on a fixed cost per linear step.

Complexity ratings follow the deepest nesting:
  simple     0-1 levels
  moderate   2-3 levels
  complex    4-5 levels
  advanced   6 or more`,
		Example: `  scriptflow analyze login.yaml
  scriptflow analyze login.yaml --json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteScriptFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if err := flags.Apply(cfg); err != nil {
				return err
			}
			logger := shared.NewLogger(cfg, cmd.ErrOrStderr())

			s, err := shared.LoadScript(args[0])
			if err != nil {
				return err
			}
			a, err := shared.NewPreprocessor(cfg, logger).AnalyzeComplexity(cmd.Context(), s.Steps)
			if err != nil {
				return shared.PreprocessError(err)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), Response{
					JSONResponse: shared.NewJSONResponse("analyze", true),
					Script:       s.Name,
					Analysis:     a,
				})
			}
			return writeText(cmd.OutOrStdout(), s.Name, a)
		},
	}

	flags.Register(cmd.Flags())
	completion.RegisterPreprocessFlags(cmd)
	return cmd
}

func writeText(out io.Writer, name string, a *preprocess.ComplexityAnalysis) error {
	fmt.Fprintln(out, shared.RenderHeader("Analysis: "+name))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Original steps:\t%d\n", a.OriginalSteps)
	fmt.Fprintf(w, "Expanded steps:\t%d\n", a.ExpandedSteps)
	fmt.Fprintf(w, "Expansion ratio:\t%.2fx\n", a.ExpansionRatio)
	fmt.Fprintf(w, "Control structures:\t%d\n", a.ControlStructures)
	fmt.Fprintf(w, "Nesting depth:\t%d\n", a.NestingDepth)
	fmt.Fprintf(w, "Estimated duration:\t%s\n", a.EstimatedDuration)
	fmt.Fprintf(w, "Complexity:\t%s\n", rating(a.Rating))
	return w.Flush()
}

func rating(r ast.ComplexityRating) string {
	switch r {
	case ast.ComplexitySimple:
		return shared.Style(shared.StatusOK, string(r))
	case ast.ComplexityModerate:
		return shared.Style(shared.StatusInfo, string(r))
	case ast.ComplexityComplex:
		return shared.Style(shared.StatusWarn, string(r))
	default:
		return shared.Style(shared.StatusError, string(r))
	}
}
