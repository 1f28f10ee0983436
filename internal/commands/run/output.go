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

package run

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/pkg/controlflow/engine"
)

// Response is the JSON output of run.
type Response struct {
	shared.JSONResponse
	RunID  string                  `json:"run_id"`
	Script string                  `json:"script"`
	State  engine.State            `json:"state"`
	Stats  engine.Stats            `json:"stats"`
	Steps  []engine.StepRecord     `json:"steps"`
	Errors []engine.ExecutionError `json:"errors,omitempty"`
}

func newResponse(scriptName string, res *engine.Result) Response {
	return Response{
		JSONResponse: shared.NewJSONResponse("run", res.Success),
		RunID:        res.RunID,
		Script:       scriptName,
		State:        res.State,
		Stats:        res.Stats,
		Steps:        res.StepResults,
		Errors:       res.Errors,
	}
}

// writeText prints one line per step followed by the run statistics.
// Skipped steps are listed only in verbose mode.
func writeText(out io.Writer, scriptName string, res *engine.Result, verbose bool) {
	fmt.Fprintln(out, shared.RenderHeader(fmt.Sprintf("Run %s: %s", res.RunID, scriptName)))
	for _, rec := range res.StepResults {
		if line := stepLine(rec, verbose); line != "" {
			fmt.Fprintln(out, "  "+line)
		}
	}
	displayStats(out, res)
}

func stepLine(rec engine.StepRecord, verbose bool) string {
	id := rec.Step.ID
	took := shared.RenderLabel(rec.Duration.Round(time.Millisecond).String())
	switch rec.Outcome {
	case engine.OutcomeSucceeded:
		msg := ""
		if verbose && rec.Result != nil && rec.Result.Message != "" {
			msg = " " + shared.RenderLabel(rec.Result.Message)
		}
		return fmt.Sprintf("%s %s%s", shared.RenderOK(id), took, msg)
	case engine.OutcomeHandled:
		return fmt.Sprintf("%s %s %s", shared.RenderWarn(id), shared.RenderLabel("(handled)"), rec.Error)
	case engine.OutcomeFailed:
		return fmt.Sprintf("%s %s", shared.RenderError(id), rec.Error)
	case engine.OutcomeSkipped:
		if !verbose {
			return ""
		}
		return shared.RenderInfo(fmt.Sprintf("%s %s", id, shared.RenderLabel("skipped: "+rec.Reason)))
	}
	return ""
}

// displayStats prints the run totals.
func displayStats(out io.Writer, res *engine.Result) {
	st := res.Stats
	fmt.Fprintln(out, "\n---")

	parts := []string{fmt.Sprintf("Steps: %d/%d executed", st.Executed(), st.Total)}
	parts = append(parts, fmt.Sprintf("%d ok", st.Successful))
	if st.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", st.Failed))
	}
	if st.Handled > 0 {
		parts = append(parts, fmt.Sprintf("%d handled", st.Handled))
	}
	if st.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", st.Skipped))
	}
	if st.NotExecuted > 0 {
		parts = append(parts, fmt.Sprintf("%d not executed", st.NotExecuted))
	}
	parts = append(parts, fmt.Sprintf("Time: %.1fs", st.TotalDuration.Seconds()))
	fmt.Fprintln(out, strings.Join(parts, " | "))

	if res.Success {
		fmt.Fprintln(out, shared.RenderOK("Run succeeded"))
		return
	}
	fmt.Fprintln(out, shared.RenderError(fmt.Sprintf("Run failed (%s)", res.State)))
	for _, e := range res.Errors {
		if e.Handled {
			continue
		}
		fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel(e.StepID+":"), e.Message)
	}
}
