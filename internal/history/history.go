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
// Package history records finished script runs in a SQLite database.
package history

import (
	"time"

	"github.com/tombee/scriptflow/pkg/controlflow/engine"
)

// Run is one stored execution.
type Run struct {
	ID      string       `json:"id"`
	Script  string       `json:"script"`
	State   engine.State `json:"state"`
	Success bool         `json:"success"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	Total       int `json:"total"`
	Successful  int `json:"successful"`
	Failed      int `json:"failed"`
	Handled     int `json:"handled"`
	Skipped     int `json:"skipped"`
	NotExecuted int `json:"not_executed"`

	Errors    []engine.ExecutionError `json:"errors,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

// Step is the stored record of one linear step.
type Step struct {
	RunID          string         `json:"run_id"`
	Index          int            `json:"index"`
	StepID         string         `json:"step_id"`
	OriginalStepID string         `json:"original_step_id"`
	Type           string         `json:"step_type"`
	Outcome        engine.Outcome `json:"outcome"`
	Iteration      int32          `json:"iteration,omitempty"`
	Path           string         `json:"path,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Error          string         `json:"error,omitempty"`
	Duration       time.Duration  `json:"duration"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Script string
	State  engine.State

	// FailedOnly keeps runs that did not succeed.
	FailedOnly bool

	Limit  int
	Offset int
}

// FromResult converts an engine result into storable records.
func FromResult(scriptName string, res *engine.Result) (*Run, []Step) {
	run := &Run{
		ID:          res.RunID,
		Script:      scriptName,
		State:       res.State,
		Success:     res.Success,
		StartedAt:   res.Stats.Start,
		FinishedAt:  res.Stats.End,
		Duration:    res.Stats.TotalDuration,
		Total:       res.Stats.Total,
		Successful:  res.Stats.Successful,
		Failed:      res.Stats.Failed,
		Handled:     res.Stats.Handled,
		Skipped:     res.Stats.Skipped,
		NotExecuted: res.Stats.NotExecuted,
		Errors:      res.Errors,
	}

	steps := make([]Step, 0, len(res.StepResults))
	for i, rec := range res.StepResults {
		steps = append(steps, Step{
			RunID:          res.RunID,
			Index:          i,
			StepID:         rec.Step.ID,
			OriginalStepID: rec.Step.OriginalID(),
			Type:           string(rec.Step.Type),
			Outcome:        rec.Outcome,
			Iteration:      rec.Context.Iteration(),
			Path:           rec.Context.Path(),
			Reason:         rec.Reason,
			Error:          rec.Error,
			Duration:       rec.Duration,
		})
	}
	return run, steps
}
