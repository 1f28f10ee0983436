package engine

import (
	"fmt"
	"time"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/scope"
	"github.com/tombee/scriptflow/pkg/script"
)

// Failure codes recorded in ExecutionError.
const (
	CodeStepFailed = "STEP_EXECUTION_FAILED"
)

// Outcome is the fate of one linear step.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeHandled is a failure inside a try section
	OutcomeHandled Outcome = "handled"
	OutcomeSkipped Outcome = "skipped"
)

// StepRecord is the execution record of one linear step.
type StepRecord struct {
	Step     script.Step     `json:"step"`
	Context  ast.StepContext `json:"context"`
	Outcome  Outcome         `json:"outcome"`
	Result   *StepResult     `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// ExecutionError describes a failed step.
type ExecutionError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	StepID    string    `json:"step_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Handled is set when an enclosing try block absorbed the failure
	Handled bool `json:"handled,omitempty"`
}

// Stats summarizes one run.
type Stats struct {
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	TotalDuration time.Duration `json:"total_duration"`

	// Total is the number of steps in the plan
	Total       int `json:"total"`
	Successful  int `json:"successful"`
	Failed      int `json:"failed"`
	Handled     int `json:"handled"`
	Skipped     int `json:"skipped"`
	NotExecuted int `json:"not_executed"`

	MinStep    time.Duration `json:"min_step"`
	MaxStep    time.Duration `json:"max_step"`
	AvgStep    time.Duration `json:"avg_step"`
	Throughput float64       `json:"throughput"`
}

// Executed returns the number of steps the executor was invoked for.
func (s Stats) Executed() int { return s.Successful + s.Failed + s.Handled }

// Result is the report of one ExecutePlan call.
type Result struct {
	RunID        string           `json:"run_id"`
	Success      bool             `json:"success"`
	State        State            `json:"state"`
	StepResults  []StepRecord     `json:"step_results"`
	Stats        Stats            `json:"stats"`
	Errors       []ExecutionError `json:"errors,omitempty"`
	FinalContext *scope.Context   `json:"-"`
}

// Summary returns a one-line description of the run.
func (r *Result) Summary() string {
	status := "succeeded"
	if !r.Success {
		status = fmt.Sprintf("failed: %d step(s) failed", r.Stats.Failed)
	}
	return fmt.Sprintf("run %s %s (%d ok, %d failed, %d handled, %d skipped, %d not executed) in %s",
		r.RunID, status,
		r.Stats.Successful, r.Stats.Failed, r.Stats.Handled, r.Stats.Skipped, r.Stats.NotExecuted,
		r.Stats.TotalDuration.Round(time.Millisecond))
}

// EngineStats accumulates over every run of an Engine.
type EngineStats struct {
	PlansExecuted int64         `json:"plans_executed"`
	StepsExecuted int64         `json:"steps_executed"`
	Successful    int64         `json:"successful"`
	Failed        int64         `json:"failed"`
	TotalTime     time.Duration `json:"total_time"`
	AvgStepTime   time.Duration `json:"avg_step_time"`
}
