package engine

import (
	"context"

	"github.com/tombee/scriptflow/pkg/script"
)

// StepResult is what a StepExecutor reports for one step.
type StepResult struct {
	// Success is false when the step ran but did not achieve its goal
	Success bool `json:"success"`

	// Message is a human-readable outcome
	Message string `json:"message,omitempty"`

	// Data holds extracted values; each key becomes a run variable
	Data map[string]any `json:"data,omitempty"`
}

// StepExecutor performs a single step. Returning an error, or a result with
// Success false, marks the step failed.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step script.Step) (*StepResult, error)
}

// StepExecutorFunc adapts a function to StepExecutor.
type StepExecutorFunc func(ctx context.Context, step script.Step) (*StepResult, error)

// ExecuteStep implements StepExecutor.
func (f StepExecutorFunc) ExecuteStep(ctx context.Context, step script.Step) (*StepResult, error) {
	return f(ctx, step)
}
