package ast

import (
	"time"

	"github.com/tombee/scriptflow/pkg/script"
)

// Cost model constants.
const (
	PerStepDuration = 500 * time.Millisecond
	PerStepMemory   = 1024
)

// StepContext records where a linear step came from.
type StepContext struct {
	SourceNodeID    string  `json:"source_node_id"`
	LoopIteration   *int32  `json:"loop_iteration,omitempty"`
	ConditionalPath *string `json:"conditional_path,omitempty"`
	NestingLevel    int32   `json:"nesting_level"`
}

// Iteration returns the loop iteration, or 0 when the step is outside a loop.
func (c StepContext) Iteration() int32 {
	if c.LoopIteration == nil {
		return 0
	}
	return *c.LoopIteration
}

// Path returns the conditional path, or "".
func (c StepContext) Path() string {
	if c.ConditionalPath == nil {
		return ""
	}
	return *c.ConditionalPath
}

// LinearStep is an expanded, uniquely identified step ready for execution.
type LinearStep struct {
	Step    script.Step `json:"step"`
	Context StepContext `json:"context"`
}

// ComplexityRating buckets a plan by its deepest control-structure nesting.
type ComplexityRating string

const (
	ComplexitySimple   ComplexityRating = "simple"
	ComplexityModerate ComplexityRating = "moderate"
	ComplexityComplex  ComplexityRating = "complex"
	ComplexityAdvanced ComplexityRating = "advanced"
)

// RateComplexity maps a nesting depth to a rating.
func RateComplexity(maxNesting int) ComplexityRating {
	switch {
	case maxNesting <= 1:
		return ComplexitySimple
	case maxNesting <= 3:
		return ComplexityModerate
	case maxNesting <= 5:
		return ComplexityComplex
	default:
		return ComplexityAdvanced
	}
}

// PlanStats summarizes an execution plan.
type PlanStats struct {
	TotalSteps        int              `json:"total_steps"`
	ControlStructures StructureCounts  `json:"control_structures"`
	MaxNesting        int              `json:"max_nesting"`
	EstimatedDuration time.Duration    `json:"estimated_duration"`
	ComplexityRating  ComplexityRating `json:"complexity_rating"`
}

// ExecutionPlan is the ordered sequence of linear steps for one run.
// Conditions maps each conditional block id to its expression so the engine
// can pick branches at run time.
type ExecutionPlan struct {
	Steps      []LinearStep      `json:"steps"`
	Stats      PlanStats         `json:"stats"`
	Conditions map[string]string `json:"conditions,omitempty"`
}

// NewPlan builds a plan from steps and computes its statistics from root.
func NewPlan(root *Node, steps []LinearStep) *ExecutionPlan {
	nesting := MaxNesting(root)
	conditions := make(map[string]string)
	root.Walk(func(n *Node, _ int) bool {
		if c := n.FlowType.Conditional; c != nil && c.Branch == "" {
			conditions[c.ConditionID] = c.Condition
		}
		return true
	})
	return &ExecutionPlan{
		Steps:      steps,
		Conditions: conditions,
		Stats: PlanStats{
			TotalSteps:        len(steps),
			ControlStructures: CountStructures(root),
			MaxNesting:        nesting,
			EstimatedDuration: time.Duration(len(steps)) * PerStepDuration,
			ComplexityRating:  RateComplexity(nesting),
		},
	}
}

// AutomationSteps returns the plan's steps with context discarded.
func (p *ExecutionPlan) AutomationSteps() []script.Step {
	out := make([]script.Step, len(p.Steps))
	for i, ls := range p.Steps {
		out[i] = ls.Step
	}
	return out
}

// IDs returns the step ids in plan order.
func (p *ExecutionPlan) IDs() []string {
	out := make([]string, len(p.Steps))
	for i, ls := range p.Steps {
		out[i] = ls.Step.ID
	}
	return out
}
