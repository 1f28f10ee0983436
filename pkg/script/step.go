// Package script defines the automation step record consumed by the
// control-flow engine and reads script files from disk.
//
// A script is a flat, ordered list of steps. Most steps are opaque actions
// handed to a step executor; a small set of marker types delimit loops,
// conditionals and try/catch blocks.
package script

import "maps"

// StepType is a caller-defined tag. The engine only interprets the marker
// types below; every other value is an opaque leaf.
type StepType string

const (
	// StepTypeLoopStart opens a loop. Parameters: loop_id, loop_count, is_infinite_loop.
	StepTypeLoopStart StepType = "loop_start"

	// StepTypeLoopEnd closes the loop named by its loop_id parameter.
	StepTypeLoopEnd StepType = "loop_end"

	// StepTypeIfStart opens a conditional. Parameters: condition_id, condition.
	StepTypeIfStart StepType = "if_start"

	// StepTypeElse starts the else branch of the conditional named by condition_id.
	StepTypeElse StepType = "else"

	// StepTypeIfEnd closes the conditional named by condition_id.
	StepTypeIfEnd StepType = "if_end"

	// StepTypeTryStart opens a try block. Parameters: try_id.
	StepTypeTryStart StepType = "try_start"

	// StepTypeCatch starts the catch section of the try block named by try_id.
	StepTypeCatch StepType = "catch"

	// StepTypeTryEnd closes the try block named by try_id.
	StepTypeTryEnd StepType = "try_end"

	// StepTypeWait pauses for parameters["duration"] milliseconds.
	StepTypeWait StepType = "wait"
)

// Marker parameter keys.
const (
	ParamLoopID      = "loop_id"
	ParamLoopCount   = "loop_count"
	ParamInfinite    = "is_infinite_loop"
	ParamConditionID = "condition_id"
	ParamCondition   = "condition"
	ParamTryID       = "try_id"
	ParamDuration    = "duration"
)

// Synthetic parameter keys injected during expansion.
const (
	ParamLoopIteration  = "__loop_iteration"
	ParamLoopNodeID     = "__loop_node_id"
	ParamOriginalStepID = "__original_step_id"
	ParamExpandedAt     = "__expanded_at"
	ParamBranch         = "__branch"
	ParamConditionExpr  = "__condition"
	ParamConditionKey   = "__condition_id"
	ParamTryKey         = "__try_id"
)

// IsMarker reports whether t delimits a control structure.
func (t StepType) IsMarker() bool {
	switch t {
	case StepTypeLoopStart, StepTypeLoopEnd,
		StepTypeIfStart, StepTypeElse, StepTypeIfEnd,
		StepTypeTryStart, StepTypeCatch, StepTypeTryEnd:
		return true
	}
	return false
}

// Step is a single automation step.
type Step struct {
	// ID uniquely identifies the step within a script
	ID string `yaml:"id" json:"id"`

	// Name is the display name
	Name string `yaml:"name" json:"name"`

	// Type is the caller-defined step tag
	Type StepType `yaml:"step_type" json:"step_type"`

	// Description is free text shown in plans
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Parameters is the structured payload passed to the step executor
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Enabled is carried through untouched; disabled steps are still expanded
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Order is the position of the step in its list
	Order int `yaml:"order" json:"order"`
}

// Clone returns a copy of s whose Parameters can be mutated without
// affecting s.
func (s Step) Clone() Step {
	c := s
	c.Parameters = cloneMap(s.Parameters)
	return c
}

// Param returns parameters[key] and whether it was present.
func (s Step) Param(key string) (any, bool) {
	if s.Parameters == nil {
		return nil, false
	}
	v, ok := s.Parameters[key]
	return v, ok
}

// OriginalID returns the id the step had before loop expansion.
func (s Step) OriginalID() string {
	if v, ok := s.Param(ParamOriginalStepID); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return s.ID
}

// SetParam writes a parameter, allocating the map if needed.
func (s *Step) SetParam(key string, value any) {
	if s.Parameters == nil {
		s.Parameters = make(map[string]any)
	}
	s.Parameters[key] = value
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
