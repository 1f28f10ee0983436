package scope

import "time"

// GlobalScopeID is the id of the bottom scope of every context.
const GlobalScopeID = "global"

// System variable names written by the engine and handlers.
const (
	VarLoopIteration    = "__loop_iteration"
	VarCurrentIteration = "__current_iteration"
	VarNestingLevel     = "__nesting_level"
)

// Kind discriminates ScopeType.
type Kind string

const (
	KindGlobal      Kind = "global"
	KindLoop        Kind = "loop"
	KindConditional Kind = "conditional"
	KindTryCatch    Kind = "try_catch"
)

// ScopeType is a tagged variant; only the fields of Kind are meaningful.
type ScopeType struct {
	Kind Kind `json:"kind"`

	// Loop
	LoopID           string `json:"loop_id,omitempty"`
	CurrentIteration int32  `json:"current_iteration,omitempty"`
	MaxIterations    int32  `json:"max_iterations,omitempty"`

	// Conditional
	ConditionID     string `json:"condition_id,omitempty"`
	BranchName      string `json:"branch_name,omitempty"`
	ConditionResult bool   `json:"condition_result,omitempty"`

	// TryCatch
	TryID        string `json:"try_id,omitempty"`
	InCatchBlock bool   `json:"in_catch_block,omitempty"`
}

// Global returns the global scope type.
func Global() ScopeType { return ScopeType{Kind: KindGlobal} }

// Loop returns a loop scope type positioned before its first iteration.
func Loop(loopID string, maxIterations int32) ScopeType {
	return ScopeType{Kind: KindLoop, LoopID: loopID, MaxIterations: maxIterations}
}

// Conditional returns a conditional scope type.
func Conditional(conditionID, branch string, result bool) ScopeType {
	return ScopeType{Kind: KindConditional, ConditionID: conditionID, BranchName: branch, ConditionResult: result}
}

// TryCatch returns a try/catch scope type.
func TryCatch(tryID string, inCatch bool) ScopeType {
	return ScopeType{Kind: KindTryCatch, TryID: tryID, InCatchBlock: inCatch}
}

// Scope is one frame of the execution stack. ParentID names the enclosing
// frame and is empty for the global scope.
type Scope struct {
	ID        string               `json:"scope_id"`
	Type      ScopeType            `json:"scope_type"`
	Locals    map[string]*Variable `json:"local_variables"`
	CreatedAt time.Time            `json:"created_at"`
	ParentID  string               `json:"parent_scope_id,omitempty"`
}

// VariableType is derived from the shape of a variable's value.
type VariableType string

const (
	TypeString  VariableType = "string"
	TypeNumber  VariableType = "number"
	TypeBoolean VariableType = "boolean"
	TypeArray   VariableType = "array"
	TypeObject  VariableType = "object"
	TypeNull    VariableType = "null"
)

// TypeOf classifies a JSON-like value.
func TypeOf(v any) VariableType {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case string:
		return TypeString
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return TypeNumber
	case []any, []string, []int, []float64:
		return TypeArray
	default:
		return TypeObject
	}
}

// SourceKind discriminates Source.
type SourceKind string

const (
	SourceUserDefined       SourceKind = "user_defined"
	SourceSystemBuiltin     SourceKind = "system_builtin"
	SourceStepResult        SourceKind = "step_result"
	SourceLoopIterator      SourceKind = "loop_iterator"
	SourceConditionalResult SourceKind = "conditional_result"
)

// Source records where a variable's value came from.
type Source struct {
	Kind        SourceKind `json:"kind"`
	StepID      string     `json:"step_id,omitempty"`
	ResultKey   string     `json:"result_key,omitempty"`
	LoopID      string     `json:"loop_id,omitempty"`
	ConditionID string     `json:"condition_id,omitempty"`
}

// UserDefined is the source of variables set by callers.
func UserDefined() Source { return Source{Kind: SourceUserDefined} }

// SystemBuiltin is the source of engine-managed variables.
func SystemBuiltin() Source { return Source{Kind: SourceSystemBuiltin} }

// StepResult is the source of data extracted from a step execution.
func StepResult(stepID, key string) Source {
	return Source{Kind: SourceStepResult, StepID: stepID, ResultKey: key}
}

// LoopIterator is the source of loop counters.
func LoopIterator(loopID string) Source { return Source{Kind: SourceLoopIterator, LoopID: loopID} }

// ConditionalResult is the source of evaluated branch conditions.
func ConditionalResult(conditionID string) Source {
	return Source{Kind: SourceConditionalResult, ConditionID: conditionID}
}

// Variable is a named value held in a scope.
type Variable struct {
	Name       string       `json:"name"`
	Value      any          `json:"value"`
	Type       VariableType `json:"var_type"`
	ReadOnly   bool         `json:"readonly"`
	Source     Source       `json:"source"`
	CreatedAt  time.Time    `json:"created_at"`
	ModifiedAt time.Time    `json:"modified_at"`
}

// Stats counts context activity.
type Stats struct {
	ScopesCreated    int `json:"scopes_created"`
	VariablesManaged int `json:"variables_managed"`
	VariableAccesses int `json:"variable_accesses"`
	ScopeSwitches    int `json:"scope_switches"`
}
