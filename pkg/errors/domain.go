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

package errors

import "fmt"

// ParseErrorKind classifies structural problems found while parsing a step list.
type ParseErrorKind string

const (
	// UnmatchedMarker is an end marker with no open structure, or one whose id
	// does not match the innermost open structure.
	UnmatchedMarker ParseErrorKind = "unmatched_marker"

	// UnmatchedStructure is a structure still open at the end of input.
	UnmatchedStructure ParseErrorKind = "unmatched_structure"

	// NestingTooDeep means the open-structure stack exceeded the configured limit.
	NestingTooDeep ParseErrorKind = "nesting_too_deep"

	// InvalidMarker is a marker step missing its required parameters.
	InvalidMarker ParseErrorKind = "invalid_marker"
)

// ParseError reports a structural problem in a flat step list.
type ParseError struct {
	Kind ParseErrorKind

	// MarkerID is the structure id named by the offending marker, if any
	MarkerID string

	// StepID is the id of the offending step
	StepID string

	// Index is the position of the offending step in the input, or -1 at end of input
	Index int

	Message string

	// Hint is an optional fix, such as the closest open id
	Hint string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("parse error (%s) at step %d [%s]: %s", e.Kind, e.Index, e.StepID, e.Message)
	}
	return fmt.Sprintf("parse error (%s): %s", e.Kind, e.Message)
}

// IsUserVisible implements UserVisibleError.
func (e *ParseError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ParseError) UserMessage() string { return e.Message }

// Suggestion implements UserVisibleError.
func (e *ParseError) Suggestion() string { return e.Hint }

// ErrorType implements ErrorClassifier.
func (e *ParseError) ErrorType() string { return "parse" }

// IsRetryable implements ErrorClassifier.
func (e *ParseError) IsRetryable() bool { return false }

// ResourceErrorKind classifies exhausted or misused runtime resources.
type ResourceErrorKind string

const (
	ScopeDepthExceeded    ResourceErrorKind = "scope_depth_exceeded"
	VariableLimitExceeded ResourceErrorKind = "variable_limit_exceeded"
	GlobalScopeExit       ResourceErrorKind = "global_scope_exit"
	NotInLoopScope        ResourceErrorKind = "not_in_loop_scope"
)

// ResourceError reports a limit hit by the execution context.
type ResourceError struct {
	Kind   ResourceErrorKind
	Limit  int
	Actual int
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	switch e.Kind {
	case GlobalScopeExit:
		return "resource error: cannot exit the global scope"
	case NotInLoopScope:
		return "resource error: current scope is not a loop scope"
	default:
		return fmt.Sprintf("resource error (%s): %d exceeds limit %d", e.Kind, e.Actual, e.Limit)
	}
}

// ErrorType implements ErrorClassifier.
func (e *ResourceError) ErrorType() string { return "resource" }

// IsRetryable implements ErrorClassifier.
func (e *ResourceError) IsRetryable() bool { return false }

// UnsupportedStructureError is returned when no handler accepts a node, or a
// handler meets a child structure it cannot expand.
type UnsupportedStructureError struct {
	NodeID  string
	Kind    string
	Message string
}

// Error implements the error interface.
func (e *UnsupportedStructureError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unsupported %s structure %q: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("unsupported %s structure %q", e.Kind, e.NodeID)
}

// ErrorType implements ErrorClassifier.
func (e *UnsupportedStructureError) ErrorType() string { return "unsupported" }

// IsRetryable implements ErrorClassifier.
func (e *UnsupportedStructureError) IsRetryable() bool { return false }
