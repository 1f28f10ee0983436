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

package shared

import (
	"errors"
	"io/fs"

	pkgerrors "github.com/tombee/scriptflow/pkg/errors"
)

// Error codes for structured JSON output
const (
	// Script errors (E001-E099)
	ErrorCodeInvalidScript  = "E001" // Script file does not decode
	ErrorCodeParseFailed    = "E002" // Unbalanced or malformed markers
	ErrorCodeValidation     = "E003" // Handler or field validation failure
	ErrorCodeUnsupported    = "E004" // Structure no handler accepts
	ErrorCodeResourceLimits = "E005" // Nesting or variable limits exceeded

	// Execution errors (E100-E199)
	ErrorCodeStepFailed = "E103" // Step execution failed
	ErrorCodeTimeout    = "E104" // Operation timed out

	// Configuration errors (E200-E299)
	ErrorCodeInvalidConfig = "E202" // Invalid configuration

	// Input errors (E300-E399)
	ErrorCodeFileNotFound = "E303" // File not found

	// Resource errors (E400-E499)
	ErrorCodeNotFound = "E401" // Resource not found
	ErrorCodeInternal = "E402" // Internal error
)

// CodeFor maps an error chain to a JSON error code.
func CodeFor(err error) string {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrorCodeFileNotFound
	}
	switch pkgerrors.TypeOf(err) {
	case "parse":
		return ErrorCodeParseFailed
	case "validation":
		return ErrorCodeValidation
	case "unsupported":
		return ErrorCodeUnsupported
	case "resource":
		return ErrorCodeResourceLimits
	case "config":
		return ErrorCodeInvalidConfig
	case "not_found":
		return ErrorCodeNotFound
	case "timeout":
		return ErrorCodeTimeout
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.Code {
		case ExitInvalidScript:
			return ErrorCodeInvalidScript
		case ExitConfigError:
			return ErrorCodeInvalidConfig
		case ExitExecutionFailed:
			return ErrorCodeStepFailed
		}
	}
	return ErrorCodeInternal
}

// NewJSONError builds a JSONError from err.
func NewJSONError(err error) JSONError {
	return JSONError{
		Code:       CodeFor(err),
		Message:    err.Error(),
		Suggestion: pkgerrors.SuggestionOf(err),
	}
}
