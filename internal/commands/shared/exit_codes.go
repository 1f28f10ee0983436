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
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/tombee/scriptflow/pkg/errors"
)

// Exit codes shared by every command
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitInvalidScript   = 2
	ExitConfigError     = 3
)

// ExitError is an error that carries an exit code. An empty Message means
// the command already reported the problem.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for failed runs
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitExecutionFailed,
		Message: msg,
		Cause:   cause,
	}
}

// NewInvalidScriptError creates an error for scripts that do not load or parse
func NewInvalidScriptError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidScript,
		Message: msg,
		Cause:   cause,
	}
}

// NewConfigError creates an error for unusable configuration
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitConfigError,
		Message: msg,
		Cause:   cause,
	}
}

// Silent returns an ExitError with code and no message, for failures the
// command has already printed.
func Silent(code int) *ExitError {
	return &ExitError{Code: code}
}

// HandleExitError prints err with its suggestion and exits with the
// matching code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(reportError(os.Stderr, err))
}

// reportError writes err to w and returns the exit code.
func reportError(w io.Writer, err error) int {
	code := ExitExecutionFailed
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
		if exitErr.Message == "" && exitErr.Cause == nil {
			return code
		}
	}

	fmt.Fprintln(w, "Error:", err.Error())
	if suggestion := pkgerrors.SuggestionOf(err); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
	return code
}

// PreprocessError maps a preprocessing failure onto an exit code. Problems
// in the script itself exit with ExitInvalidScript.
func PreprocessError(err error) *ExitError {
	switch pkgerrors.TypeOf(err) {
	case "parse", "validation", "unsupported", "resource":
		return NewInvalidScriptError("cannot preprocess script", err)
	}
	return NewExecutionError("cannot preprocess script", err)
}
