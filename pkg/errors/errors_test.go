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

package errors_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sferrors "github.com/tombee/scriptflow/pkg/errors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *sferrors.ValidationError
		wantMsg string
	}{
		{
			name:    "with field",
			err:     &sferrors.ValidationError{Field: "loop_count", Message: "must be positive"},
			wantMsg: "validation failed on loop_count: must be positive",
		},
		{
			name:    "without field",
			err:     &sferrors.ValidationError{Message: "empty script"},
			wantMsg: "validation failed: empty script",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestParseError(t *testing.T) {
	err := &sferrors.ParseError{
		Kind:     sferrors.UnmatchedMarker,
		MarkerID: "L2",
		StepID:   "end",
		Index:    4,
		Message:  `loop_end "L2" does not match open loop "L1"`,
		Hint:     `did you mean "L1"?`,
	}

	want := `parse error (unmatched_marker) at step 4 [end]: loop_end "L2" does not match open loop "L1"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	eof := &sferrors.ParseError{Kind: sferrors.UnmatchedStructure, Index: -1, Message: "loop L1 never closed"}
	if got := eof.Error(); got != "parse error (unmatched_structure): loop L1 never closed" {
		t.Errorf("Error() = %q", got)
	}

	var uv sferrors.UserVisibleError = err
	if !uv.IsUserVisible() || uv.Suggestion() != `did you mean "L1"?` {
		t.Errorf("unexpected user-visible fields: %v %q", uv.IsUserVisible(), uv.Suggestion())
	}
}

func TestResourceError(t *testing.T) {
	tests := []struct {
		err  *sferrors.ResourceError
		want string
	}{
		{&sferrors.ResourceError{Kind: sferrors.GlobalScopeExit}, "resource error: cannot exit the global scope"},
		{&sferrors.ResourceError{Kind: sferrors.NotInLoopScope}, "resource error: current scope is not a loop scope"},
		{&sferrors.ResourceError{Kind: sferrors.ScopeDepthExceeded, Limit: 20, Actual: 21}, "resource error (scope_depth_exceeded): 21 exceeds limit 20"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestUnsupportedStructureError(t *testing.T) {
	err := &sferrors.UnsupportedStructureError{NodeID: "inner", Kind: "loop", Message: "nested loops require a dedicated handler"}
	want := `unsupported loop structure "inner": nested loops require a dedicated handler`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := &sferrors.ConfigError{Key: "history.path", Reason: "cannot open", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if got := err.Error(); got != "config error at history.path: cannot open" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTimeoutError(t *testing.T) {
	err := &sferrors.TimeoutError{Operation: "step tap_1", Duration: 2 * time.Second}
	if got := err.Error(); got != "step tap_1 operation timed out after 2s" {
		t.Errorf("Error() = %q", got)
	}
	if !err.IsRetryable() {
		t.Error("timeouts are retryable")
	}
}

func TestWrap(t *testing.T) {
	if sferrors.Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	base := &sferrors.NotFoundError{Resource: "run", ID: "abc"}
	wrapped := sferrors.Wrapf(base, "loading %s", "abc")
	if wrapped.Error() != "loading abc: run not found: abc" {
		t.Errorf("Wrapf() = %q", wrapped.Error())
	}
	var nf *sferrors.NotFoundError
	if !sferrors.As(wrapped, &nf) || nf.ID != "abc" {
		t.Error("As should unwrap to NotFoundError")
	}
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", &sferrors.ParseError{Kind: sferrors.InvalidMarker}), "parse"},
		{&sferrors.ResourceError{Kind: sferrors.VariableLimitExceeded}, "resource"},
		{&sferrors.ValidationError{Message: "x"}, "validation"},
		{errors.New("plain"), "internal"},
	}
	for _, tt := range tests {
		if got := sferrors.TypeOf(tt.err); got != tt.want {
			t.Errorf("TypeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSuggestionOf(t *testing.T) {
	if got := sferrors.SuggestionOf(&sferrors.ValidationError{Message: "x", Suggestion: "use 1"}); got != "use 1" {
		t.Errorf("SuggestionOf() = %q", got)
	}
	if got := sferrors.SuggestionOf(&sferrors.ParseError{Hint: "close L1"}); got != "close L1" {
		t.Errorf("SuggestionOf() = %q", got)
	}
	if got := sferrors.SuggestionOf(errors.New("x")); got != "" {
		t.Errorf("SuggestionOf() = %q", got)
	}
}
