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

// UserVisibleError is an error the CLI prints as-is, followed by its
// suggestion. ParseError implements it to name the closest open marker.
type UserVisibleError interface {
	error

	// IsUserVisible is false for errors whose message only makes sense
	// with debug logs at hand.
	IsUserVisible() bool

	// UserMessage is the message without wrapping context.
	UserMessage() string

	// Suggestion is a fix to try, or "".
	Suggestion() string
}

// ErrorClassifier groups errors by category. Exit codes and JSON error
// codes are derived from ErrorType.
type ErrorClassifier interface {
	error

	// ErrorType names the category, e.g. "parse" or "not_found".
	ErrorType() string

	// IsRetryable reports whether a caller may retry. The engine itself
	// never retries.
	IsRetryable() bool
}
