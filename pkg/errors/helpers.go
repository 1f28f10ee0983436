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

import (
	"errors"
	"fmt"
)

// Wrap annotates err with a message. Returns nil if err is nil.
//
//	if err := p.Parse(steps); err != nil {
//	    return errors.Wrap(err, "parsing script")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf annotates err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is wraps errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As from the standard library.
//
//	var perr *ParseError
//	if errors.As(err, &perr) && perr.Kind == UnmatchedMarker {
//	    ...
//	}
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap wraps errors.Unwrap from the standard library.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// New wraps errors.New from the standard library.
func New(message string) error {
	return errors.New(message)
}

// TypeOf returns the ErrorType of the first ErrorClassifier in err's chain,
// or "internal" if there is none.
func TypeOf(err error) string {
	var c ErrorClassifier
	if errors.As(err, &c) {
		return c.ErrorType()
	}
	return "internal"
}

// SuggestionOf returns the suggestion carried by err's chain, if any.
func SuggestionOf(err error) string {
	var uv UserVisibleError
	if errors.As(err, &uv) {
		return uv.Suggestion()
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Suggestion
	}
	return ""
}
