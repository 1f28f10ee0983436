// Package jq compiles and runs the jq queries that shape step executor
// responses into step data.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds a single query run
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the largest JSON input accepted (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Variables available to every query.
var variableNames = []string{"$step_id", "$step_type", "$iteration"}

// Vars are the values bound to the query variables for one run.
type Vars struct {
	StepID    string
	StepType  string
	Iteration int
}

func (v Vars) values() []any {
	return []any{v.StepID, v.StepType, v.Iteration}
}

// Query is a compiled jq expression. It is safe for concurrent use.
type Query struct {
	source       string
	code         *gojq.Code
	timeout      time.Duration
	maxInputSize int64
}

// Compile parses and compiles expression. An empty expression yields a
// query that returns its input unchanged.
func Compile(expression string) (*Query, error) {
	q := &Query{
		source:       expression,
		timeout:      DefaultTimeout,
		maxInputSize: DefaultMaxInputSize,
	}
	if expression == "" {
		return q, nil
	}

	parsed, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(parsed, gojq.WithVariables(variableNames))
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}
	q.code = code
	return q, nil
}

// Validate reports whether expression compiles.
func Validate(expression string) error {
	_, err := Compile(expression)
	return err
}

// WithLimits returns a copy of q with a different timeout and input limit.
// Zero values keep the defaults.
func (q *Query) WithLimits(timeout time.Duration, maxInputSize int64) *Query {
	c := *q
	if timeout > 0 {
		c.timeout = timeout
	}
	if maxInputSize > 0 {
		c.maxInputSize = maxInputSize
	}
	return &c
}

// String returns the source expression.
func (q *Query) String() string { return q.source }

// Run evaluates the query against data. A single result is returned as is,
// several results as a slice and no result as nil.
func (q *Query) Run(ctx context.Context, data any, vars Vars) (any, error) {
	if q.code == nil {
		return data, nil
	}
	if err := q.validateInputSize(data); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	iter := q.code.RunWithContext(runCtx, data, vars.values()...)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if runCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("execution timeout after %v", q.timeout)
			}
			return nil, err
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// RunObject runs the query and requires an object (or null) result.
func (q *Query) RunObject(ctx context.Context, data any, vars Vars) (map[string]any, error) {
	v, err := q.Run(ctx, data, vars)
	if err != nil {
		return nil, err
	}
	switch out := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return out, nil
	}
	return nil, fmt.Errorf("jq query %q produced %T, want an object", q.source, v)
}

// validateInputSize checks if the data size is within limits.
func (q *Query) validateInputSize(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if int64(len(jsonData)) > q.maxInputSize {
		return fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)",
			len(jsonData), q.maxInputSize)
	}
	return nil
}

// Normalize round-trips v through JSON so that it only holds the types gojq
// accepts (map[string]any, []any, float64, string, bool, nil).
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
