package expression

import (
	"fmt"
	"maps"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/scriptflow/pkg/errors"
)

// Evaluator evaluates condition expressions. It is safe for concurrent use.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// New creates an evaluator with an empty cache.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

func functions() map[string]any {
	return map[string]any{
		"has":      hasFunc,
		"includes": hasFunc,
		"length":   lengthFunc,
	}
}

// Evaluate runs expression against vars. An empty expression is true.
func (e *Evaluator) Evaluate(expression string, vars map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, compileError(expression, err)
	}

	env := functions()
	maps.Copy(env, vars)

	result, err := expr.Run(program, env)
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "condition",
			Code:       "CONDITION_EVALUATION_FAILED",
			Message:    fmt.Sprintf("evaluating %q: %s", expression, err),
			Suggestion: "check that every referenced variable is set before the block",
		}
	}

	b, ok := result.(bool)
	if !ok {
		return false, &errors.ValidationError{
			Field:      "condition",
			Code:       "CONDITION_NOT_BOOLEAN",
			Message:    fmt.Sprintf("%q returned %T, want bool", expression, result),
			Suggestion: "use a comparison or boolean operator",
		}
	}
	return b, nil
}

// Validate compiles expression without running it.
func (e *Evaluator) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	if _, err := e.compile(expression); err != nil {
		return compileError(expression, err)
	}
	return nil
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(expression,
		expr.Env(functions()),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

func compileError(expression string, err error) error {
	return &errors.ValidationError{
		Field:      "condition",
		Code:       "INVALID_CONDITION",
		Message:    fmt.Sprintf("compiling %q: %s", expression, err),
		Suggestion: "conditions must be boolean expr-lang expressions, e.g. retries < 3",
	}
}

// CacheSize returns the number of cached programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// ClearCache drops all cached programs.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*vm.Program)
	e.mu.Unlock()
}
