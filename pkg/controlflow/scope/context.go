// Package scope implements the execution context: a stack of lexical scopes
// holding variables, with the global scope at the bottom.
//
// A Context is owned by a single execution run and is not safe for
// concurrent use.
package scope

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/scriptflow/pkg/errors"
)

// Defaults for Config.
const (
	DefaultMaxVariables  = 1000
	DefaultMaxScopeDepth = 20
	DefaultVariableTTL   = time.Hour
)

// Config bounds a Context.
type Config struct {
	// MaxVariables caps the number of variables across all scopes
	MaxVariables int `yaml:"max_variables" json:"max_variables"`

	// MaxScopeDepth caps the stack length, global scope included
	MaxScopeDepth int `yaml:"max_scope_depth" json:"max_scope_depth"`

	// VariableTTL is the age after which CleanupExpiredVariables drops a
	// variable. Zero disables expiry.
	VariableTTL time.Duration `yaml:"variable_ttl" json:"variable_ttl"`
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxVariables:  DefaultMaxVariables,
		MaxScopeDepth: DefaultMaxScopeDepth,
		VariableTTL:   DefaultVariableTTL,
	}
}

// Option configures a Context.
type Option func(*Context)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Context) {
		c.now = now
	}
}

// WithLogger sets the logger used for scope transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		c.logger = logger
	}
}

// Context is the execution context of one run.
type Context struct {
	config Config
	stack  []*Scope
	stats  Stats
	now    func() time.Time
	logger *slog.Logger
}

// New creates a context holding only the global scope.
func New(cfg Config, opts ...Option) *Context {
	c := &Context{
		config: cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stack = []*Scope{{
		ID:        GlobalScopeID,
		Type:      Global(),
		Locals:    make(map[string]*Variable),
		CreatedAt: c.now(),
	}}
	return c
}

// Config returns the context's limits.
func (c *Context) Config() Config { return c.config }

// EnterScope pushes a new scope and returns its id.
func (c *Context) EnterScope(t ScopeType) (string, error) {
	if c.config.MaxScopeDepth > 0 && len(c.stack)+1 > c.config.MaxScopeDepth {
		return "", &errors.ResourceError{
			Kind:   errors.ScopeDepthExceeded,
			Limit:  c.config.MaxScopeDepth,
			Actual: len(c.stack) + 1,
		}
	}

	id := fmt.Sprintf("scope_%d", c.stats.ScopesCreated+1)
	c.stack = append(c.stack, &Scope{
		ID:        id,
		Type:      t,
		Locals:    make(map[string]*Variable),
		CreatedAt: c.now(),
		ParentID:  c.CurrentScope().ID,
	})
	c.stats.ScopesCreated++
	c.stats.ScopeSwitches++

	c.logger.Debug("entered scope", "scope_id", id, "kind", t.Kind, "depth", len(c.stack))
	return id, nil
}

// EnterLoopScope pushes a loop scope positioned before its first iteration.
func (c *Context) EnterLoopScope(loopID string, maxIterations int32) (string, error) {
	return c.EnterScope(Loop(loopID, maxIterations))
}

// ExitScope pops the innermost scope. The global scope cannot be popped.
func (c *Context) ExitScope() (*Scope, error) {
	if len(c.stack) <= 1 {
		return nil, &errors.ResourceError{Kind: errors.GlobalScopeExit}
	}
	top := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	c.stats.ScopeSwitches++

	c.logger.Debug("exited scope", "scope_id", top.ID, "kind", top.Type.Kind, "depth", len(c.stack))
	return top, nil
}

// CurrentScope returns the innermost scope.
func (c *Context) CurrentScope() *Scope {
	return c.stack[len(c.stack)-1]
}

// CurrentDepth returns the stack length; 1 when only the global scope is open.
func (c *Context) CurrentDepth() int32 {
	return int32(len(c.stack))
}

// Scope returns the open scope with the given id.
func (c *Context) Scope(id string) (*Scope, bool) {
	for _, s := range c.stack {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// SetVariable writes a variable into the innermost scope, which is the
// global scope when no other scope is open.
func (c *Context) SetVariable(name string, value any, source Source) error {
	return c.set(name, value, source, false)
}

// SetReadOnlyVariable is SetVariable for values callers must not overwrite.
func (c *Context) SetReadOnlyVariable(name string, value any, source Source) error {
	return c.set(name, value, source, true)
}

func (c *Context) set(name string, value any, source Source, readOnly bool) error {
	target := c.CurrentScope()
	now := c.now()

	if existing, ok := target.Locals[name]; ok {
		if existing.ReadOnly && !readOnly {
			return &errors.ValidationError{
				Field:      name,
				Code:       "READ_ONLY_VARIABLE",
				Message:    fmt.Sprintf("variable %q is read-only in scope %s", name, target.ID),
				Suggestion: "use a different variable name",
			}
		}
		existing.Value = value
		existing.Type = TypeOf(value)
		existing.Source = source
		existing.ReadOnly = readOnly
		existing.ModifiedAt = now
		c.stats.VariablesManaged++
		return nil
	}

	if total := c.variableCount(); c.config.MaxVariables > 0 && total >= c.config.MaxVariables {
		return &errors.ResourceError{
			Kind:   errors.VariableLimitExceeded,
			Limit:  c.config.MaxVariables,
			Actual: total + 1,
		}
	}

	target.Locals[name] = &Variable{
		Name:       name,
		Value:      value,
		Type:       TypeOf(value),
		ReadOnly:   readOnly,
		Source:     source,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	c.stats.VariablesManaged++
	return nil
}

// GetVariable searches from the innermost scope outward.
func (c *Context) GetVariable(name string) (*Variable, bool) {
	c.stats.VariableAccesses++
	for i := len(c.stack) - 1; i >= 0; i-- {
		if v, ok := c.stack[i].Locals[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Value is GetVariable returning only the value.
func (c *Context) Value(name string) (any, bool) {
	v, ok := c.GetVariable(name)
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// RemoveVariable deletes name from the innermost scope, or failing that
// from the global scope.
func (c *Context) RemoveVariable(name string) bool {
	if _, ok := c.CurrentScope().Locals[name]; ok {
		delete(c.CurrentScope().Locals, name)
		return true
	}
	if _, ok := c.stack[0].Locals[name]; ok {
		delete(c.stack[0].Locals, name)
		return true
	}
	return false
}

// CleanupExpiredVariables drops variables created more than VariableTTL ago
// and returns how many were removed.
func (c *Context) CleanupExpiredVariables() int {
	if c.config.VariableTTL <= 0 {
		return 0
	}
	cutoff := c.now().Add(-c.config.VariableTTL)
	removed := 0
	for _, s := range c.stack {
		for name, v := range s.Locals {
			if !v.CreatedAt.After(cutoff) {
				delete(s.Locals, name)
				removed++
			}
		}
	}
	if removed > 0 {
		c.logger.Debug("expired variables removed", "count", removed)
	}
	return removed
}

// UpdateLoopIteration records the current iteration on the innermost scope,
// which must be a loop scope, and rewrites its read-only __loop_iteration.
func (c *Context) UpdateLoopIteration(iteration int32) error {
	s := c.CurrentScope()
	if s.Type.Kind != KindLoop {
		return &errors.ResourceError{Kind: errors.NotInLoopScope}
	}
	s.Type.CurrentIteration = iteration
	return c.set(VarLoopIteration, iteration, LoopIterator(s.Type.LoopID), true)
}

// VisibleVariables flattens the stack; inner scopes shadow outer ones.
func (c *Context) VisibleVariables() map[string]*Variable {
	out := make(map[string]*Variable)
	for _, s := range c.stack {
		for name, v := range s.Locals {
			out[name] = v
		}
	}
	return out
}

// Snapshot returns the visible variable values keyed by name.
func (c *Context) Snapshot() map[string]any {
	vars := c.VisibleVariables()
	out := make(map[string]any, len(vars))
	for name, v := range vars {
		out[name] = v.Value
	}
	return out
}

// Stats returns a copy of the activity counters.
func (c *Context) Stats() Stats { return c.stats }

func (c *Context) variableCount() int {
	n := 0
	for _, s := range c.stack {
		n += len(s.Locals)
	}
	return n
}
