package handler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/expression"
)

// Registry maps structure kinds to handlers. Lookup by node follows
// registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// NewDefaultRegistry returns a registry holding the loop, conditional and
// try/catch handlers.
func NewDefaultRegistry(logger *slog.Logger, eval *expression.Evaluator) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if eval == nil {
		eval = expression.New()
	}
	r := NewRegistry()
	// Fixed, distinct names cannot collide.
	_ = r.Register(NewLoopHandler().WithLogger(logger))
	_ = r.Register(NewConditionalHandler(eval).WithLogger(logger))
	_ = r.Register(NewTryCatchHandler().WithLogger(logger))
	return r
}

// Register adds h under h.Type(). Registering the same type twice fails.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.Type()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("handler %q already registered", name)
	}
	r.handlers[name] = h
	r.order = append(r.order, name)
	return nil
}

// Replace registers h, overwriting any handler of the same type in place.
func (r *Registry) Replace(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.Type()
	if _, ok := r.handlers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.handlers[name] = h
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Find returns the first handler, in registration order, that can handle node.
func (r *Registry) Find(node *ast.Node) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if h := r.handlers[name]; h.CanHandle(node) {
			return h, true
		}
	}
	return nil, false
}

// Names returns registered handler types in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
