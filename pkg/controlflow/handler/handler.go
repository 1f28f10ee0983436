// Package handler expands control-structure nodes into linear steps.
//
// Each structure kind is served by a Handler. Handlers are held in an
// explicit Registry owned by the engine; adding a structure kind means
// implementing Handler and registering it, never changing the engine.
package handler

import (
	"context"
	"time"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/scope"
)

// Version is reported in handler result metadata.
const Version = "1.0.0"

// DefaultInfiniteLoopCap bounds infinite loops when Config.InfiniteLoopCap is unset.
const DefaultInfiniteLoopCap = 1000

// Severity ranks validation issues.
type Severity string

const (
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeverityInfo       Severity = "info"
	SeveritySuggestion Severity = "suggestion"
)

// Issue is a single validation finding.
type Issue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
	Severity Severity `json:"severity"`
}

// ValidationResult collects the findings for one node. Only Errors are fatal.
type ValidationResult struct {
	Errors      []Issue `json:"errors,omitempty"`
	Warnings    []Issue `json:"warnings,omitempty"`
	Suggestions []Issue `json:"suggestions,omitempty"`
}

// Valid reports whether there are no errors.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) add(sev Severity, nodeID, code, msg string) {
	issue := Issue{Code: code, Message: msg, NodeID: nodeID, Severity: sev}
	switch sev {
	case SeverityError:
		r.Errors = append(r.Errors, issue)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, issue)
	default:
		r.Suggestions = append(r.Suggestions, issue)
	}
}

// Complexity classes reported by EstimateCost.
const (
	ComplexityLinear    = "O(n)"
	ComplexityQuadratic = "O(n^2)"
)

// CostEstimate predicts the cost of executing a node's expansion.
type CostEstimate struct {
	TotalSteps      int           `json:"total_steps"`
	ExecutionTime   time.Duration `json:"execution_time"`
	MemoryBytes     int64         `json:"memory_bytes"`
	ComplexityClass string        `json:"complexity_class"`
	Parallelizable  bool          `json:"parallelizable"`
}

func estimate(totalSteps int, class string) CostEstimate {
	return CostEstimate{
		TotalSteps:      totalSteps,
		ExecutionTime:   time.Duration(totalSteps) * ast.PerStepDuration,
		MemoryBytes:     int64(totalSteps) * ast.PerStepMemory,
		ComplexityClass: class,
	}
}

// Stats describes one Handle call.
type Stats struct {
	OriginalSteps       int           `json:"original_steps"`
	ExpandedSteps       int           `json:"expanded_steps"`
	ProcessingTime      time.Duration `json:"processing_time"`
	OptimizationApplied bool          `json:"optimization_applied"`
	StepsMerged         int           `json:"steps_merged,omitempty"`
}

// Metadata describes the handler that produced a Result.
type Metadata struct {
	HandlerType    string         `json:"handler_type"`
	HandlerVersion string         `json:"handler_version"`
	ProcessedAt    time.Time      `json:"processed_at"`
	Details        map[string]any `json:"details,omitempty"`
}

// Result is the output of Handle.
type Result struct {
	LinearSteps []ast.LinearStep `json:"linear_steps"`
	Stats       Stats            `json:"stats"`
	Metadata    Metadata         `json:"metadata"`
}

// DispatchFunc linearizes an arbitrary node. Handlers use it to expand
// nested structures they do not handle themselves.
type DispatchFunc func(ctx context.Context, node *ast.Node, sc *scope.Context) ([]ast.LinearStep, error)

// Config is passed to every Handle call.
type Config struct {
	// EnableOptimization merges adjacent identical wait steps
	EnableOptimization bool `yaml:"enable_optimization" json:"enable_optimization"`

	// InfiniteLoopCap is the iteration count used for infinite loops
	InfiniteLoopCap int32 `yaml:"infinite_loop_cap" json:"infinite_loop_cap"`

	// AllowNestedLoops lets the loop handler expand loop children through
	// Dispatch. When false a nested loop is an UnsupportedStructureError.
	AllowNestedLoops bool `yaml:"allow_nested_loops" json:"allow_nested_loops"`

	// Timeout bounds a single Handle call; zero means no limit
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Dispatch expands child structures. Without it, non-loop children are
	// skipped with a warning.
	Dispatch DispatchFunc `yaml:"-" json:"-"`
}

// DefaultConfig returns the handler defaults. Wait merging is off, so a
// loop of N iterations over M steps yields N*M steps.
func DefaultConfig() Config {
	return Config{
		InfiniteLoopCap: DefaultInfiniteLoopCap,
		Timeout:         5 * time.Minute,
	}
}

func (c Config) infiniteCap() int32 {
	if c.InfiniteLoopCap > 0 {
		return c.InfiniteLoopCap
	}
	return DefaultInfiniteLoopCap
}

// Handler expands one kind of control structure.
type Handler interface {
	// Type is the registry key, e.g. "loop"
	Type() string

	// CanHandle reports whether node is a structure this handler expands
	CanHandle(node *ast.Node) bool

	// Validate checks node without expanding it
	Validate(node *ast.Node) ValidationResult

	// EstimateCost predicts the size and duration of node's expansion
	EstimateCost(node *ast.Node) CostEstimate

	// Handle expands node into linear steps
	Handle(ctx context.Context, node *ast.Node, sc *scope.Context, cfg Config) (*Result, error)
}
