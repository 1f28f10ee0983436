package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/expression"
	"github.com/tombee/scriptflow/pkg/controlflow/scope"
	"github.com/tombee/scriptflow/pkg/errors"
	"github.com/tombee/scriptflow/pkg/script"
)

// ConditionalHandler linearizes if/else blocks. Both branches are emitted,
// tagged "if:<id>:then" or "if:<id>:else"; the engine evaluates the
// condition when the block is reached and skips the other branch.
type ConditionalHandler struct {
	eval   *expression.Evaluator
	logger *slog.Logger
}

// NewConditionalHandler creates a conditional handler that compiles
// conditions with eval during validation.
func NewConditionalHandler(eval *expression.Evaluator) *ConditionalHandler {
	return &ConditionalHandler{eval: eval, logger: slog.Default()}
}

// WithLogger sets the logger.
func (h *ConditionalHandler) WithLogger(logger *slog.Logger) *ConditionalHandler {
	h.logger = logger
	return h
}

// Type implements Handler.
func (h *ConditionalHandler) Type() string { return "conditional" }

// CanHandle implements Handler.
func (h *ConditionalHandler) CanHandle(node *ast.Node) bool {
	c := node.FlowType.Conditional
	return node.FlowType.Kind == ast.KindConditional && c != nil && c.Branch == ""
}

// Validate implements Handler.
func (h *ConditionalHandler) Validate(node *ast.Node) ValidationResult {
	var r ValidationResult
	if !h.CanHandle(node) {
		r.add(SeverityError, node.ID, "INVALID_NODE_TYPE",
			fmt.Sprintf("conditional handler cannot validate %s node", node.FlowType.Kind))
		return r
	}
	spec := node.FlowType.Conditional

	if spec.Condition == "" {
		r.add(SeverityError, node.ID, "MISSING_CONDITION",
			fmt.Sprintf("conditional %q has no condition", spec.ConditionID))
	} else if err := h.eval.Validate(spec.Condition); err != nil {
		r.add(SeverityError, node.ID, "INVALID_CONDITION", err.Error())
	}

	branches := sections(node, ast.KindConditional)
	total := 0
	for _, b := range branches {
		total += sectionSteps(b)
	}
	if total == 0 {
		r.add(SeverityWarning, node.ID, "EMPTY_CONDITIONAL",
			fmt.Sprintf("conditional %q has no steps in any branch", spec.ConditionID))
	}
	if len(branches) == 1 {
		r.add(SeveritySuggestion, node.ID, "NO_ELSE_BRANCH",
			fmt.Sprintf("conditional %q has no else branch; nothing runs when the condition is false", spec.ConditionID))
	}
	if d := node.Depth(); d > DeepNestingThreshold {
		r.add(SeverityWarning, node.ID, "DEEP_NESTING",
			fmt.Sprintf("conditional %q is nested %d levels deep", spec.ConditionID, d))
	}
	return r
}

// EstimateCost implements Handler. Both branches count, giving an upper bound.
func (h *ConditionalHandler) EstimateCost(node *ast.Node) CostEstimate {
	total := 0
	for _, b := range sections(node, ast.KindConditional) {
		total += sectionSteps(b)
	}
	return estimate(total, ComplexityLinear)
}

// Handle implements Handler.
func (h *ConditionalHandler) Handle(ctx context.Context, node *ast.Node, sc *scope.Context, cfg Config) (*Result, error) {
	if !h.CanHandle(node) {
		return nil, &errors.UnsupportedStructureError{NodeID: node.ID, Kind: string(node.FlowType.Kind), Message: "not a conditional block"}
	}
	spec := node.FlowType.Conditional
	start := time.Now()

	var out []ast.LinearStep
	original := 0
	for _, branch := range sections(node, ast.KindConditional) {
		name := branch.FlowType.Conditional.Branch
		if _, err := sc.EnterScope(scope.Conditional(spec.ConditionID, name, name == ast.BranchThen)); err != nil {
			return nil, err
		}
		steps, n, err := expandSection(ctx, h.logger, node, branch, sc, cfg,
			ast.IfSegment(spec.ConditionID, name),
			map[string]any{
				script.ParamConditionKey:  spec.ConditionID,
				script.ParamConditionExpr: spec.Condition,
				script.ParamBranch:        name,
			})
		if _, exitErr := sc.ExitScope(); exitErr != nil && err == nil {
			err = exitErr
		}
		if err != nil {
			return nil, err
		}
		out = append(out, steps...)
		original += n
	}

	h.logger.Debug("linearized conditional",
		"condition_id", spec.ConditionID,
		"steps", len(out))

	return &Result{
		LinearSteps: out,
		Stats: Stats{
			OriginalSteps:  original,
			ExpandedSteps:  len(out),
			ProcessingTime: time.Since(start),
		},
		Metadata: Metadata{
			HandlerType:    h.Type(),
			HandlerVersion: Version,
			ProcessedAt:    time.Now(),
			Details: map[string]any{
				"condition_id": spec.ConditionID,
				"condition":    spec.Condition,
			},
		},
	}, nil
}
