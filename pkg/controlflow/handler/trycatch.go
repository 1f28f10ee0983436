package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/scope"
	"github.com/tombee/scriptflow/pkg/errors"
	"github.com/tombee/scriptflow/pkg/script"
)

// TryCatchHandler linearizes try/catch blocks. Try steps are tagged
// "try:<id>" and catch steps "catch:<id>"; the engine runs the catch
// section only after a try step fails.
type TryCatchHandler struct {
	logger *slog.Logger
}

// NewTryCatchHandler creates a try/catch handler.
func NewTryCatchHandler() *TryCatchHandler {
	return &TryCatchHandler{logger: slog.Default()}
}

// WithLogger sets the logger.
func (h *TryCatchHandler) WithLogger(logger *slog.Logger) *TryCatchHandler {
	h.logger = logger
	return h
}

// Type implements Handler.
func (h *TryCatchHandler) Type() string { return "try_catch" }

// CanHandle implements Handler.
func (h *TryCatchHandler) CanHandle(node *ast.Node) bool {
	t := node.FlowType.TryCatch
	return node.FlowType.Kind == ast.KindTryCatch && t != nil && t.Section == ""
}

// Validate implements Handler.
func (h *TryCatchHandler) Validate(node *ast.Node) ValidationResult {
	var r ValidationResult
	if !h.CanHandle(node) {
		r.add(SeverityError, node.ID, "INVALID_NODE_TYPE",
			fmt.Sprintf("try/catch handler cannot validate %s node", node.FlowType.Kind))
		return r
	}
	id := node.FlowType.TryCatch.TryID

	var try, catch *ast.Node
	for _, s := range sections(node, ast.KindTryCatch) {
		if s.FlowType.TryCatch.Section == ast.SectionCatch {
			catch = s
		} else {
			try = s
		}
	}
	if try == nil || sectionSteps(try) == 0 {
		r.add(SeverityWarning, node.ID, "EMPTY_TRY_BLOCK", fmt.Sprintf("try block %q has no steps", id))
	}
	if catch == nil {
		r.add(SeveritySuggestion, node.ID, "NO_CATCH_SECTION",
			fmt.Sprintf("try block %q has no catch section; failures inside it are recorded and skipped", id))
	}
	return r
}

// EstimateCost implements Handler.
func (h *TryCatchHandler) EstimateCost(node *ast.Node) CostEstimate {
	total := 0
	for _, s := range sections(node, ast.KindTryCatch) {
		total += sectionSteps(s)
	}
	return estimate(total, ComplexityLinear)
}

// Handle implements Handler.
func (h *TryCatchHandler) Handle(ctx context.Context, node *ast.Node, sc *scope.Context, cfg Config) (*Result, error) {
	if !h.CanHandle(node) {
		return nil, &errors.UnsupportedStructureError{NodeID: node.ID, Kind: string(node.FlowType.Kind), Message: "not a try/catch block"}
	}
	id := node.FlowType.TryCatch.TryID
	start := time.Now()

	var out []ast.LinearStep
	original := 0
	for _, section := range sections(node, ast.KindTryCatch) {
		name := section.FlowType.TryCatch.Section
		if _, err := sc.EnterScope(scope.TryCatch(id, name == ast.SectionCatch)); err != nil {
			return nil, err
		}
		steps, n, err := expandSection(ctx, h.logger, node, section, sc, cfg,
			ast.TrySegment(id, name),
			map[string]any{
				script.ParamTryKey: id,
				script.ParamBranch: name,
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

	h.logger.Debug("linearized try/catch", "try_id", id, "steps", len(out))

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
			Details:        map[string]any{"try_id": id},
		},
	}, nil
}
