package handler

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/scope"
	"github.com/tombee/scriptflow/pkg/errors"
	"github.com/tombee/scriptflow/pkg/script"
)

// Loop validation thresholds.
const (
	HighIterationThreshold = 10_000
	DeepNestingThreshold   = 5
	QuadraticThreshold     = 1000
)

// LoopHandler unrolls loop nodes. Each iteration repeats the loop body with
// ids suffixed "__iter_<n>" and the iteration injected into parameters.
type LoopHandler struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewLoopHandler creates a loop handler.
func NewLoopHandler() *LoopHandler {
	return &LoopHandler{
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithLogger sets the logger.
func (h *LoopHandler) WithLogger(logger *slog.Logger) *LoopHandler {
	h.logger = logger
	return h
}

// Type implements Handler.
func (h *LoopHandler) Type() string { return "loop" }

// CanHandle implements Handler.
func (h *LoopHandler) CanHandle(node *ast.Node) bool { return node.IsLoop() }

// Validate implements Handler.
func (h *LoopHandler) Validate(node *ast.Node) ValidationResult {
	var r ValidationResult
	spec := node.FlowType.Loop
	if spec == nil {
		r.add(SeverityError, node.ID, "INVALID_NODE_TYPE",
			fmt.Sprintf("loop handler cannot validate %s node", node.FlowType.Kind))
		return r
	}

	if !spec.IsInfinite && spec.Iterations <= 0 {
		r.add(SeverityError, node.ID, "INVALID_ITERATIONS",
			fmt.Sprintf("loop %q has %d iterations; must be greater than 0", spec.LoopID, spec.Iterations))
	}
	if spec.Iterations > HighIterationThreshold {
		r.add(SeverityWarning, node.ID, "HIGH_ITERATION_COUNT",
			fmt.Sprintf("loop %q runs %d iterations, which may take a long time", spec.LoopID, spec.Iterations))
	}
	if isEmptyBody(node) {
		r.add(SeverityWarning, node.ID, "EMPTY_LOOP_BODY",
			fmt.Sprintf("loop %q has no steps", spec.LoopID))
	}
	if d := node.Depth(); d > DeepNestingThreshold {
		r.add(SeverityWarning, node.ID, "DEEP_NESTING",
			fmt.Sprintf("loop %q is nested %d levels deep; consider splitting the script", spec.LoopID, d))
	}
	if spec.IsInfinite {
		r.add(SeverityInfo, node.ID, "INFINITE_LOOP_CAPPED",
			fmt.Sprintf("infinite loop %q is capped by preprocess.handler.infinite_loop_cap", spec.LoopID))
	}
	return r
}

func isEmptyBody(node *ast.Node) bool {
	for _, c := range node.Children {
		if !c.IsSequential() || len(c.Steps) > 0 {
			return false
		}
	}
	return true
}

// EstimateCost implements Handler. Infinite loops are costed at the default cap.
func (h *LoopHandler) EstimateCost(node *ast.Node) CostEstimate {
	return h.estimate(node, DefaultInfiniteLoopCap)
}

func (h *LoopHandler) estimate(node *ast.Node, infiniteCap int32) CostEstimate {
	spec := node.FlowType.Loop
	if spec == nil {
		return CostEstimate{ComplexityClass: ComplexityLinear}
	}
	iterations := effectiveIterations(spec, infiniteCap)

	body := 0
	for _, c := range node.Children {
		body += c.TotalStepCount(infiniteCap)
	}
	class := ComplexityLinear
	if iterations > QuadraticThreshold {
		class = ComplexityQuadratic
	}
	return estimate(int(iterations)*body, class)
}

func effectiveIterations(spec *ast.LoopSpec, infiniteCap int32) int32 {
	if spec.IsInfinite {
		return infiniteCap
	}
	return spec.Iterations
}

// Handle implements Handler.
func (h *LoopHandler) Handle(ctx context.Context, node *ast.Node, sc *scope.Context, cfg Config) (*Result, error) {
	spec := node.FlowType.Loop
	if spec == nil {
		return nil, &errors.UnsupportedStructureError{NodeID: node.ID, Kind: string(node.FlowType.Kind), Message: "not a loop"}
	}
	iterations := effectiveIterations(spec, cfg.infiniteCap())
	if iterations <= 0 {
		return nil, &errors.ValidationError{
			Field:   node.ID,
			Code:    "INVALID_ITERATIONS",
			Message: fmt.Sprintf("loop %q has %d iterations", spec.LoopID, iterations),
		}
	}

	if !cfg.AllowNestedLoops || cfg.Dispatch == nil {
		if nested := NestedLoops(node); len(nested) > 0 {
			return nil, &errors.UnsupportedStructureError{
				NodeID:  nested[0].ID,
				Kind:    string(ast.KindLoop),
				Message: "nested loops require a dedicated handler; enable nested loop expansion to unroll them",
			}
		}
	}

	start := h.now()
	if _, err := sc.EnterLoopScope(spec.LoopID, iterations); err != nil {
		return nil, err
	}
	defer func() {
		_, _ = sc.ExitScope()
	}()

	var out []ast.LinearStep
	original := 0
	for i := int32(1); i <= iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cfg.Timeout > 0 && h.now().Sub(start) > cfg.Timeout {
			return nil, &errors.TimeoutError{Operation: "expanding loop " + spec.LoopID, Duration: h.now().Sub(start)}
		}
		if err := sc.UpdateLoopIteration(i); err != nil {
			return nil, err
		}

		for _, child := range node.Children {
			switch {
			case child.IsSequential():
				if i == 1 {
					original += len(child.Steps)
				}
				for _, st := range child.Steps {
					out = append(out, h.expandStep(st, node, i, int32(len(out)+1), sc.CurrentDepth()))
				}

			case cfg.Dispatch != nil:
				sub, err := cfg.Dispatch(ctx, child, sc)
				if err != nil {
					return nil, err
				}
				if i == 1 {
					original += len(sub)
				}
				for _, ls := range sub {
					out = append(out, h.wrapNested(ls, node, i, int32(len(out)+1)))
				}

			default:
				if i == 1 {
					h.logger.Warn("skipping unsupported child structure",
						"loop_id", spec.LoopID,
						"child_id", child.ID,
						"kind", child.FlowType.Kind)
				}
			}
		}
	}

	merged := 0
	if cfg.EnableOptimization {
		out, merged = MergeAdjacentWaits(out)
	}

	result := &Result{
		LinearSteps: out,
		Stats: Stats{
			OriginalSteps:       original,
			ExpandedSteps:       len(out),
			ProcessingTime:      h.now().Sub(start),
			OptimizationApplied: cfg.EnableOptimization,
			StepsMerged:         merged,
		},
		Metadata: Metadata{
			HandlerType:    h.Type(),
			HandlerVersion: Version,
			ProcessedAt:    h.now(),
			Details: map[string]any{
				"iterations":          iterations,
				"is_infinite":         spec.IsInfinite,
				"original_iterations": spec.Iterations,
			},
		},
	}

	h.logger.Debug("expanded loop",
		"loop_id", spec.LoopID,
		"iterations", iterations,
		"original_steps", original,
		"expanded_steps", len(out),
		"merged", merged)
	return result, nil
}

// NestedLoops returns the loops inside node that are reached without
// passing through another loop, including those wrapped in conditional or
// try blocks.
func NestedLoops(node *ast.Node) []*ast.Node {
	var out []*ast.Node
	for _, c := range node.Children {
		c.Walk(func(n *ast.Node, _ int) bool {
			if n.IsLoop() {
				out = append(out, n)
				return false
			}
			return true
		})
	}
	return out
}

// expandStep produces one iteration of a body step.
func (h *LoopHandler) expandStep(st script.Step, loop *ast.Node, iteration, order, depth int32) ast.LinearStep {
	c := st.Clone()
	c.ID = fmt.Sprintf("%s__iter_%d", st.ID, iteration)
	c.Name = fmt.Sprintf("%s (第%d次)", st.Name, iteration)
	c.Order = int(order)
	c.SetParam(script.ParamLoopIteration, iteration)
	c.SetParam(script.ParamLoopNodeID, loop.ID)
	c.SetParam(script.ParamOriginalStepID, st.ID)
	c.SetParam(script.ParamExpandedAt, h.now().UnixMilli())

	iter := iteration
	return ast.LinearStep{
		Step: c,
		Context: ast.StepContext{
			SourceNodeID:  loop.ID,
			LoopIteration: &iter,
			NestingLevel:  depth,
		},
	}
}

// wrapNested qualifies a step produced by a nested structure with this
// loop's iteration. Steps from an inner loop keep their innermost
// iteration number and display name.
func (h *LoopHandler) wrapNested(ls ast.LinearStep, loop *ast.Node, iteration, order int32) ast.LinearStep {
	c := ls.Step.Clone()
	origID := c.ID
	if v, ok := c.Param(script.ParamOriginalStepID); ok {
		if s, ok := v.(string); ok && strings.HasPrefix(c.ID, s) {
			origID = s
		}
	}
	c.ID = fmt.Sprintf("%s__iter_%d%s", origID, iteration, strings.TrimPrefix(c.ID, origID))
	c.Order = int(order)

	sctx := ls.Context
	if sctx.LoopIteration == nil {
		c.Name = fmt.Sprintf("%s (第%d次)", c.Name, iteration)
		c.SetParam(script.ParamLoopIteration, iteration)
		c.SetParam(script.ParamLoopNodeID, loop.ID)
		c.SetParam(script.ParamOriginalStepID, origID)
		c.SetParam(script.ParamExpandedAt, h.now().UnixMilli())
		iter := iteration
		sctx.LoopIteration = &iter
	}
	if sctx.ConditionalPath != nil {
		p := ast.QualifyPath(*sctx.ConditionalPath, iteration)
		sctx.ConditionalPath = &p
	}
	return ast.LinearStep{Step: c, Context: sctx}
}

// MergeAdjacentWaits collapses runs of wait steps with equal durations into
// their first step. It returns the new slice and how many steps were dropped.
func MergeAdjacentWaits(steps []ast.LinearStep) ([]ast.LinearStep, int) {
	if len(steps) < 2 {
		return steps, 0
	}
	out := make([]ast.LinearStep, 0, len(steps))
	merged := 0
	for _, ls := range steps {
		if n := len(out); n > 0 && sameWait(out[n-1].Step, ls.Step) {
			merged++
			continue
		}
		out = append(out, ls)
	}
	for i := range out {
		out[i].Step.Order = i + 1
	}
	return out, merged
}

func sameWait(a, b script.Step) bool {
	if a.Type != script.StepTypeWait || b.Type != script.StepTypeWait {
		return false
	}
	da, okA := a.Param(script.ParamDuration)
	db, okB := b.Param(script.ParamDuration)
	return okA && okB && reflect.DeepEqual(da, db)
}
