// Package preprocess turns flat step lists into execution plans and runs them.
//
// A Preprocessor parses steps into a control-flow tree, linearizes the tree
// by handing each structure to the first registered handler that accepts it,
// and wraps the result in an ast.ExecutionPlan. The handler registry is
// shared with the engine that executes the plans.
package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	"github.com/tombee/scriptflow/pkg/controlflow/handler"
	"github.com/tombee/scriptflow/pkg/controlflow/parser"
	"github.com/tombee/scriptflow/pkg/controlflow/scope"
	"github.com/tombee/scriptflow/pkg/errors"
	"github.com/tombee/scriptflow/pkg/script"
)

// Stats describes one PreprocessScript call.
type Stats struct {
	ControlStructuresFound int           `json:"control_structures_found"`
	ParsingTime            time.Duration `json:"parsing_time"`
	LinearizationTime      time.Duration `json:"linearization_time"`
	Total                  time.Duration `json:"total"`
	OptimizationsApplied   int           `json:"optimizations_applied"`
	StepsMerged            int           `json:"steps_merged,omitempty"`
	Warnings               []string      `json:"warnings,omitempty"`
}

// Result is the output of PreprocessScript.
type Result struct {
	OriginalStepCount  int                `json:"original_step_count"`
	ProcessedStepCount int                `json:"processed_step_count"`
	AST                *ast.Node          `json:"ast"`
	Plan               *ast.ExecutionPlan `json:"plan"`
	Stats              Stats              `json:"stats"`
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Preprocessor) {
		p.logger = logger
	}
}

// WithEngine uses e to execute plans and shares its handler registry.
// Config.Engine and Config.OptimizationLevel are ignored.
func WithEngine(e *engine.Engine) Option {
	return func(p *Preprocessor) {
		p.engine = e
	}
}

// Preprocessor is safe for concurrent use.
type Preprocessor struct {
	config   Config
	engine   *engine.Engine
	registry *handler.Registry
	logger   *slog.Logger
}

// New creates a preprocessor. Without WithEngine it builds an engine from
// cfg.Engine tuned by cfg.OptimizationLevel.
func New(cfg Config, opts ...Option) *Preprocessor {
	p := &Preprocessor{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.engine == nil {
		p.engine = engine.New(cfg.EngineConfig(), engine.WithLogger(p.logger))
	}
	p.registry = p.engine.Handlers()
	return p
}

// Engine returns the engine that executes plans.
func (p *Preprocessor) Engine() *engine.Engine { return p.engine }

// Config returns the preprocessor configuration.
func (p *Preprocessor) Config() Config { return p.config }

func (p *Preprocessor) logStage(msg string, args ...any) {
	if p.config.VerboseLogging {
		p.logger.Info(msg, args...)
		return
	}
	p.logger.Debug(msg, args...)
}

// PreprocessScript parses and linearizes steps.
func (p *Preprocessor) PreprocessScript(ctx context.Context, steps []script.Step) (*Result, error) {
	start := time.Now()

	prs := parser.New(p.config.Parser).WithLogger(p.logger)
	root, err := prs.Parse(steps)
	if err != nil {
		return nil, err
	}
	parseTime := time.Since(start)
	pstats := prs.Stats()
	p.logStage("parsed control flow", "structures", pstats.StructuresParsed, "duration", parseTime)

	linStart := time.Now()
	l := p.newLinearizer()
	sc := scope.New(p.config.Engine.Scope, scope.WithLogger(p.logger))
	linear, err := l.dispatch(ctx, root, sc)
	if err != nil {
		return nil, err
	}
	linTime := time.Since(linStart)
	p.logStage("linearized control flow", "steps", len(linear), "duration", linTime)

	plan := ast.NewPlan(root, linear)
	res := &Result{
		OriginalStepCount:  len(steps),
		ProcessedStepCount: len(linear),
		AST:                root,
		Plan:               plan,
		Stats: Stats{
			ControlStructuresFound: pstats.StructuresParsed,
			ParsingTime:            parseTime,
			LinearizationTime:      linTime,
			Total:                  time.Since(start),
			OptimizationsApplied:   p.config.OptimizationLevel.Count(),
			StepsMerged:            l.merged,
			Warnings:               append(pstats.Warnings, l.warnings...),
		},
	}

	p.logger.Info("preprocessed script",
		"original_steps", res.OriginalStepCount,
		"processed_steps", res.ProcessedStepCount,
		"structures", res.Stats.ControlStructuresFound,
		"duration", res.Stats.Total)
	return res, nil
}

// PreprocessAndExecute preprocesses steps and runs the plan with executor.
func (p *Preprocessor) PreprocessAndExecute(ctx context.Context, steps []script.Step, executor engine.StepExecutor, opts ...engine.RunOption) (*engine.Result, error) {
	res, err := p.PreprocessScript(ctx, steps)
	if err != nil {
		return nil, err
	}
	return p.engine.ExecutePlan(ctx, res.Plan, executor, opts...)
}

// PreprocessForLegacyExecutor returns the plan's steps without context, for
// executors that only understand flat step lists. Conditional and try
// blocks pick their steps at run time, so scripts containing them are
// rejected.
func (p *Preprocessor) PreprocessForLegacyExecutor(ctx context.Context, steps []script.Step) ([]script.Step, error) {
	res, err := p.PreprocessScript(ctx, steps)
	if err != nil {
		return nil, err
	}
	for _, ls := range res.Plan.Steps {
		if ls.Context.Path() != "" {
			return nil, &errors.UnsupportedStructureError{
				NodeID:  ls.Context.SourceNodeID,
				Kind:    blockKind(ls.Context.Path()),
				Message: fmt.Sprintf("step %s is selected at run time; execute the plan with the engine instead", ls.Step.ID),
			}
		}
	}
	out := res.Plan.AutomationSteps()
	p.logger.Debug("prepared steps for legacy executor", "steps", len(out))
	return out, nil
}

// blockKind names the structure of the innermost segment of path.
func blockKind(path string) string {
	segs, err := ast.ParsePath(path)
	if err != nil || len(segs) == 0 {
		return "block"
	}
	switch last := segs[len(segs)-1]; last.Kind {
	case ast.SegmentIf:
		return string(ast.KindConditional)
	case ast.SegmentTry, ast.SegmentCatch:
		return string(ast.KindTryCatch)
	default:
		return string(last.Kind)
	}
}

// linearizer expands one tree. It is not reused across calls.
type linearizer struct {
	registry  *handler.Registry
	config    handler.Config
	logger    *slog.Logger
	validated map[*ast.Node]bool
	warnings  []string
	merged    int
}

func (p *Preprocessor) newLinearizer() *linearizer {
	return &linearizer{
		registry:  p.registry,
		config:    p.config.Handler,
		logger:    p.logger,
		validated: make(map[*ast.Node]bool),
	}
}

// dispatch linearizes node. Sequential nodes contribute their own steps and
// then their children in order; any other node goes to the first handler
// that accepts it.
func (l *linearizer) dispatch(ctx context.Context, node *ast.Node, sc *scope.Context) ([]ast.LinearStep, error) {
	if node.IsSequential() {
		out := make([]ast.LinearStep, 0, len(node.Steps))
		for _, st := range node.Steps {
			out = append(out, ast.LinearStep{
				Step: st.Clone(),
				Context: ast.StepContext{
					SourceNodeID: node.ID,
					NestingLevel: sc.CurrentDepth(),
				},
			})
		}
		for _, child := range node.Children {
			sub, err := l.dispatch(ctx, child, sc)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	}

	h, ok := l.registry.Find(node)
	if !ok {
		return nil, &errors.UnsupportedStructureError{
			NodeID:  node.ID,
			Kind:    string(node.FlowType.Kind),
			Message: "no registered handler accepts this node",
		}
	}

	// Nested structures are dispatched once per enclosing iteration.
	if !l.validated[node] {
		l.validated[node] = true
		v := h.Validate(node)
		if !v.Valid() {
			first := v.Errors[0]
			return nil, &errors.ValidationError{
				Field:   node.ID,
				Code:    first.Code,
				Message: first.Message,
			}
		}
		for _, w := range v.Warnings {
			l.warnings = append(l.warnings, w.Message)
			l.logger.Warn("control structure warning", "node_id", w.NodeID, "code", w.Code, "message", w.Message)
		}
	}

	cfg := l.config
	cfg.Dispatch = l.dispatch
	res, err := h.Handle(ctx, node, sc, cfg)
	if err != nil {
		return nil, err
	}
	l.merged += res.Stats.StepsMerged
	l.logger.Debug("handled control structure",
		"node_id", node.ID,
		"handler", res.Metadata.HandlerType,
		"original_steps", res.Stats.OriginalSteps,
		"expanded_steps", res.Stats.ExpandedSteps)
	return res.LinearSteps, nil
}
