// Package engine executes linearized plans step by step.
//
// An Engine drives a StepExecutor over the steps of an ast.ExecutionPlan in
// order, one at a time. Each run gets a fresh scope.Context. Conditional
// branches are decided when a block instance is first reached, try sections
// absorb failures, and the continue-on-error policy decides whether an
// unhandled failure aborts the run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/expression"
	"github.com/tombee/scriptflow/pkg/controlflow/handler"
	"github.com/tombee/scriptflow/pkg/controlflow/scope"
	"github.com/tombee/scriptflow/pkg/errors"
)

// VarLastError holds the message of the most recent step failure.
const VarLastError = "__last_error"

// State is the engine lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// ErrorHandling configures the response to step failures.
type ErrorHandling struct {
	// ContinueOnError keeps running after an unhandled failure
	ContinueOnError bool `yaml:"continue_on_error" json:"continue_on_error"`
}

// OptimizationConfig tunes run-time behavior. It never changes which steps run.
type OptimizationConfig struct {
	// EnableCaching keeps compiled conditions across runs
	EnableCaching bool `yaml:"enable_caching" json:"enable_caching"`

	// BatchSize is the number of executed steps between progress log lines;
	// zero disables progress logging
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// Config configures an Engine.
type Config struct {
	ErrorHandling ErrorHandling      `yaml:"error_handling" json:"error_handling"`
	Optimization  OptimizationConfig `yaml:"optimization" json:"optimization"`
	Scope         scope.Config       `yaml:"scope" json:"scope"`
}

// DefaultConfig continues past failures.
func DefaultConfig() Config {
	return Config{
		ErrorHandling: ErrorHandling{ContinueOnError: true},
		Optimization:  OptimizationConfig{EnableCaching: true, BatchSize: 10},
		Scope:         scope.DefaultConfig(),
	}
}

// Metrics receives run and step measurements.
type Metrics interface {
	RecordStep(ctx context.Context, stepType string, outcome Outcome, duration time.Duration)
	RecordRun(ctx context.Context, state State, stats Stats)
}

// RunStartRecorder is implemented by Metrics that also track runs in flight.
type RunStartRecorder interface {
	RecordRunStart(ctx context.Context)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Handlers of the default registry share it.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics records run and step measurements to m.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer emits a span per run and per executed step.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithRegistry replaces the default handler registry.
func WithRegistry(r *handler.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithEvaluator sets the condition evaluator.
func WithEvaluator(eval *expression.Evaluator) Option {
	return func(e *Engine) {
		e.eval = eval
	}
}

// Engine executes plans. Separate runs may execute concurrently; each owns
// its scope.Context.
type Engine struct {
	config   Config
	registry *handler.Registry
	eval     *expression.Evaluator
	logger   *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer

	mu    sync.Mutex
	state State
	stats EngineStats
}

// New creates an engine holding the default handlers.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		config: cfg,
		logger: slog.Default(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.eval == nil {
		e.eval = expression.New()
	}
	if e.registry == nil {
		e.registry = handler.NewDefaultRegistry(e.logger, e.eval)
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("scriptflow/engine")
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// Handlers returns the handler registry.
func (e *Engine) Handlers() *handler.Registry { return e.registry }

// Evaluator returns the condition evaluator.
func (e *Engine) Evaluator() *expression.Evaluator { return e.eval }

// RegisterHandler adds a control-structure handler.
func (e *Engine) RegisterHandler(h handler.Handler) error {
	if err := e.registry.Register(h); err != nil {
		return err
	}
	e.logger.Info("registered handler", "type", h.Type())
	return nil
}

// State returns the state of the most recent run.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Stats returns the statistics accumulated since creation or the last ResetStats.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ResetStats clears the accumulated statistics.
func (e *Engine) ResetStats() {
	e.mu.Lock()
	e.stats = EngineStats{}
	e.mu.Unlock()
	e.logger.Debug("engine stats reset")
}

// RunOption configures a single ExecutePlan call.
type RunOption func(*runOptions)

type runOptions struct {
	variables map[string]any
}

// WithVariables seeds the run's global scope with user-defined variables.
func WithVariables(vars map[string]any) RunOption {
	return func(o *runOptions) {
		o.variables = vars
	}
}

// run holds the mutable state of one ExecutePlan call.
type run struct {
	plan   *ast.ExecutionPlan
	sc     *scope.Context
	blocks *blocks
	result *Result
	logger *slog.Logger
}

// ExecutePlan runs every step of plan in order. Step failures are recorded
// in the Result; the returned error is reserved for problems that prevent
// the run from proceeding at all. The engine does not observe ctx between
// steps; ctx is handed to the executor, which reports cancellation as a
// step failure.
func (e *Engine) ExecutePlan(ctx context.Context, plan *ast.ExecutionPlan, executor StepExecutor, opts ...RunOption) (*Result, error) {
	if plan == nil {
		return nil, &errors.ValidationError{Field: "plan", Message: "plan is required"}
	}
	if executor == nil {
		return nil, &errors.ValidationError{Field: "executor", Message: "step executor is required"}
	}
	paths, err := planPaths(plan)
	if err != nil {
		return nil, err
	}
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID)
	sc := scope.New(e.config.Scope, scope.WithLogger(logger))
	for name, value := range ro.variables {
		if err := sc.SetVariable(name, value, scope.UserDefined()); err != nil {
			return nil, errors.Wrapf(err, "seeding variable %q", name)
		}
	}

	r := &run{
		plan:   plan,
		sc:     sc,
		blocks: newBlocks(),
		logger: logger,
		result: &Result{
			RunID:        runID,
			FinalContext: sc,
			Stats: Stats{
				Start: time.Now(),
				Total: len(plan.Steps),
			},
		},
	}

	ctx, span := e.tracer.Start(ctx, "scriptflow.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("plan.steps", len(plan.Steps)),
		),
	)
	defer span.End()

	e.setState(StateRunning)
	if rs, ok := e.metrics.(RunStartRecorder); ok {
		rs.RecordRunStart(ctx)
	}
	logger.Info("run started", "steps", len(plan.Steps))

	var durations []time.Duration
	state := StateCompleted
	for i, ls := range plan.Steps {
		rec, err := e.step(ctx, r, ls, paths[i], executor)
		if err != nil {
			e.setState(StateAborted)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		r.result.StepResults = append(r.result.StepResults, rec)
		if rec.Outcome != OutcomeSkipped {
			durations = append(durations, rec.Duration)
			if n := e.config.Optimization.BatchSize; n > 0 && len(durations)%n == 0 {
				logger.Info("run progress", "executed", len(durations), "position", i+1, "total", len(plan.Steps))
			}
		}
		if e.metrics != nil {
			e.metrics.RecordStep(ctx, string(ls.Step.Type), rec.Outcome, rec.Duration)
		}

		if rec.Outcome == OutcomeFailed && !e.config.ErrorHandling.ContinueOnError {
			state = StateAborted
			r.result.Stats.NotExecuted = len(plan.Steps) - i - 1
			logger.Warn("step failed, stopping run", "step_id", ls.Step.ID, "error", rec.Error)
			break
		}
	}

	stats := &r.result.Stats
	stats.End = time.Now()
	stats.TotalDuration = stats.End.Sub(stats.Start)
	fillTimings(stats, durations)

	r.result.State = state
	r.result.Success = stats.Failed == 0
	e.setState(state)

	if !e.config.Optimization.EnableCaching {
		e.eval.ClearCache()
	}

	e.mu.Lock()
	e.stats.PlansExecuted++
	e.stats.StepsExecuted += int64(stats.Executed())
	e.stats.Successful += int64(stats.Successful)
	e.stats.Failed += int64(stats.Failed)
	e.stats.TotalTime += stats.TotalDuration
	if e.stats.StepsExecuted > 0 {
		e.stats.AvgStepTime = e.stats.TotalTime / time.Duration(e.stats.StepsExecuted)
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordRun(ctx, state, *stats)
	}
	span.SetAttributes(
		attribute.String("run.state", string(state)),
		attribute.Int("run.failed", stats.Failed),
	)
	if !r.result.Success {
		span.SetStatus(codes.Error, fmt.Sprintf("%d step(s) failed", stats.Failed))
	}

	logger.Info("run finished",
		"state", state,
		"successful", stats.Successful,
		"failed", stats.Failed,
		"handled", stats.Handled,
		"skipped", stats.Skipped,
		"duration", stats.TotalDuration)
	return r.result, nil
}

// planPaths parses every conditional path of plan so that a malformed one
// fails the run before any step reaches the executor.
func planPaths(plan *ast.ExecutionPlan) ([][]ast.PathSegment, error) {
	paths := make([][]ast.PathSegment, len(plan.Steps))
	for i, ls := range plan.Steps {
		segs, err := ast.ParsePath(ls.Context.Path())
		if err != nil {
			return nil, &errors.ValidationError{
				Field:   ls.Step.ID,
				Code:    "INVALID_CONDITIONAL_PATH",
				Message: fmt.Sprintf("step %s: %v", ls.Step.ID, err),
			}
		}
		paths[i] = segs
	}
	return paths, nil
}

// step executes or skips one linear step.
func (e *Engine) step(ctx context.Context, r *run, ls ast.LinearStep, segs []ast.PathSegment, executor StepExecutor) (StepRecord, error) {
	rec := StepRecord{Step: ls.Step, Context: ls.Context}

	if err := inject(r.sc, ls); err != nil {
		return rec, err
	}

	reason, at, condErr := r.blocks.route(segs, e.decider(r))
	if condErr != nil {
		code := errors.TypeOf(condErr)
		var ve *errors.ValidationError
		if errors.As(condErr, &ve) && ve.Code != "" {
			code = ve.Code
		}
		e.fail(r, &rec, segs[:at], code, condErr.Error())
		return rec, nil
	}
	if reason != "" {
		rec.Outcome = OutcomeSkipped
		rec.Reason = reason
		r.result.Stats.Skipped++
		r.logger.Debug("step skipped", "step_id", ls.Step.ID, "reason", reason)
		return rec, nil
	}

	stepCtx, span := e.tracer.Start(ctx, "step: "+ls.Step.ID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("step.id", ls.Step.ID),
			attribute.String("step.type", string(ls.Step.Type)),
			attribute.Int("step.nesting_level", int(ls.Context.NestingLevel)),
		),
	)
	start := time.Now()
	res, execErr := executor.ExecuteStep(stepCtx, ls.Step)
	rec.Duration = time.Since(start)
	rec.Result = res

	if msg, failed := failureMessage(res, execErr); failed {
		span.SetStatus(codes.Error, msg)
		span.End()
		e.fail(r, &rec, segs, CodeStepFailed, msg)
		return rec, nil
	}
	span.End()

	rec.Outcome = OutcomeSucceeded
	r.result.Stats.Successful++
	for k, v := range res.Data {
		if err := r.sc.SetVariable(k, v, scope.StepResult(ls.Step.ID, k)); err != nil {
			r.logger.Warn("dropping step result variable", "step_id", ls.Step.ID, "key", k, "error", err)
		}
	}
	r.logger.Debug("step succeeded", "step_id", ls.Step.ID, "duration", rec.Duration)
	return rec, nil
}

// fail records a failure. A failure inside a try section is handled: the
// try instance is marked failed so its remaining try steps are skipped and
// its catch section runs.
func (e *Engine) fail(r *run, rec *StepRecord, segs []ast.PathSegment, code, msg string) {
	key, handled := innermostTry(segs)
	rec.Error = msg
	r.result.Errors = append(r.result.Errors, ExecutionError{
		Code:      code,
		Message:   msg,
		StepID:    rec.Step.ID,
		Timestamp: time.Now(),
		Handled:   handled,
	})
	if err := r.sc.SetVariable(VarLastError, msg, scope.SystemBuiltin()); err != nil {
		r.logger.Warn("recording last error", "error", err)
	}

	if handled {
		r.blocks.failed[key] = true
		rec.Outcome = OutcomeHandled
		r.result.Stats.Handled++
		r.logger.Info("step failed inside try block", "step_id", rec.Step.ID, "try", key, "error", msg)
		return
	}
	rec.Outcome = OutcomeFailed
	r.result.Stats.Failed++
	if e.config.ErrorHandling.ContinueOnError {
		r.logger.Warn("step failed, continuing", "step_id", rec.Step.ID, "error", msg)
	}
}

// decider evaluates a conditional instance against the visible variables
// and records the result as a variable.
func (e *Engine) decider(r *run) decideFunc {
	return func(seg ast.PathSegment) (string, error) {
		cond := r.plan.Conditions[seg.BlockID]
		ok, err := e.eval.Evaluate(cond, r.sc.Snapshot())
		if err != nil {
			return "", err
		}
		if err := r.sc.SetVariable(VarConditionPrefix+seg.BlockID, ok, scope.ConditionalResult(seg.BlockID)); err != nil {
			r.logger.Warn("recording condition result", "condition_id", seg.BlockID, "error", err)
		}
		r.logger.Debug("condition evaluated", "condition_id", seg.BlockID, "instance", seg.Key(), "result", ok)
		if ok {
			return ast.BranchThen, nil
		}
		return ast.BranchElse, nil
	}
}

// inject sets the built-in variables for ls.
func inject(sc *scope.Context, ls ast.LinearStep) error {
	if ls.Context.LoopIteration != nil {
		if err := sc.SetVariable(scope.VarCurrentIteration, *ls.Context.LoopIteration, scope.LoopIterator(ls.Context.SourceNodeID)); err != nil {
			return err
		}
	}
	return sc.SetVariable(scope.VarNestingLevel, ls.Context.NestingLevel, scope.SystemBuiltin())
}

func failureMessage(res *StepResult, err error) (string, bool) {
	switch {
	case err != nil:
		return err.Error(), true
	case res == nil:
		return "step executor returned no result", true
	case !res.Success:
		if res.Message != "" {
			return res.Message, true
		}
		return "step reported failure", true
	}
	return "", false
}

func fillTimings(s *Stats, durations []time.Duration) {
	if len(durations) == 0 {
		return
	}
	var total time.Duration
	s.MinStep = durations[0]
	for _, d := range durations {
		total += d
		s.MinStep = min(s.MinStep, d)
		s.MaxStep = max(s.MaxStep, d)
	}
	s.AvgStep = total / time.Duration(len(durations))
	if secs := s.TotalDuration.Seconds(); secs > 0 {
		s.Throughput = float64(len(durations)) / secs
	}
}
