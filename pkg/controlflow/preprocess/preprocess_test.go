package preprocess

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	"github.com/tombee/scriptflow/pkg/errors"
	"github.com/tombee/scriptflow/pkg/script"
)

func tap(id string) script.Step { return script.Action(id, "tap", nil) }

func ids(steps []script.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.ID
	}
	return out
}

func TestPreprocessScript_LoopScenario(t *testing.T) {
	steps := []script.Step{
		tap("A"),
		script.LoopStart("L1", 3),
		tap("B"),
		tap("C"),
		script.LoopEnd("L1"),
		tap("D"),
	}

	res, err := New(DefaultConfig()).PreprocessScript(context.Background(), steps)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"A",
		"B__iter_1", "C__iter_1",
		"B__iter_2", "C__iter_2",
		"B__iter_3", "C__iter_3",
		"D",
	}, res.Plan.IDs())
	assert.Equal(t, 6, res.OriginalStepCount)
	assert.Equal(t, 8, res.ProcessedStepCount)
	assert.Equal(t, 1, res.Stats.ControlStructuresFound)
	assert.Equal(t, OptimizationStandard.Count(), res.Stats.OptimizationsApplied)

	first, last := res.Plan.Steps[0], res.Plan.Steps[7]
	assert.Nil(t, first.Context.LoopIteration)
	assert.Nil(t, last.Context.LoopIteration)
	assert.Equal(t, int32(1), first.Context.NestingLevel)
	assert.Equal(t, int32(2), res.Plan.Steps[3].Context.Iteration())
	assert.Equal(t, int32(2), res.Plan.Steps[3].Context.NestingLevel)

	assert.Equal(t, 8, res.Plan.Stats.TotalSteps)
	assert.Equal(t, ast.ComplexitySimple, res.Plan.Stats.ComplexityRating)
	assert.Equal(t, 1, res.Plan.Stats.ControlStructures.Loops)
}

func TestPreprocessScript_ExpansionProperty(t *testing.T) {
	for _, n := range []int{1, 4, 9} {
		for _, m := range []int{1, 2, 5} {
			t.Run(fmt.Sprintf("N=%d,M=%d", n, m), func(t *testing.T) {
				steps := []script.Step{script.LoopStart("L", n)}
				for i := range m {
					steps = append(steps, tap(fmt.Sprintf("s%d", i)))
				}
				steps = append(steps, script.LoopEnd("L"))

				res, err := New(DefaultConfig()).PreprocessScript(context.Background(), steps)
				require.NoError(t, err)
				require.Equal(t, n*m, res.ProcessedStepCount)

				seen := make(map[string]bool)
				for _, ls := range res.Plan.Steps {
					it := ls.Context.Iteration()
					assert.True(t, it >= 1 && int(it) <= n)
					assert.False(t, seen[ls.Step.ID])
					seen[ls.Step.ID] = true
				}
			})
		}
	}
}

func TestPreprocessScript_Errors(t *testing.T) {
	tests := []struct {
		name  string
		cfg   func(*Config)
		steps []script.Step
		check func(t *testing.T, err error)
	}{
		{
			name:  "unmatched loop end",
			steps: []script.Step{tap("A"), script.LoopEnd("L1")},
			check: func(t *testing.T, err error) {
				var pe *errors.ParseError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, errors.UnmatchedMarker, pe.Kind)
			},
		},
		{
			name:  "unclosed loop",
			steps: []script.Step{script.LoopStart("L1", 2), tap("A")},
			check: func(t *testing.T, err error) {
				var pe *errors.ParseError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, errors.UnmatchedStructure, pe.Kind)
			},
		},
		{
			name:  "zero iterations",
			steps: []script.Step{script.LoopStart("L1", 0), tap("A"), script.LoopEnd("L1")},
			check: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, "INVALID_ITERATIONS", ve.Code)
				assert.Equal(t, "L1", ve.Field)
			},
		},
		{
			name: "nested loop",
			steps: []script.Step{
				script.LoopStart("outer", 2),
				script.LoopStart("inner", 2),
				tap("A"),
				script.LoopEnd("inner"),
				script.LoopEnd("outer"),
			},
			check: func(t *testing.T, err error) {
				var ue *errors.UnsupportedStructureError
				require.True(t, errors.As(err, &ue))
				assert.Contains(t, err.Error(), "nested loops require a dedicated handler")
			},
		},
		{
			name: "loop inside conditional inside loop",
			steps: []script.Step{
				script.LoopStart("outer", 2),
				script.IfStart("C1", "true"),
				script.LoopStart("inner", 2),
				tap("A"),
				script.LoopEnd("inner"),
				script.IfEnd("C1"),
				script.LoopEnd("outer"),
			},
			check: func(t *testing.T, err error) {
				var ue *errors.UnsupportedStructureError
				require.True(t, errors.As(err, &ue))
				assert.Equal(t, "inner", ue.NodeID)
			},
		},
		{
			name: "loop inside try inside loop",
			steps: []script.Step{
				script.LoopStart("outer", 2),
				script.TryStart("T1"),
				script.LoopStart("inner", 2),
				tap("A"),
				script.LoopEnd("inner"),
				script.Catch("T1"),
				tap("R"),
				script.TryEnd("T1"),
				script.LoopEnd("outer"),
			},
			check: func(t *testing.T, err error) {
				var ue *errors.UnsupportedStructureError
				require.True(t, errors.As(err, &ue))
				assert.Equal(t, "inner", ue.NodeID)
			},
		},
		{
			name: "invalid condition",
			steps: []script.Step{
				script.IfStart("C1", "count >"),
				tap("A"),
				script.IfEnd("C1"),
			},
			check: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, "INVALID_CONDITION", ve.Code)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			_, err := New(cfg).PreprocessScript(context.Background(), tt.steps)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestPreprocessScript_NestedLoopsWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Handler.AllowNestedLoops = true

	steps := []script.Step{
		script.LoopStart("outer", 2),
		tap("A"),
		script.LoopStart("inner", 2),
		tap("B"),
		script.LoopEnd("inner"),
		script.LoopEnd("outer"),
	}
	res, err := New(cfg).PreprocessScript(context.Background(), steps)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"A__iter_1", "B__iter_1__iter_1", "B__iter_1__iter_2",
		"A__iter_2", "B__iter_2__iter_1", "B__iter_2__iter_2",
	}, res.Plan.IDs())
	assert.Equal(t, ast.ComplexityModerate, res.Plan.Stats.ComplexityRating)
}

func TestPreprocessScript_DebugConfigClosesOpenStructures(t *testing.T) {
	steps := []script.Step{tap("A"), script.LoopStart("L1", 2), tap("B")}

	res, err := New(DebugConfig()).PreprocessScript(context.Background(), steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B__iter_1", "B__iter_2"}, res.Plan.IDs())
	require.Len(t, res.Stats.Warnings, 1)
	assert.Contains(t, res.Stats.Warnings[0], "closed implicitly")
	assert.Equal(t, 0, res.Stats.OptimizationsApplied)
}

func TestPreprocessScript_WaitMerging(t *testing.T) {
	steps := []script.Step{
		script.LoopStart("L1", 4),
		script.Wait("pause", 1000),
		script.LoopEnd("L1"),
	}

	res, err := New(DefaultConfig()).PreprocessScript(context.Background(), steps)
	require.NoError(t, err)
	assert.Equal(t, 4, res.ProcessedStepCount)

	res, err = New(HighPerformanceConfig()).PreprocessScript(context.Background(), steps)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedStepCount)
	assert.Equal(t, 3, res.Stats.StepsMerged)
	assert.Equal(t, 3, res.Stats.OptimizationsApplied)
}

func TestPreprocessScript_ConditionalAndTryPaths(t *testing.T) {
	steps := []script.Step{
		script.LoopStart("L1", 2),
		script.IfStart("C1", "__current_iteration == 1"),
		tap("first"),
		script.Else("C1"),
		tap("later"),
		script.IfEnd("C1"),
		script.LoopEnd("L1"),
		script.TryStart("T1"),
		tap("risky"),
		script.Catch("T1"),
		tap("recover"),
		script.TryEnd("T1"),
	}

	res, err := New(DefaultConfig()).PreprocessScript(context.Background(), steps)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"first__iter_1", "later__iter_1",
		"first__iter_2", "later__iter_2",
		"risky", "recover",
	}, res.Plan.IDs())

	var paths []string
	for _, ls := range res.Plan.Steps {
		paths = append(paths, ls.Context.Path())
	}
	assert.Equal(t, []string{
		"if:C1:then@1", "if:C1:else@1",
		"if:C1:then@2", "if:C1:else@2",
		"try:T1", "catch:T1",
	}, paths)
	assert.Equal(t, "__current_iteration == 1", res.Plan.Conditions["C1"])
}

func TestPreprocessForLegacyExecutor(t *testing.T) {
	steps := []script.Step{script.LoopStart("L1", 2), tap("A"), script.LoopEnd("L1")}

	out, err := New(DefaultConfig()).PreprocessForLegacyExecutor(context.Background(), steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"A__iter_1", "A__iter_2"}, ids(out))
	assert.Equal(t, int32(2), out[1].Parameters[script.ParamLoopIteration])

	_, err = New(DefaultConfig()).PreprocessForLegacyExecutor(context.Background(), []script.Step{script.LoopEnd("x")})
	assert.Error(t, err)

	t.Run("run-time blocks are rejected", func(t *testing.T) {
		tests := []struct {
			name     string
			steps    []script.Step
			wantNode string
			wantKind ast.Kind
		}{
			{
				name: "try catch",
				steps: []script.Step{
					script.TryStart("T1"), tap("A"), script.Catch("T1"), tap("RECOVER"), script.TryEnd("T1"),
				},
				wantNode: "T1",
				wantKind: ast.KindTryCatch,
			},
			{
				name: "conditional",
				steps: []script.Step{
					tap("B"),
					script.IfStart("C1", "false"), tap("THEN"), script.Else("C1"), tap("ELSE"), script.IfEnd("C1"),
				},
				wantNode: "C1",
				wantKind: ast.KindConditional,
			},
			{
				name: "conditional inside loop",
				steps: []script.Step{
					script.LoopStart("L1", 2),
					script.IfStart("C2", "true"), tap("X"), script.IfEnd("C2"),
					script.LoopEnd("L1"),
				},
				wantNode: "C2",
				wantKind: ast.KindConditional,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				out, err := New(DefaultConfig()).PreprocessForLegacyExecutor(context.Background(), tt.steps)
				assert.Nil(t, out)
				var ue *errors.UnsupportedStructureError
				require.True(t, errors.As(err, &ue))
				assert.Equal(t, tt.wantNode, ue.NodeID)
				assert.Equal(t, string(tt.wantKind), ue.Kind)
			})
		}
	})
}

func TestPreprocessAndExecute(t *testing.T) {
	steps := []script.Step{
		tap("A"),
		script.LoopStart("L1", 3),
		script.IfStart("C1", "__current_iteration != 2"),
		tap("B"),
		script.IfEnd("C1"),
		script.LoopEnd("L1"),
		tap("D"),
	}

	var calls []string
	exec := engine.StepExecutorFunc(func(_ context.Context, step script.Step) (*engine.StepResult, error) {
		calls = append(calls, step.ID)
		return &engine.StepResult{Success: true}, nil
	})

	res, err := New(DefaultConfig()).PreprocessAndExecute(context.Background(), steps, exec)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B__iter_1", "B__iter_3", "D"}, calls)
	assert.True(t, res.Success)
	assert.Equal(t, 5, res.Stats.Total)
	assert.Equal(t, 1, res.Stats.Skipped)
}

func TestPreprocessAndExecute_StopOnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.ErrorHandling.ContinueOnError = false

	steps := []script.Step{tap("s1"), tap("s2"), tap("s3"), tap("s4"), tap("s5")}
	exec := engine.StepExecutorFunc(func(_ context.Context, step script.Step) (*engine.StepResult, error) {
		if step.ID == "s3" {
			return nil, fmt.Errorf("element not found")
		}
		return &engine.StepResult{Success: true}, nil
	})

	res, err := New(cfg).PreprocessAndExecute(context.Background(), steps, exec)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Stats.Successful)
	assert.Equal(t, 1, res.Stats.Failed)
	assert.Equal(t, 2, res.Stats.NotExecuted)
}

func TestNew_WithEngineSharesRegistry(t *testing.T) {
	e := engine.New(engine.DefaultConfig())
	p := New(DefaultConfig(), WithEngine(e))
	assert.Same(t, e, p.Engine())
	assert.Same(t, e.Handlers(), p.registry)
}

func TestOptimizationLevel(t *testing.T) {
	tests := []struct {
		level   OptimizationLevel
		count   int
		caching bool
	}{
		{OptimizationNone, 0, false},
		{OptimizationBasic, 1, false},
		{OptimizationStandard, 2, true},
		{OptimizationAggressive, 3, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.NoError(t, tt.level.Validate())
			assert.Equal(t, tt.count, tt.level.Count())
			assert.Equal(t, tt.caching, tt.level.EngineOptimization().EnableCaching)
		})
	}
	assert.Error(t, OptimizationLevel("turbo").Validate())

	p := New(DebugConfig())
	assert.False(t, p.Engine().Config().ErrorHandling.ContinueOnError)
	assert.Equal(t, 1, p.Engine().Config().Optimization.BatchSize)
}
