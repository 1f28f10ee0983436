package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/errors"
	"github.com/tombee/scriptflow/pkg/script"
)

func tap(id string) script.Step { return script.Action(id, "tap", nil) }

// shape is a compact view of a tree for comparisons.
type shape struct {
	ID       string
	Kind     ast.Kind
	Steps    []string
	Children []shape
}

func shapeOf(n *ast.Node) shape {
	s := shape{ID: n.ID, Kind: n.FlowType.Kind}
	for _, st := range n.Steps {
		s.Steps = append(s.Steps, st.ID)
	}
	for _, c := range n.Children {
		s.Children = append(s.Children, shapeOf(c))
	}
	return s
}

func parseErr(t *testing.T, err error) *errors.ParseError {
	t.Helper()
	require.Error(t, err)
	var pe *errors.ParseError
	require.True(t, errors.As(err, &pe), "expected ParseError, got %T", err)
	return pe
}

func TestParse_SimpleLoop(t *testing.T) {
	steps := []script.Step{
		tap("a"),
		script.LoopStart("L1", 3),
		tap("b"),
		tap("c"),
		script.LoopEnd("L1"),
		tap("d"),
	}

	p := New(DefaultConfig())
	root, err := p.Parse(steps)
	require.NoError(t, err)

	want := shape{ID: RootID, Kind: ast.KindSequential, Children: []shape{
		{ID: "seq_1", Kind: ast.KindSequential, Steps: []string{"a"}},
		{ID: "L1", Kind: ast.KindLoop, Children: []shape{
			{ID: "L1_body_1", Kind: ast.KindSequential, Steps: []string{"b", "c"}},
		}},
		{ID: "seq_2", Kind: ast.KindSequential, Steps: []string{"d"}},
	}}
	if diff := cmp.Diff(want, shapeOf(root)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	loop := root.Children[1].FlowType.Loop
	require.NotNil(t, loop)
	assert.Equal(t, int32(3), loop.Iterations)
	assert.False(t, loop.IsInfinite)
	assert.Equal(t, 1, root.Children[1].Metadata.SourceIndex)
	assert.Equal(t, Stats{StructuresParsed: 1, MaxNestingFound: 1}, p.Stats())
}

func TestParse_NestedLoopsPreserveOrder(t *testing.T) {
	steps := []script.Step{
		script.LoopStart("outer", 2),
		tap("a"),
		script.LoopStart("inner", 2),
		tap("b"),
		script.LoopEnd("inner"),
		tap("c"),
		script.LoopEnd("outer"),
	}

	p := New(DefaultConfig())
	root, err := p.Parse(steps)
	require.NoError(t, err)

	want := shape{ID: RootID, Kind: ast.KindSequential, Children: []shape{
		{ID: "outer", Kind: ast.KindLoop, Children: []shape{
			{ID: "outer_body_1", Kind: ast.KindSequential, Steps: []string{"a"}},
			{ID: "inner", Kind: ast.KindLoop, Children: []shape{
				{ID: "inner_body_1", Kind: ast.KindSequential, Steps: []string{"b"}},
			}},
			{ID: "outer_body_2", Kind: ast.KindSequential, Steps: []string{"c"}},
		}},
	}}
	if diff := cmp.Diff(want, shapeOf(root)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, p.Stats().MaxNestingFound)
}

func TestParse_LoopParameters(t *testing.T) {
	tests := []struct {
		name         string
		params       map[string]any
		wantIters    int32
		wantInfinite bool
	}{
		{name: "default count", params: map[string]any{"loop_id": "L"}, wantIters: DefaultLoopCount},
		{name: "string count", params: map[string]any{"loop_id": "L", "loop_count": "5"}, wantIters: 5},
		{name: "float count from json", params: map[string]any{"loop_id": "L", "loop_count": 4.0}, wantIters: 4},
		{name: "infinite", params: map[string]any{"loop_id": "L", "is_infinite_loop": "true"}, wantIters: DefaultLoopCount, wantInfinite: true},
		{name: "largest count", params: map[string]any{"loop_id": "L", "loop_count": int64(2147483647)}, wantIters: 2147483647},
		{name: "negative count is kept for validation", params: map[string]any{"loop_id": "L", "loop_count": -2}, wantIters: -2},
		{name: "zero count is kept for validation", params: map[string]any{"loop_id": "L", "loop_count": 0}, wantIters: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := script.Action("s", script.StepTypeLoopStart, tt.params)
			root, err := New(DefaultConfig()).Parse([]script.Step{start, tap("x"), script.LoopEnd("L")})
			require.NoError(t, err)
			loop := root.Children[0].FlowType.Loop
			assert.Equal(t, tt.wantIters, loop.Iterations)
			assert.Equal(t, tt.wantInfinite, loop.IsInfinite)
		})
	}
}

func TestParse_UnmatchedMarkersAreSymmetric(t *testing.T) {
	t.Run("start without end", func(t *testing.T) {
		_, err := New(DefaultConfig()).Parse([]script.Step{tap("a"), script.LoopStart("L1", 2), tap("b")})
		pe := parseErr(t, err)
		assert.Equal(t, errors.UnmatchedStructure, pe.Kind)
		assert.Equal(t, "L1", pe.MarkerID)
		assert.Equal(t, -1, pe.Index)
	})

	t.Run("end without start", func(t *testing.T) {
		_, err := New(DefaultConfig()).Parse([]script.Step{tap("a"), script.LoopEnd("L1")})
		pe := parseErr(t, err)
		assert.Equal(t, errors.UnmatchedMarker, pe.Kind)
		assert.Equal(t, 1, pe.Index)
	})

	t.Run("end without start in lenient mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AllowUnmatched = true
		_, err := New(cfg).Parse([]script.Step{script.LoopEnd("L1")})
		assert.Equal(t, errors.UnmatchedMarker, parseErr(t, err).Kind)
	})
}

func TestParse_MismatchedIDSuggestsOpenLoop(t *testing.T) {
	steps := []script.Step{
		script.LoopStart("login_loop", 2),
		tap("a"),
		script.LoopEnd("login"),
	}
	_, err := New(DefaultConfig()).Parse(steps)
	pe := parseErr(t, err)
	assert.Equal(t, errors.UnmatchedMarker, pe.Kind)
	assert.Equal(t, `did you mean "login_loop"?`, pe.Hint)
	assert.Equal(t, `did you mean "login_loop"?`, errors.SuggestionOf(err))
}

func TestParse_MismatchedKind(t *testing.T) {
	steps := []script.Step{
		script.LoopStart("X", 2),
		tap("a"),
		script.IfEnd("X"),
	}
	_, err := New(DefaultConfig()).Parse(steps)
	assert.Equal(t, errors.UnmatchedMarker, parseErr(t, err).Kind)
}

func TestParse_LenientClosesOpenStructures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowUnmatched = true
	p := New(cfg)

	root, err := p.Parse([]script.Step{script.LoopStart("L1", 2), tap("a")})
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	assert.True(t, root.Children[0].IsLoop())
	assert.Len(t, p.Stats().Warnings, 1)
}

func TestParse_NestingTooDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxNestingDepth = 2

	steps := []script.Step{
		script.LoopStart("L1", 2),
		script.LoopStart("L2", 2),
		script.LoopStart("L3", 2),
		tap("a"),
		script.LoopEnd("L3"),
		script.LoopEnd("L2"),
		script.LoopEnd("L1"),
	}
	_, err := New(cfg).Parse(steps)
	pe := parseErr(t, err)
	assert.Equal(t, errors.NestingTooDeep, pe.Kind)
	assert.Equal(t, "L3", pe.MarkerID)

	cfg.ValidateNesting = false
	_, err = New(cfg).Parse(steps)
	assert.NoError(t, err)
}

func TestParse_InvalidMarkers(t *testing.T) {
	tests := []struct {
		name  string
		steps []script.Step
	}{
		{name: "loop without id", steps: []script.Step{script.Action("s", script.StepTypeLoopStart, nil)}},
		{name: "bad count", steps: []script.Step{script.Action("s", script.StepTypeLoopStart, map[string]any{"loop_id": "L", "loop_count": "many"})}},
		{name: "count above int32 range", steps: []script.Step{script.Action("s", script.StepTypeLoopStart, map[string]any{"loop_id": "L", "loop_count": int64(4294967297)})}},
		{name: "count past int32", steps: []script.Step{script.Action("s", script.StepTypeLoopStart, map[string]any{"loop_id": "L", "loop_count": int64(2147483648)})}},
		{name: "count past int32 as string", steps: []script.Step{script.Action("s", script.StepTypeLoopStart, map[string]any{"loop_id": "L", "loop_count": "2147483648"})}},
		{name: "bad infinite flag", steps: []script.Step{script.Action("s", script.StepTypeLoopStart, map[string]any{"loop_id": "L", "is_infinite_loop": "sometimes"})}},
		{name: "if without id", steps: []script.Step{script.Action("s", script.StepTypeIfStart, map[string]any{"condition": "true"})}},
		{name: "double else", steps: []script.Step{script.IfStart("C", "true"), script.Else("C"), script.Else("C"), script.IfEnd("C")}},
		{name: "reserved character in try id", steps: []script.Step{script.TryStart("T:1"), script.TryEnd("T:1")}},
		{name: "duplicate if id", steps: []script.Step{script.IfStart("C", "true"), script.IfEnd("C"), script.IfStart("C", "true"), script.IfEnd("C")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(DefaultConfig()).Parse(tt.steps)
			assert.Equal(t, errors.InvalidMarker, parseErr(t, err).Kind)
		})
	}
}

func TestParse_Conditional(t *testing.T) {
	steps := []script.Step{
		script.IfStart("C1", "logged_in == true"),
		tap("a"),
		script.Else("C1"),
		tap("b"),
		tap("c"),
		script.IfEnd("C1"),
	}
	root, err := New(DefaultConfig()).Parse(steps)
	require.NoError(t, err)

	want := shape{ID: RootID, Kind: ast.KindSequential, Children: []shape{
		{ID: "C1", Kind: ast.KindConditional, Children: []shape{
			{ID: "C1_then", Kind: ast.KindConditional, Children: []shape{
				{ID: "C1_then_1", Kind: ast.KindSequential, Steps: []string{"a"}},
			}},
			{ID: "C1_else", Kind: ast.KindConditional, Children: []shape{
				{ID: "C1_else_1", Kind: ast.KindSequential, Steps: []string{"b", "c"}},
			}},
		}},
	}}
	if diff := cmp.Diff(want, shapeOf(root)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "logged_in == true", root.Children[0].FlowType.Conditional.Condition)
}

func TestParse_TryCatchInsideLoop(t *testing.T) {
	steps := []script.Step{
		script.LoopStart("L1", 2),
		script.TryStart("T1"),
		tap("a"),
		script.Catch("T1"),
		tap("recover"),
		script.TryEnd("T1"),
		script.LoopEnd("L1"),
	}
	root, err := New(DefaultConfig()).Parse(steps)
	require.NoError(t, err)

	want := shape{ID: RootID, Kind: ast.KindSequential, Children: []shape{
		{ID: "L1", Kind: ast.KindLoop, Children: []shape{
			{ID: "T1", Kind: ast.KindTryCatch, Children: []shape{
				{ID: "T1_try", Kind: ast.KindTryCatch, Children: []shape{
					{ID: "T1_try_1", Kind: ast.KindSequential, Steps: []string{"a"}},
				}},
				{ID: "T1_catch", Kind: ast.KindTryCatch, Children: []shape{
					{ID: "T1_catch_1", Kind: ast.KindSequential, Steps: []string{"recover"}},
				}},
			}},
		}},
	}}
	if diff := cmp.Diff(want, shapeOf(root)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	root, err := New(DefaultConfig()).Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, root.Children)
	assert.Equal(t, 1, root.Depth())
}
