package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/scriptflow/pkg/errors"
)

const sampleYAML = `
name: login-loop
variables:
  user: alice
steps:
  - id: open
    step_type: tap
    parameters: {x: 10, y: 20}
  - id: l1_start
    step_type: loop_start
    parameters: {loop_id: L1, loop_count: 2}
  - step_type: wait
    parameters: {duration: 500}
  - id: l1_end
    step_type: loop_end
    parameters: {loop_id: L1}
`

func TestParse_YAML(t *testing.T) {
	s, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "login-loop", s.Name)
	assert.Equal(t, "alice", s.Variables["user"])
	require.Len(t, s.Steps, 4)
	assert.Equal(t, "step_3", s.Steps[2].ID, "missing ids are generated from position")
	assert.Equal(t, 3, s.Steps[2].Order)
	assert.Equal(t, StepTypeLoopStart, s.Steps[1].Type)
	assert.Equal(t, "L1", s.Steps[1].Parameters[ParamLoopID])
}

func TestParse_JSON(t *testing.T) {
	data := `{"name":"j","steps":[{"id":"a","step_type":"tap","enabled":true}]}`
	s, err := Parse([]byte(data), FormatJSON)
	require.NoError(t, err)
	assert.True(t, s.Steps[0].Enabled)
	assert.Equal(t, "a", s.Steps[0].Name)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Step
		wantErr string
	}{
		{name: "empty", steps: nil, wantErr: "script has no steps"},
		{
			name:    "missing type",
			steps:   []Step{{ID: "a"}},
			wantErr: `step "a" has no step_type`,
		},
		{
			name:    "duplicate action ids",
			steps:   []Step{{ID: "a", Type: "tap"}, {ID: "a", Type: "tap"}},
			wantErr: `duplicate step id "a"`,
		},
		{
			name: "markers may share ids",
			steps: []Step{
				{ID: "L1", Type: StepTypeLoopStart},
				{ID: "x", Type: "tap"},
				{ID: "L1", Type: StepTypeLoopEnd},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Script{Steps: tt.steps}
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *errors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Contains(t, ve.Message, tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nightly.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - id: a\n    step_type: tap\n"), 0o600))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", s.Name, "name defaults to the file stem")

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestStepClone_DeepCopiesParameters(t *testing.T) {
	orig := Step{
		ID:   "a",
		Type: "tap",
		Parameters: map[string]any{
			"target": map[string]any{"x": 1},
			"keys":   []any{"a", "b"},
		},
	}

	c := orig.Clone()
	c.SetParam("new", true)
	c.Parameters["target"].(map[string]any)["x"] = 2
	c.Parameters["keys"].([]any)[0] = "z"

	_, ok := orig.Param("new")
	assert.False(t, ok)
	assert.Equal(t, 1, orig.Parameters["target"].(map[string]any)["x"])
	assert.Equal(t, "a", orig.Parameters["keys"].([]any)[0])
}

func TestStepType_IsMarker(t *testing.T) {
	assert.True(t, StepTypeLoopStart.IsMarker())
	assert.True(t, StepTypeCatch.IsMarker())
	assert.False(t, StepTypeWait.IsMarker())
	assert.False(t, StepType("tap").IsMarker())
}

func TestStep_OriginalID(t *testing.T) {
	s := Action("tap__iter_2", "tap", map[string]any{ParamOriginalStepID: "tap"})
	assert.Equal(t, "tap", s.OriginalID())
	assert.Equal(t, "open", Action("open", "tap", nil).OriginalID())
}
