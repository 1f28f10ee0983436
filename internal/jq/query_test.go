package jq

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestQuery_Run(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		data       any
		vars       Vars
		want       any
		wantErr    bool
	}{
		{
			name: "empty expression returns data as-is",
			data: map[string]any{"foo": "bar"},
			want: map[string]any{"foo": "bar"},
		},
		{
			name:       "simple field extraction",
			expression: ".foo",
			data:       map[string]any{"foo": "bar"},
			want:       "bar",
		},
		{
			name:       "array map",
			expression: "map(.x)",
			data:       []any{map[string]any{"x": 1.0}, map[string]any{"x": 2.0}},
			want:       []any{1.0, 2.0},
		},
		{
			name:       "several results become a slice",
			expression: ".[]",
			data:       []any{"a", "b"},
			want:       []any{"a", "b"},
		},
		{
			name:       "no results",
			expression: "empty",
			data:       map[string]any{},
			want:       nil,
		},
		{
			name:       "step variables",
			expression: `{id: $step_id, type: $step_type, n: $iteration}`,
			data:       nil,
			vars:       Vars{StepID: "tap__iter_2", StepType: "tap", Iteration: 2},
			want:       map[string]any{"id": "tap__iter_2", "type": "tap", "n": 2},
		},
		{
			name:       "runtime error",
			expression: `error("boom")`,
			data:       nil,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Compile(tt.expression)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got, err := q.Run(context.Background(), tt.data, tt.vars)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" && !tt.wantErr {
				t.Errorf("Run() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		expression string
		wantErr    bool
	}{
		{expression: "", wantErr: false},
		{expression: ".foo", wantErr: false},
		{expression: "$step_id", wantErr: false},
		{expression: ".[", wantErr: true},
		{expression: "$unknown", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			err := Validate(tt.expression)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.expression, err, tt.wantErr)
			}
		})
	}
}

func TestQuery_RunObject(t *testing.T) {
	q, err := Compile(".data")
	if err != nil {
		t.Fatal(err)
	}

	got, err := q.RunObject(context.Background(), map[string]any{"data": map[string]any{"ok": true}}, Vars{})
	if err != nil {
		t.Fatalf("RunObject() error = %v", err)
	}
	if got["ok"] != true {
		t.Errorf("RunObject() = %v", got)
	}

	_, err = q.RunObject(context.Background(), map[string]any{"data": "text"}, Vars{})
	if err == nil || !strings.Contains(err.Error(), "want an object") {
		t.Errorf("expected object error, got %v", err)
	}
}

func TestQuery_Timeout(t *testing.T) {
	q, err := Compile("last(range(1e18))")
	if err != nil {
		t.Fatal(err)
	}

	_, err = q.WithLimits(100*time.Millisecond, 0).Run(context.Background(), 0, Vars{})
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestQuery_MaxInputSize(t *testing.T) {
	q, err := Compile(".")
	if err != nil {
		t.Fatal(err)
	}

	_, err = q.WithLimits(0, 8).Run(context.Background(), "a long string value", Vars{})
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	type payload struct {
		N int `json:"n"`
	}
	got, err := Normalize(payload{N: 3})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"n": 3.0}, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}
