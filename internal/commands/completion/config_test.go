// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package completion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/internal/testing/clitest"
)

func TestCheckFilePermissions(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		mode os.FileMode
		want bool
	}{
		{"owner only", 0o600, true},
		{"read only", 0o400, true},
		{"group readable", 0o640, false},
		{"world readable", 0o644, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, []byte("{}"), tt.mode); err != nil {
				t.Fatal(err)
			}
			if err := os.Chmod(path, tt.mode); err != nil {
				t.Fatal(err)
			}
			if got := CheckFilePermissions(path); got != tt.want {
				t.Errorf("CheckFilePermissions(%o) = %v, want %v", tt.mode, got, tt.want)
			}
		})
	}

	if !CheckFilePermissions(filepath.Join(dir, "missing")) {
		t.Error("expected a missing file to pass")
	}
}

func TestLoadConfigForCompletion(t *testing.T) {
	env := clitest.Setup(t)

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfigForCompletion()
		if err != nil || cfg == nil {
			t.Fatalf("expected defaults, got %v, %v", cfg, err)
		}
	})

	t.Run("permissive file ignored", func(t *testing.T) {
		path := env.Write("open.yaml", "preset: debug\n")
		if err := os.Chmod(path, 0o644); err != nil {
			t.Fatal(err)
		}
		shared.SetConfigPathForTest(path)
		t.Cleanup(func() { shared.SetConfigPathForTest("") })

		cfg, err := LoadConfigForCompletion()
		if err != nil || cfg != nil {
			t.Errorf("expected (nil, nil), got %v, %v", cfg, err)
		}
	})

	t.Run("private file loaded", func(t *testing.T) {
		path := env.Write("private.yaml", "preset: debug\n")
		if err := os.Chmod(path, 0o600); err != nil {
			t.Fatal(err)
		}
		shared.SetConfigPathForTest(path)
		t.Cleanup(func() { shared.SetConfigPathForTest("") })

		cfg, err := LoadConfigForCompletion()
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Preset != "debug" {
			t.Errorf("expected preset debug, got %q", cfg.Preset)
		}
	})
}

func TestSafeCompletionWrapper(t *testing.T) {
	t.Run("panic", func(t *testing.T) {
		got, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
			panic("boom")
		})
		if len(got) != 0 || directive != cobra.ShellCompDirectiveNoFileComp {
			t.Errorf("unexpected result %v, %d", got, directive)
		}
	})

	t.Run("nil results", func(t *testing.T) {
		got, _ := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		})
		if got == nil {
			t.Error("expected a non-nil empty slice")
		}
	})

	t.Run("passthrough", func(t *testing.T) {
		got, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
			return []string{"a"}, cobra.ShellCompDirectiveNoSpace
		})
		if len(got) != 1 || directive != cobra.ShellCompDirectiveNoSpace {
			t.Errorf("unexpected result %v, %d", got, directive)
		}
	})
}
