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

package shared

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/pkg/controlflow/preprocess"
)

func TestPreprocessFlags_Apply(t *testing.T) {
	parse := func(t *testing.T, args ...string) *PreprocessFlags {
		t.Helper()
		var f PreprocessFlags
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		f.Register(fs)
		if err := fs.Parse(args); err != nil {
			t.Fatalf("parse: %v", err)
		}
		return &f
	}

	t.Run("no flags keeps config", func(t *testing.T) {
		cfg := config.Default()
		if err := parse(t).Apply(cfg); err != nil {
			t.Fatal(err)
		}
		if cfg.Preprocess.OptimizationLevel != preprocess.OptimizationStandard {
			t.Errorf("level = %q", cfg.Preprocess.OptimizationLevel)
		}
	})

	t.Run("preset then optimization", func(t *testing.T) {
		cfg := config.Default()
		f := parse(t, "--preset", "debug", "--optimization", "basic", "--allow-nested-loops")
		if err := f.Apply(cfg); err != nil {
			t.Fatal(err)
		}
		if !cfg.Preprocess.Parser.AllowUnmatched {
			t.Error("debug preset not applied")
		}
		if cfg.Preprocess.OptimizationLevel != preprocess.OptimizationBasic {
			t.Errorf("level = %q, want basic", cfg.Preprocess.OptimizationLevel)
		}
		if !cfg.Preprocess.Handler.AllowNestedLoops {
			t.Error("nested loops not allowed")
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		for _, args := range [][]string{{"--preset", "turbo"}, {"--optimization", "max"}} {
			err := parse(t, args...).Apply(config.Default())
			exitErr, ok := err.(*ExitError)
			if !ok || exitErr.Code != ExitConfigError {
				t.Errorf("%v: got %v, want config error", args, err)
			}
		}
	})
}
