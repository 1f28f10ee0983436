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
	"github.com/spf13/pflag"

	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/pkg/controlflow/preprocess"
)

// PreprocessFlags are the preprocessor overrides accepted by plan, analyze
// and run.
type PreprocessFlags struct {
	Preset       string
	Optimization string
	AllowNested  bool
}

// Register adds the override flags to fs.
func (f *PreprocessFlags) Register(fs *pflag.FlagSet) {
	fs.StringVar(&f.Preset, "preset", "", "Preprocessor preset (default, high_performance, debug)")
	fs.StringVar(&f.Optimization, "optimization", "", "Optimization level (none, basic, standard, aggressive)")
	fs.BoolVar(&f.AllowNested, "allow-nested-loops", false, "Expand loops nested inside loops")
}

// Apply writes the overrides into cfg. A preset replaces the preprocess
// section; the other flags are applied after it.
func (f *PreprocessFlags) Apply(cfg *config.Config) error {
	if f.Preset != "" {
		pc, err := config.PresetConfig(f.Preset)
		if err != nil {
			return NewConfigError("invalid --preset", err)
		}
		cfg.Preset = f.Preset
		cfg.Preprocess = pc
	}
	if f.Optimization != "" {
		level := preprocess.OptimizationLevel(f.Optimization)
		if err := level.Validate(); err != nil {
			return NewConfigError("invalid --optimization", err)
		}
		cfg.Preprocess.OptimizationLevel = level
	}
	if f.AllowNested {
		cfg.Preprocess.Handler.AllowNestedLoops = true
	}
	return nil
}
