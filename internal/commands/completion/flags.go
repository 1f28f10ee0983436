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
	"github.com/spf13/cobra"

	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	"github.com/tombee/scriptflow/pkg/controlflow/preprocess"
)

func fixed(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
			return values, cobra.ShellCompDirectiveNoFileComp
		})
	}
}

// CompletePresets completes --preset values.
var CompletePresets = fixed(
	config.PresetDefault+"\tStrict parsing, continue on error",
	config.PresetHighPerformance+"\tDeeper nesting, merged waits",
	config.PresetDebug+"\tTolerant parsing, stop at first failure",
)

// CompleteOptimizationLevels completes --optimization values.
var CompleteOptimizationLevels = fixed(
	string(preprocess.OptimizationNone)+"\tNo caching, progress after every step",
	string(preprocess.OptimizationBasic)+"\tNo caching",
	string(preprocess.OptimizationStandard)+"\tCondition caching",
	string(preprocess.OptimizationAggressive)+"\tCondition caching, sparse progress logs",
)

// CompleteRunStates completes --state values for history filters.
var CompleteRunStates = fixed(
	string(engine.StateCompleted)+"\tRun reached the end of the plan",
	string(engine.StateAborted)+"\tRun stopped at an unhandled failure",
)

// CompleteExecutors completes --executor values.
var CompleteExecutors = fixed(
	config.ExecutorDryRun+"\tRecord steps without side effects",
	config.ExecutorHTTP+"\tPost each step to an HTTP agent",
)

// CompletePlanFormats completes the plan --output values.
var CompletePlanFormats = fixed("table", "yaml")

// RegisterPreprocessFlags attaches completions for the shared preprocessor
// flags of cmd.
func RegisterPreprocessFlags(cmd *cobra.Command) {
	_ = cmd.RegisterFlagCompletionFunc("preset", CompletePresets)
	_ = cmd.RegisterFlagCompletionFunc("optimization", CompleteOptimizationLevels)
}
