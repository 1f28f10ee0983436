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

// Package executor provides the step executors used by the run command: a
// simulated dry run and an HTTP client that posts each step to a device
// agent.
package executor

import (
	"log/slog"

	"github.com/spf13/cast"

	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	"github.com/tombee/scriptflow/pkg/errors"
	"github.com/tombee/scriptflow/pkg/script"
)

// New builds the executor selected by cfg.Kind.
func New(cfg config.ExecutorConfig, logger *slog.Logger) (engine.StepExecutor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Kind {
	case config.ExecutorDryRun, "":
		return NewDryRun(cfg.DryRun, logger), nil
	case config.ExecutorHTTP:
		return NewHTTP(cfg.HTTP, logger)
	}
	return nil, &errors.ConfigError{
		Key:    "executor.kind",
		Reason: "unknown executor " + cfg.Kind + " (expected dryrun or http)",
	}
}

// iteration returns the 1-based loop iteration of an expanded step, or 0.
func iteration(step script.Step) int {
	v, ok := step.Param(script.ParamLoopIteration)
	if !ok {
		return 0
	}
	return cast.ToInt(v)
}
