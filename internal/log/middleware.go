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

package log

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cast"

	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	"github.com/tombee/scriptflow/pkg/script"
)

// StepMiddleware wraps a step executor and logs every call.
type StepMiddleware struct {
	next   engine.StepExecutor
	logger *slog.Logger
}

// NewStepMiddleware creates a logging wrapper around next.
func NewStepMiddleware(logger *slog.Logger, next engine.StepExecutor) *StepMiddleware {
	return &StepMiddleware{
		next:   next,
		logger: logger,
	}
}

// stepAttrs identifies step, including where loop expansion and branch
// selection put it.
func stepAttrs(step script.Step) []any {
	attrs := []any{StepIDKey, step.ID}
	if orig := step.OriginalID(); orig != step.ID {
		attrs = append(attrs, OriginalIDKey, orig)
	}
	if v, ok := step.Param(script.ParamLoopIteration); ok {
		attrs = append(attrs, IterationKey, cast.ToInt(v))
	}
	if v, ok := step.Param(script.ParamBranch); ok {
		attrs = append(attrs, BranchKey, cast.ToString(v))
	}
	return attrs
}

// ExecuteStep implements engine.StepExecutor.
func (m *StepMiddleware) ExecuteStep(ctx context.Context, step script.Step) (*engine.StepResult, error) {
	id := stepAttrs(step)
	m.logger.DebugContext(ctx, "step started",
		append([]any{EventKey, "step_start", "step_type", step.Type, "name", step.Name}, id...)...)
	Trace(ctx, m.logger, "step parameters", slog.String(StepIDKey, step.ID), slog.Any("parameters", step.Parameters))

	start := time.Now()
	res, err := m.next.ExecuteStep(ctx, step)

	attrs := append([]any{EventKey, "step_end", DurationKey, time.Since(start).Milliseconds()}, id...)
	switch {
	case err != nil:
		m.logger.ErrorContext(ctx, "step failed", append(attrs, "error", err.Error())...)
	case res == nil || !res.Success:
		msg := ""
		if res != nil {
			msg = res.Message
		}
		m.logger.WarnContext(ctx, "step unsuccessful", append(attrs, "message", msg)...)
	default:
		if len(res.Data) > 0 {
			attrs = append(attrs, "data_keys", len(res.Data))
		}
		m.logger.InfoContext(ctx, "step completed", attrs...)
	}
	return res, err
}
