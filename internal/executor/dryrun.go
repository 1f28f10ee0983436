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

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	"github.com/tombee/scriptflow/pkg/script"
)

// DryRun simulates steps without touching a device. Steps listed in
// FailSteps report failure; everything else succeeds.
type DryRun struct {
	delay     time.Duration
	skipWaits bool
	fail      map[string]bool
	logger    *slog.Logger

	mu       sync.Mutex
	executed []string
}

// NewDryRun creates a simulated executor.
func NewDryRun(cfg config.DryRunConfig, logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	fail := make(map[string]bool, len(cfg.FailSteps))
	for _, id := range cfg.FailSteps {
		fail[id] = true
	}
	return &DryRun{
		delay:     cfg.StepDelay,
		skipWaits: cfg.SkipWaits,
		fail:      fail,
		logger:    logger.With("component", "dryrun"),
	}
}

// ExecuteStep implements engine.StepExecutor.
func (d *DryRun) ExecuteStep(ctx context.Context, step script.Step) (*engine.StepResult, error) {
	d.mu.Lock()
	d.executed = append(d.executed, step.ID)
	d.mu.Unlock()

	if err := sleep(ctx, d.delay); err != nil {
		return nil, err
	}

	if step.Type == script.StepTypeWait {
		return d.wait(ctx, step)
	}

	if d.fail[step.ID] || d.fail[step.OriginalID()] {
		d.logger.Debug("simulated failure", "step_id", step.ID)
		return &engine.StepResult{
			Success: false,
			Message: fmt.Sprintf("simulated failure of step %s", step.OriginalID()),
		}, nil
	}

	data := map[string]any{
		"last_step": step.OriginalID(),
	}
	if i := iteration(step); i > 0 {
		data["last_iteration"] = i
	}
	return &engine.StepResult{
		Success: true,
		Message: fmt.Sprintf("simulated %s", step.Type),
		Data:    data,
	}, nil
}

func (d *DryRun) wait(ctx context.Context, step script.Step) (*engine.StepResult, error) {
	raw, _ := step.Param(script.ParamDuration)
	ms, err := cast.ToInt64E(raw)
	if err != nil || ms < 0 {
		return &engine.StepResult{
			Success: false,
			Message: fmt.Sprintf("invalid wait duration %v", raw),
		}, nil
	}
	dur := time.Duration(ms) * time.Millisecond
	if !d.skipWaits {
		if err := sleep(ctx, dur); err != nil {
			return nil, err
		}
	}
	return &engine.StepResult{
		Success: true,
		Message: fmt.Sprintf("waited %s", dur),
	}, nil
}

// Executed returns the linear step ids seen so far, in call order.
func (d *DryRun) Executed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.executed...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
