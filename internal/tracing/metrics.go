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

package tracing

import (
	"context"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/scriptflow/pkg/controlflow/engine"
)

// MetricsCollector records engine runs and steps as OpenTelemetry metrics.
// It implements engine.Metrics.
type MetricsCollector struct {
	meter metric.Meter

	// Counters
	runsTotal  metric.Int64Counter
	stepsTotal metric.Int64Counter

	// Histograms
	runDuration  metric.Float64Histogram
	stepDuration metric.Float64Histogram

	mu           sync.RWMutex
	activeRuns   int64
	successRatio float64
}

var (
	_ engine.Metrics          = (*MetricsCollector)(nil)
	_ engine.RunStartRecorder = (*MetricsCollector)(nil)
)

// NewMetricsCollector creates a new metrics collector using the given meter provider
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("scriptflow")

	mc := &MetricsCollector{
		meter:        meter,
		successRatio: math.NaN(),
	}

	var err error

	mc.runsTotal, err = meter.Int64Counter(
		"scriptflow_runs_total",
		metric.WithDescription("Total number of plan executions"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	mc.stepsTotal, err = meter.Int64Counter(
		"scriptflow_steps_total",
		metric.WithDescription("Total number of linear steps processed"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, err
	}

	mc.runDuration, err = meter.Float64Histogram(
		"scriptflow_run_duration_seconds",
		metric.WithDescription("Plan execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.stepDuration, err = meter.Float64Histogram(
		"scriptflow_step_duration_seconds",
		metric.WithDescription("Step execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"scriptflow_active_runs",
		metric.WithDescription("Number of plans currently executing"),
		metric.WithUnit("{run}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.mu.RLock()
			n := mc.activeRuns
			mc.mu.RUnlock()
			observer.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Float64ObservableGauge(
		"scriptflow_last_run_success_ratio",
		metric.WithDescription("Share of executed steps that succeeded in the last finished run"),
		metric.WithFloat64Callback(func(ctx context.Context, observer metric.Float64Observer) error {
			mc.mu.RLock()
			ratio := mc.successRatio
			mc.mu.RUnlock()
			if !math.IsNaN(ratio) {
				observer.Observe(ratio)
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordRunStart implements engine.RunStartRecorder.
func (mc *MetricsCollector) RecordRunStart(context.Context) {
	mc.mu.Lock()
	mc.activeRuns++
	mc.mu.Unlock()
}

// RecordStep implements engine.Metrics.
func (mc *MetricsCollector) RecordStep(ctx context.Context, stepType string, outcome engine.Outcome, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("step_type", stepType),
		attribute.String("outcome", string(outcome)),
	)
	mc.stepsTotal.Add(ctx, 1, attrs)
	if outcome != engine.OutcomeSkipped {
		mc.stepDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordRun implements engine.Metrics.
func (mc *MetricsCollector) RecordRun(ctx context.Context, state engine.State, stats engine.Stats) {
	attrs := metric.WithAttributes(attribute.String("state", string(state)))
	mc.runsTotal.Add(ctx, 1, attrs)
	mc.runDuration.Record(ctx, stats.TotalDuration.Seconds(), attrs)

	mc.mu.Lock()
	if mc.activeRuns > 0 {
		mc.activeRuns--
	}
	if executed := stats.Executed(); executed > 0 {
		mc.successRatio = float64(stats.Successful) / float64(executed)
	}
	mc.mu.Unlock()
}
