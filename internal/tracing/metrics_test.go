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
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tombee/scriptflow/pkg/controlflow/engine"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, not an int64 sum", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func newCollector(t *testing.T) (*MetricsCollector, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}
	return mc, reader
}

func TestMetricsCollector_RecordStep(t *testing.T) {
	mc, reader := newCollector(t)
	ctx := context.Background()

	mc.RecordStep(ctx, "tap", engine.OutcomeSucceeded, 10*time.Millisecond)
	mc.RecordStep(ctx, "tap", engine.OutcomeFailed, 20*time.Millisecond)
	mc.RecordStep(ctx, "swipe", engine.OutcomeSkipped, 0)

	got := collect(t, reader)
	if n := sumOf(t, got["scriptflow_steps_total"]); n != 3 {
		t.Errorf("steps_total = %d, want 3", n)
	}

	hist, ok := got["scriptflow_step_duration_seconds"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("step duration is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("expected skipped steps to be left out of durations, got %d samples", count)
	}
}

func TestMetricsCollector_RecordRun(t *testing.T) {
	mc, reader := newCollector(t)
	ctx := context.Background()

	mc.RecordRunStart(ctx)
	mc.RecordRunStart(ctx)

	got := collect(t, reader)
	active, ok := got["scriptflow_active_runs"].Data.(metricdata.Gauge[int64])
	if !ok || len(active.DataPoints) != 1 || active.DataPoints[0].Value != 2 {
		t.Fatalf("expected 2 active runs, got %+v", got["scriptflow_active_runs"].Data)
	}
	if _, ok := got["scriptflow_last_run_success_ratio"]; ok {
		if g := got["scriptflow_last_run_success_ratio"].Data.(metricdata.Gauge[float64]); len(g.DataPoints) != 0 {
			t.Errorf("success ratio reported before any run finished")
		}
	}

	mc.RecordRun(ctx, engine.StateCompleted, engine.Stats{
		TotalDuration: time.Second,
		Successful:    3,
		Failed:        1,
	})

	got = collect(t, reader)
	if n := sumOf(t, got["scriptflow_runs_total"]); n != 1 {
		t.Errorf("runs_total = %d, want 1", n)
	}
	active = got["scriptflow_active_runs"].Data.(metricdata.Gauge[int64])
	if active.DataPoints[0].Value != 1 {
		t.Errorf("active runs = %d, want 1", active.DataPoints[0].Value)
	}
	ratio := got["scriptflow_last_run_success_ratio"].Data.(metricdata.Gauge[float64])
	if len(ratio.DataPoints) != 1 || ratio.DataPoints[0].Value != 0.75 {
		t.Errorf("success ratio = %+v, want 0.75", ratio.DataPoints)
	}
}
