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

/*
Package tracing wires OpenTelemetry into script execution.

A Provider owns a tracer provider and a meter provider. Spans go to the
exporter named in Config (stdout, OTLP over HTTP or OTLP over gRPC). Metrics
are collected by a MetricsCollector and served in Prometheus text format.

	provider, err := tracing.NewProvider(ctx, tracing.Config{
	    ServiceName: "scriptflow",
	    Exporter:    tracing.ExporterStdout,
	})
	if err != nil {
	    return err
	}
	defer provider.Shutdown(ctx)

	eng := engine.New(cfg,
	    engine.WithTracer(provider.Tracer("scriptflow/engine")),
	    engine.WithMetrics(provider.Metrics()),
	)

	http.Handle("/metrics", provider.MetricsHandler())

# Metrics

  - scriptflow_runs_total{state}
  - scriptflow_run_duration_seconds{state}
  - scriptflow_steps_total{step_type,outcome}
  - scriptflow_step_duration_seconds{step_type,outcome}
  - scriptflow_active_runs
  - scriptflow_last_run_success_ratio
*/
package tracing
