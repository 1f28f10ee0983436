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
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	"github.com/tombee/scriptflow/pkg/controlflow/preprocess"
	"github.com/tombee/scriptflow/pkg/script"
)

func okExecutor() engine.StepExecutor {
	return engine.StepExecutorFunc(func(context.Context, script.Step) (*engine.StepResult, error) {
		return &engine.StepResult{Success: true}, nil
	})
}

func TestProvider_EngineSpansAndMetrics(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()

	provider, err := NewProvider(ctx, Config{ServiceName: "test"}, sdktrace.WithSyncer(exporter))
	require.NoError(t, err)
	defer provider.Shutdown(ctx)

	cfg := preprocess.DefaultConfig()
	eng := engine.New(cfg.Engine,
		engine.WithTracer(provider.Tracer("scriptflow/engine")),
		engine.WithMetrics(provider.Metrics()),
	)
	p := preprocess.New(cfg, preprocess.WithEngine(eng))

	steps := []script.Step{
		script.LoopStart("L1", 2),
		script.Action("tap", "tap", nil),
		script.LoopEnd("L1"),
	}
	res, err := p.PreprocessAndExecute(ctx, steps, okExecutor())
	require.NoError(t, err)
	require.True(t, res.Success)

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "scriptflow.run")
	assert.Contains(t, names, "step: tap__iter_1")
	assert.Contains(t, names, "step: tap__iter_2")

	srv := httptest.NewServer(provider.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "scriptflow_runs_total")
	assert.Contains(t, string(body), "scriptflow_steps_total")
	assert.Contains(t, string(body), `state="completed"`)
}

func TestProvider_StdoutExporter(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	provider, err := NewProvider(ctx, Config{Exporter: ExporterStdout, Writer: &buf})
	require.NoError(t, err)

	_, span := provider.Tracer("test").Start(ctx, "stdout-span")
	span.End()
	require.NoError(t, provider.Shutdown(ctx))

	assert.Contains(t, buf.String(), "stdout-span")
}

func TestProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown exporter", cfg: Config{Exporter: "zipkin"}},
		{name: "otlp without endpoint", cfg: Config{Exporter: ExporterOTLPHTTP}},
		{name: "bad sample rate", cfg: Config{SampleRate: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewExporter_None(t *testing.T) {
	exp, err := NewExporter(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.Nil(t, exp)
}

func TestNewExporter_OTLP(t *testing.T) {
	// Exporter construction does not dial; connection errors surface on export.
	for _, kind := range []string{ExporterOTLPHTTP, ExporterOTLPGRPC} {
		exp, err := NewExporter(context.Background(), Config{Exporter: kind, Endpoint: "localhost:4317", Insecure: true})
		require.NoError(t, err, kind)
		require.NotNil(t, exp)
		_ = exp.Shutdown(context.Background())
	}
}
