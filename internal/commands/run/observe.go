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

package run

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/internal/tracing"
	"github.com/tombee/scriptflow/pkg/controlflow/engine"
)

const shutdownTimeout = 5 * time.Second

// observer owns the tracing provider and the metrics listener of one run.
type observer struct {
	provider *tracing.Provider
	server   *http.Server
	addr     string
	logger   *slog.Logger
}

// newObserver starts tracing and the metrics endpoint when either is
// enabled. A nil observer means neither is.
func newObserver(ctx context.Context, cfg config.ObservabilityConfig, version string, spanOut io.Writer, logger *slog.Logger) (*observer, error) {
	if !cfg.Tracing.Enabled && !cfg.Metrics.Enabled {
		return nil, nil
	}

	tc := tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		SampleRate:     cfg.Tracing.SampleRate,
		Writer:         spanOut,
	}
	if cfg.Tracing.Enabled {
		tc.Exporter = cfg.Tracing.Exporter
		tc.Endpoint = cfg.Tracing.Endpoint
		tc.Insecure = cfg.Tracing.Insecure
	}
	p, err := tracing.NewProvider(ctx, tc)
	if err != nil {
		return nil, err
	}
	o := &observer{provider: p, logger: logger}

	if cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", p.MetricsHandler())
		o.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		o.addr = ln.Addr().String()
		go func() {
			if err := o.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", o.addr)
	}
	return o, nil
}

// engineOptions wires the provider into an engine.
func (o *observer) engineOptions() []engine.Option {
	if o == nil {
		return nil
	}
	return []engine.Option{
		engine.WithMetrics(o.provider.Metrics()),
		engine.WithTracer(o.provider.Tracer("scriptflow/engine")),
	}
}

// Close flushes spans and stops the metrics listener.
func (o *observer) Close() {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if o.server != nil {
		if err := o.server.Shutdown(ctx); err != nil {
			o.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	if err := o.provider.Shutdown(ctx); err != nil {
		o.logger.Warn("tracing shutdown failed", "error", err)
	}
}
