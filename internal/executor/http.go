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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/internal/jq"
	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	"github.com/tombee/scriptflow/pkg/httpclient"
	"github.com/tombee/scriptflow/pkg/script"
)

// maxResponseSize caps how much of a device agent response is read.
const maxResponseSize = 1 << 20

// StepRequest is the JSON body posted for every step.
type StepRequest struct {
	ID         string         `json:"id"`
	OriginalID string         `json:"original_id"`
	Name       string         `json:"name,omitempty"`
	Type       string         `json:"step_type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Iteration  int            `json:"iteration,omitempty"`
}

// StepResponse is the response shape understood without a result query.
// A missing success field means success.
type StepResponse struct {
	Success *bool          `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// HTTP posts each step to a device agent endpoint.
type HTTP struct {
	client   *http.Client
	endpoint string
	headers  map[string]string
	limiter  *rate.Limiter
	query    *jq.Query
	runKey   string
	logger   *slog.Logger
}

// NewHTTP creates an HTTP executor from cfg.
func NewHTTP(cfg config.HTTPConfig, logger *slog.Logger) (*HTTP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http executor: endpoint is required")
	}

	clientCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.Timeout
	}
	clientCfg.Logger = logger
	client, err := httpclient.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("http executor: %w", err)
	}

	var query *jq.Query
	if cfg.ResultQuery != "" {
		query, err = jq.Compile(cfg.ResultQuery)
		if err != nil {
			return nil, fmt.Errorf("http executor: result_query: %w", err)
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTP{
		client:   client,
		endpoint: cfg.Endpoint,
		headers:  cfg.Headers,
		limiter:  limiter,
		query:    query,
		runKey:   uuid.NewString(),
		logger:   logger.With("component", "http_executor"),
	}, nil
}

// ExecuteStep implements engine.StepExecutor. Transport errors and non-2xx
// responses are returned as errors; a response reporting success false is
// an unsuccessful result.
func (h *HTTP) ExecuteStep(ctx context.Context, step script.Step) (*engine.StepResult, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	body, err := json.Marshal(StepRequest{
		ID:         step.ID,
		OriginalID: step.OriginalID(),
		Name:       step.Name,
		Type:       string(step.Type),
		Parameters: step.Parameters,
		Iteration:  iteration(step),
	})
	if err != nil {
		return nil, fmt.Errorf("encode step %s: %w", step.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	// Linear step ids are unique within a plan, so a retried post can be
	// deduplicated by the agent.
	req.Header.Set(httpclient.IdempotencyKeyHeader, h.runKey+"/"+step.ID)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post step %s: %w", step.ID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response for step %s: %w", step.ID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("step %s: device agent returned status %d: %s",
			step.ID, resp.StatusCode, truncate(string(raw), 200))
	}

	return h.decode(ctx, step, raw)
}

func (h *HTTP) decode(ctx context.Context, step script.Step, raw []byte) (*engine.StepResult, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &engine.StepResult{Success: true}, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("step %s: invalid JSON response: %w", step.ID, err)
	}

	var parsed StepResponse
	if _, ok := doc.(map[string]any); ok {
		// Mistyped fields are left at their zero value.
		_ = json.Unmarshal(raw, &parsed)
	}

	res := &engine.StepResult{
		Success: parsed.Success == nil || *parsed.Success,
		Message: parsed.Message,
		Data:    parsed.Data,
	}

	if h.query != nil {
		data, err := h.query.RunObject(ctx, doc, jq.Vars{
			StepID:    step.ID,
			StepType:  string(step.Type),
			Iteration: iteration(step),
		})
		if err != nil {
			return nil, fmt.Errorf("step %s: result query: %w", step.ID, err)
		}
		res.Data = data
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
