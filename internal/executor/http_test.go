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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/pkg/httpclient"
	"github.com/tombee/scriptflow/pkg/script"
)

type agent struct {
	mu       sync.Mutex
	requests []StepRequest
	headers  []http.Header
	status   int
	body     string
}

func (a *agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	raw, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(raw, &req)

	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.headers = append(a.headers, r.Header.Clone())
	status, body := a.status, a.body
	a.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func newAgent(t *testing.T, status int, body string) (*agent, *httptest.Server) {
	t.Helper()
	a := &agent{status: status, body: body}
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)
	return a, srv
}

func TestHTTP_ExecuteStep(t *testing.T) {
	a, srv := newAgent(t, http.StatusOK, `{"success":true,"message":"tapped","data":{"screen":"home"}}`)

	h, err := NewHTTP(config.HTTPConfig{
		Endpoint: srv.URL,
		Headers:  map[string]string{"X-Device": "pixel-7"},
	}, nil)
	require.NoError(t, err)

	step := script.Action("A__iter_2", "tap", map[string]any{
		"x":                        10,
		script.ParamOriginalStepID: "A",
		script.ParamLoopIteration:  2,
	})
	res, err := h.ExecuteStep(context.Background(), step)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "tapped", res.Message)
	assert.Equal(t, map[string]any{"screen": "home"}, res.Data)

	require.Len(t, a.requests, 1)
	got := a.requests[0]
	assert.Equal(t, "A__iter_2", got.ID)
	assert.Equal(t, "A", got.OriginalID)
	assert.Equal(t, "tap", got.Type)
	assert.Equal(t, 2, got.Iteration)
	assert.Equal(t, float64(10), got.Parameters["x"])

	hdr := a.headers[0]
	assert.Equal(t, "pixel-7", hdr.Get("X-Device"))
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	assert.True(t, strings.HasSuffix(hdr.Get(httpclient.IdempotencyKeyHeader), "/A__iter_2"))
}

func TestHTTP_ResponseShapes(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSuccess bool
		wantMessage string
		wantData    map[string]any
	}{
		{"empty body", "", true, "", nil},
		{"no success field", `{"message":"done"}`, true, "done", nil},
		{"explicit failure", `{"success":false,"message":"element not found"}`, false, "element not found", nil},
		{"array body", `[1,2]`, true, "", nil},
		{"mistyped data", `{"success":true,"data":"oops"}`, true, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newAgent(t, http.StatusOK, tt.body)
			h, err := NewHTTP(config.HTTPConfig{Endpoint: srv.URL}, nil)
			require.NoError(t, err)

			res, err := h.ExecuteStep(context.Background(), script.Action("A", "tap", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantMessage, res.Message)
			assert.Equal(t, tt.wantData, res.Data)
		})
	}
}

func TestHTTP_Errors(t *testing.T) {
	t.Run("client error status", func(t *testing.T) {
		a, srv := newAgent(t, http.StatusBadRequest, `{"error":"unknown step type"}`)
		h, err := NewHTTP(config.HTTPConfig{Endpoint: srv.URL}, nil)
		require.NoError(t, err)

		_, err = h.ExecuteStep(context.Background(), script.Action("A", "tap", nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 400")
		assert.Contains(t, err.Error(), "unknown step type")
		assert.Len(t, a.requests, 1)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, srv := newAgent(t, http.StatusOK, `not json`)
		h, err := NewHTTP(config.HTTPConfig{Endpoint: srv.URL}, nil)
		require.NoError(t, err)

		_, err = h.ExecuteStep(context.Background(), script.Action("A", "tap", nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid JSON response")
	})

	t.Run("server error is retried", func(t *testing.T) {
		a, srv := newAgent(t, http.StatusServiceUnavailable, ``)
		h, err := NewHTTP(config.HTTPConfig{Endpoint: srv.URL}, nil)
		require.NoError(t, err)

		_, err = h.ExecuteStep(context.Background(), script.Action("A", "tap", nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 503")
		assert.Len(t, a.requests, 3)
		keys := map[string]bool{}
		for _, hdr := range a.headers {
			keys[hdr.Get(httpclient.IdempotencyKeyHeader)] = true
		}
		assert.Len(t, keys, 1)
	})

	t.Run("bad result query", func(t *testing.T) {
		_, err := NewHTTP(config.HTTPConfig{Endpoint: "http://localhost", ResultQuery: ".a |||"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "result_query")
	})
}

func TestHTTP_ResultQuery(t *testing.T) {
	_, srv := newAgent(t, http.StatusOK, `{"ok":true,"payload":{"screen":"settings","battery":81}}`)
	h, err := NewHTTP(config.HTTPConfig{
		Endpoint:    srv.URL,
		ResultQuery: `{screen: .payload.screen, step: $step_id, iteration: $iteration}`,
	}, nil)
	require.NoError(t, err)

	step := script.Action("A__iter_1", "tap", map[string]any{script.ParamLoopIteration: 1})
	res, err := h.ExecuteStep(context.Background(), step)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{
		"screen":    "settings",
		"step":      "A__iter_1",
		"iteration": 1,
	}, res.Data)
}

func TestHTTP_ResultQueryMustReturnObject(t *testing.T) {
	_, srv := newAgent(t, http.StatusOK, `{"payload":{"battery":81}}`)
	h, err := NewHTTP(config.HTTPConfig{Endpoint: srv.URL, ResultQuery: `.payload.battery`}, nil)
	require.NoError(t, err)

	_, err = h.ExecuteStep(context.Background(), script.Action("A", "tap", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want an object")
}

func TestHTTP_RateLimit(t *testing.T) {
	a, srv := newAgent(t, http.StatusOK, `{}`)
	h, err := NewHTTP(config.HTTPConfig{Endpoint: srv.URL, RateLimit: 0.01, Burst: 1}, nil)
	require.NoError(t, err)

	_, err = h.ExecuteStep(context.Background(), script.Action("A", "tap", nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.ExecuteStep(ctx, script.Action("B", "tap", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Len(t, a.requests, 1)
}
