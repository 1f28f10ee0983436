package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func flakyServer(t *testing.T, failures int32, status int) (*httptest.Server, *atomic.Int32, *[]string) {
	t.Helper()
	var calls atomic.Int32
	bodies := []string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if calls.Add(1) <= failures {
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &bodies
}

func TestRetry_GetRetriesTransientStatus(t *testing.T) {
	srv, calls, _ := flakyServer(t, 2, http.StatusServiceUnavailable)

	var logs bytes.Buffer
	client, err := New(testConfig(&logs))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetry_ExhaustedReturnsLastResponse(t *testing.T) {
	srv, calls, _ := flakyServer(t, 10, http.StatusBadGateway)

	var logs bytes.Buffer
	client, err := New(testConfig(&logs))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetry_PostWithoutKeyNotRetried(t *testing.T) {
	srv, calls, _ := flakyServer(t, 1, http.StatusServiceUnavailable)

	var logs bytes.Buffer
	client, err := New(testConfig(&logs))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Post(srv.URL, "application/json", bytes.NewReader([]byte(`{"a":1}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRetry_PostWithKeyResendsBody(t *testing.T) {
	srv, calls, bodies := flakyServer(t, 1, http.StatusTooManyRequests)

	var logs bytes.Buffer
	client, err := New(testConfig(&logs))
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader([]byte(`{"step":"A"}`)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(IdempotencyKeyHeader, "run-1/A")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	for i, b := range *bodies {
		if b != `{"step":"A"}` {
			t.Errorf("attempt %d body = %q", i+1, b)
		}
	}
}

func TestRetry_NonRetryableStatus(t *testing.T) {
	srv, calls, _ := flakyServer(t, 1, http.StatusBadRequest)

	var logs bytes.Buffer
	client, err := New(testConfig(&logs))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestShouldRetryStatus(t *testing.T) {
	tests := map[int]bool{
		200: false, 400: false, 404: false,
		408: true, 429: true, 500: true, 503: true, 599: true,
	}
	for code, want := range tests {
		if got := shouldRetryStatus(code); got != want {
			t.Errorf("shouldRetryStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("tls: bad certificate"), false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	rt := &retryTransport{baseBackoff: 100 * time.Millisecond, maxBackoff: time.Second}
	tests := []struct {
		attempt int
		min     time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}
	for _, tt := range tests {
		got := rt.calculateBackoff(tt.attempt)
		maxWant := tt.min + tt.min/5
		if got < tt.min || got > maxWant {
			t.Errorf("calculateBackoff(%d) = %v, want in [%v, %v]", tt.attempt, got, tt.min, maxWant)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	if got := parseRetryAfter(resp); got != 0 {
		t.Errorf("no header = %v", got)
	}
	resp.Header.Set("Retry-After", "3")
	if got := parseRetryAfter(resp); got != 3*time.Second {
		t.Errorf("seconds = %v, want 3s", got)
	}
	resp.Header.Set("Retry-After", time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat))
	if got := parseRetryAfter(resp); got != 0 {
		t.Errorf("past date = %v, want 0", got)
	}
	resp.Header.Set("Retry-After", "soon")
	if got := parseRetryAfter(resp); got != 0 {
		t.Errorf("garbage = %v, want 0", got)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	srv, _, _ := flakyServer(t, 10, http.StatusServiceUnavailable)

	var logs bytes.Buffer
	cfg := testConfig(&logs)
	cfg.RetryBackoff = time.Second
	cfg.MaxBackoff = time.Second
	client, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	_, err = client.Do(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want deadline exceeded", err)
	}
}
