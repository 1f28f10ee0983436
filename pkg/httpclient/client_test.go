package httpclient

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testConfig(buf *bytes.Buffer) Config {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.Logger = slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout must be > 0"},
		{"negative retries", func(c *Config) { c.RetryAttempts = -1 }, "retry_attempts must be >= 0"},
		{"zero backoff", func(c *Config) { c.RetryBackoff = 0 }, "retry_backoff must be > 0"},
		{"zero backoff without retries", func(c *Config) { c.RetryBackoff = 0; c.RetryAttempts = 0 }, ""},
		{"max below base", func(c *Config) { c.MaxBackoff = time.Millisecond }, "max_backoff"},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }, "user_agent is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UserAgent = ""
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestNew_SetsHeaders(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	var logs bytes.Buffer
	client, err := New(testConfig(&logs))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	resp, err := client.Get(srv.URL + "/steps?token=abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if gotUA != "scriptflow/1.0" {
		t.Errorf("User-Agent = %q, want scriptflow/1.0", gotUA)
	}
	if !strings.Contains(logs.String(), `"msg":"http request"`) {
		t.Errorf("request was not logged: %s", logs.String())
	}
	if strings.Contains(logs.String(), "abc") {
		t.Errorf("token leaked into logs: %s", logs.String())
	}
}

func TestNew_CustomUserAgentKept(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	var logs bytes.Buffer
	client, err := New(testConfig(&logs))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom/2")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if gotUA != "custom/2" {
		t.Errorf("User-Agent = %q, want custom/2", gotUA)
	}
}
