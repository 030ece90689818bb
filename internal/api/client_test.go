package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("http://localhost:8000/api/", "")

		if c.baseURL != "http://localhost:8000/api" {
			t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
		if !strings.HasPrefix(c.userAgent, "btc-dashboard/") {
			t.Errorf("userAgent = %q", c.userAgent)
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("http://localhost:8000/api", "key",
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
			WithRateLimit(5, 2),
			WithUserAgent("test-agent"),
		)
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 10)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
		if c.limiter.Limit() != 5 || c.limiter.Burst() != 2 {
			t.Errorf("limiter = %v/%d, want 5/2", c.limiter.Limit(), c.limiter.Burst())
		}
		if c.userAgent != "test-agent" {
			t.Errorf("userAgent = %q, want %q", c.userAgent, "test-agent")
		}
	})

	t.Run("nil logger keeps default", func(t *testing.T) {
		c := NewClient("http://x", "", WithLogger(nil))
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 404, Message: "Not Found"}
		expected := "backend api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{429, true},
			{400, false},
			{401, false},
			{404, false},
			{499, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})

	t.Run("detail message", func(t *testing.T) {
		if got := errorMessage(500, []byte(`{"detail":"Failed to fetch market data"}`)); got != "Failed to fetch market data" {
			t.Errorf("errorMessage = %q", got)
		}
		if got := errorMessage(422, []byte(`{"detail":[{"loc":["query"]}]}`)); got != "Unprocessable Entity" {
			t.Errorf("errorMessage = %q", got)
		}
		if got := errorMessage(502, []byte(`bad gateway`)); got != "Bad Gateway" {
			t.Errorf("errorMessage = %q", got)
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("User-Agent") != "ua/1" {
				t.Errorf("User-Agent = %q, want %q", r.Header.Get("User-Agent"), "ua/1")
			}
			if r.Header.Get("Authorization") != "" {
				t.Errorf("Authorization header should be empty, got %q", r.Header.Get("Authorization"))
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithUserAgent("ua/1"))
		body, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("request with API key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-key" {
				t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer test-key")
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "test-key")
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "Trade not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if apiErr.Message != "Trade not found" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Trade not found")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error should wrap context.Canceled, got %v", err)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		// One token per ten seconds: the second call must wait past the deadline.
		c := NewClient(server.URL, "", WithRateLimit(0.1, 1))
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/a", nil); err != nil {
			t.Fatalf("first request: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if _, err := c.doRequest(ctx, http.MethodGet, "/b", nil); err == nil {
			t.Fatal("expected rate limit error")
		}
		if atomic.LoadInt32(&hits) != 1 {
			t.Errorf("hits = %d, want 1", hits)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q", string(body))
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("honors Retry-After on 429", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(1, time.Millisecond))
		start := time.Now()
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < time.Second {
			t.Errorf("retried after %v, want at least the 1s Retry-After", elapsed)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("zero retries", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(0, time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Fatalf("error = %v, want max retries exceeded", err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
			t.Errorf("error should wrap the last APIError, got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})
}

// lastRequest records the most recent request URL seen by a test server.
type lastRequest struct {
	mu    sync.Mutex
	path  string
	query string
}

func (l *lastRequest) set(r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path, l.query = r.URL.Path, r.URL.RawQuery
}

func (l *lastRequest) get() (string, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path, l.query
}

func TestEndpoints(t *testing.T) {
	var last lastRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last.set(r)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api", "", WithRetries(0, time.Millisecond))
	ctx := context.Background()

	tests := []struct {
		name      string
		call      func() ([]byte, error)
		wantPath  string
		wantQuery string
	}{
		{"market", func() ([]byte, error) { return c.Market(ctx) }, "/api/market", ""},
		{"fear greed", func() ([]byte, error) { return c.FearGreed(ctx) }, "/api/fear-greed", ""},
		{"indicators", func() ([]byte, error) { return c.Indicators(ctx) }, "/api/indicators", ""},
		{"statistics", func() ([]byte, error) { return c.Statistics(ctx) }, "/api/statistics", ""},
		{"portfolio", func() ([]byte, error) { return c.Portfolio(ctx) }, "/api/portfolio", ""},
		{"trades", func() ([]byte, error) { return c.Trades(ctx, 50) }, "/api/trades", "limit=50"},
		{"trades without limit", func() ([]byte, error) { return c.Trades(ctx, 0) }, "/api/trades", ""},
		{"reflections", func() ([]byte, error) { return c.Reflections(ctx, 5) }, "/api/reflections", "limit=5"},
		{"chart", func() ([]byte, error) { return c.Chart(ctx, "minute60", 24) }, "/api/chart/ohlcv", "count=24&interval=minute60"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.call(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gotPath, gotQuery := last.get()
			if gotPath != tt.wantPath {
				t.Errorf("path = %q, want %q", gotPath, tt.wantPath)
			}
			if gotQuery != tt.wantQuery {
				t.Errorf("query = %q, want %q", gotQuery, tt.wantQuery)
			}
		})
	}

	t.Run("chart rejects unknown interval", func(t *testing.T) {
		before, _ := last.get()
		last.set(httptest.NewRequest(http.MethodGet, "/sentinel", nil))
		if _, err := c.Chart(ctx, "minute2", 10); err == nil {
			t.Fatal("expected error")
		}
		if p, _ := last.get(); p != "/sentinel" {
			t.Errorf("request should not be sent, last path %q (was %q)", p, before)
		}
	})
}

func TestFetcher(t *testing.T) {
	var last lastRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last.set(r)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(0, time.Millisecond))

	interval := model.ChartInterval("day")
	params := FetcherParams{
		TradeLimit:      50,
		ReflectionLimit: 5,
		ChartInterval:   func() model.ChartInterval { return interval },
	}

	for _, d := range model.Domains {
		if _, err := c.Fetcher(d, params); err != nil {
			t.Errorf("Fetcher(%s): %v", d, err)
		}
	}
	if _, err := c.Fetcher("orderbook", params); err == nil {
		t.Error("expected error for unknown domain")
	}

	fetch, _ := c.Fetcher(model.DomainChart, params)
	if _, err := fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, gotQuery := last.get(); gotQuery != "count=30&interval=day" {
		t.Errorf("query = %q, want day with 30 candles", gotQuery)
	}

	interval = "minute60"
	if _, err := fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, gotQuery := last.get(); gotQuery != "count=24&interval=minute60" {
		t.Errorf("query = %q, want interval change picked up", gotQuery)
	}
}

func TestActions(t *testing.T) {
	t.Run("manual trade", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			if r.URL.Path != "/manual-trade" {
				t.Errorf("path = %q", r.URL.Path)
			}
			if r.URL.Query().Get("decision") != "buy" || r.URL.Query().Get("percentage") != "25" {
				t.Errorf("query = %q", r.URL.RawQuery)
			}
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		resp, err := c.ManualTrade(context.Background(), model.DecisionBuy, 25)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(string(resp), `"success":true`) {
			t.Errorf("resp = %s", resp)
		}
	})

	t.Run("manual trade validation", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", "")
		cases := []struct {
			decision string
			pct      int
		}{
			{model.DecisionHold, 50},
			{"short", 50},
			{model.DecisionSell, 0},
			{model.DecisionSell, 101},
		}
		for _, tc := range cases {
			if _, err := c.ManualTrade(context.Background(), tc.decision, tc.pct); !errors.Is(err, ErrInvalidAction) {
				t.Errorf("ManualTrade(%q, %d) error = %v, want ErrInvalidAction", tc.decision, tc.pct, err)
			}
		}
	})

	t.Run("actions are not retried", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(3, time.Millisecond))
		if _, err := c.AITrade(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("ai analysis", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("include_balance") != "true" {
				t.Errorf("include_balance = %q", r.URL.Query().Get("include_balance"))
			}
			w.Write([]byte(`{"decision":"hold","percentage":0,"reason":"flat"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		resp, err := c.AIAnalysis(context.Background(), true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !json.Valid(resp) {
			t.Errorf("resp = %s", resp)
		}
	})

	t.Run("non-JSON response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		if _, err := c.AITrade(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}
