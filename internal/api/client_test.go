package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lamim/bookforge/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testModelCfg(baseURL string) config.ModelConfig {
	return config.ModelConfig{
		BaseURL:            baseURL,
		ModelName:          "test-model",
		Temperature:        0.7,
		TopP:               1.0,
		MaxOutputTokens:    128,
		RateLimitPerMinute: 600,
		HTTPTimeoutSeconds: 10,
		AdapterMaxRetries:  0,
	}
}

func sseChunk(text string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", text)
}

func sseServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprint(w, sseChunk(c))
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestGenerateStreamsChunksInOrder(t *testing.T) {
	server := sseServer(t, "Hello", ", ", "world")
	defer server.Close()

	client := NewClient(testLogger(), nil)
	var received []string
	got, err := client.Generate(context.Background(), testModelCfg(server.URL), "key", "prompt", func(chunk string) {
		received = append(received, chunk)
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "Hello, world" {
		t.Errorf("full text = %q, want %q", got, "Hello, world")
	}
	if len(received) != 3 || received[0] != "Hello" || received[1] != ", " || received[2] != "world" {
		t.Errorf("chunks = %v, want in arrival order", received)
	}
	if strings.Join(received, "") != got {
		t.Error("concatenated chunks must equal the returned text")
	}
}

func TestGenerateNilOnChunk(t *testing.T) {
	server := sseServer(t, "ok")
	defer server.Close()

	client := NewClient(testLogger(), nil)
	got, err := client.Generate(context.Background(), testModelCfg(server.URL), "key", "prompt", nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "ok" {
		t.Errorf("full text = %q, want %q", got, "ok")
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	server := sseServer(t) // [DONE] with no content
	defer server.Close()

	client := NewClient(testLogger(), nil)
	_, err := client.Generate(context.Background(), testModelCfg(server.URL), "key", "prompt", nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Generate = %v, want ErrEmptyResponse", err)
	}
}

func TestGenerateErrorResponseShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"auth_error","code":"bad_key"}}`)
	}))
	defer server.Close()

	client := NewClient(testLogger(), nil)
	_, err := client.Generate(context.Background(), testModelCfg(server.URL), "key", "prompt", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Generate = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if apiErr.Message != "invalid api key" {
		t.Errorf("Message = %q, want provider message", apiErr.Message)
	}
	if apiErr.Type != "auth_error" || apiErr.Code != "bad_key" {
		t.Errorf("Type/Code = %q/%q, want auth_error/bad_key", apiErr.Type, apiErr.Code)
	}
	if apiErr.Retryable {
		t.Error("401 must not be retryable")
	}
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping backoff test in short mode")
	}

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("recovered"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	cfg := testModelCfg(server.URL)
	cfg.AdapterMaxRetries = 1

	client := NewClient(testLogger(), nil)
	got, err := client.Generate(context.Background(), cfg, "key", "prompt", nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "recovered" {
		t.Errorf("full text = %q, want %q", got, "recovered")
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
}

func TestGenerateNoInternalRetryFor500(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom"}}`)
	}))
	defer server.Close()

	cfg := testModelCfg(server.URL)
	cfg.AdapterMaxRetries = 3

	client := NewClient(testLogger(), nil)
	_, err := client.Generate(context.Background(), cfg, "key", "prompt", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Generate = %v, want 500 APIError", err)
	}
	// 500s belong to the caller's retry policy, not the adapter's.
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestGenerateCancellationMidStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, sseChunk("first"))
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(testLogger(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := client.Generate(ctx, testModelCfg(server.URL), "key", "prompt", func(chunk string) {
			if chunk == "first" {
				cancel()
			}
		})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Generate = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Generate did not return after cancellation")
	}
}

func TestGenerateSendsAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("ok"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(testLogger(), nil)
	if _, err := client.Generate(context.Background(), testModelCfg(server.URL), "secret-key", "prompt", nil); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}
