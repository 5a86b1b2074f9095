package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/lamim/bookforge/internal/config"
	"github.com/lamim/bookforge/internal/metrics"
)

const (
	// DefaultHTTPTimeout bounds a single streaming request when the model
	// config does not set one.
	DefaultHTTPTimeout = 5 * time.Minute
	// adapterBaseRetryDelay is the base delay for the adapter-internal
	// 429/503 retry. Module-level retries use their own policy.
	adapterBaseRetryDelay = 2 * time.Second
)

// Client streams chat completions from OpenAI-compatible endpoints. It
// normalizes authentication, SSE parsing and error shapes, and performs a
// bounded internal retry for rate-limit responses before surfacing failures.
type Client struct {
	httpClient         *http.Client
	rateLimiterPool    *RateLimiterPool
	logger             *slog.Logger
	collector          *metrics.Collector
	providerRateLimits map[string]int
}

// NewClient creates a new streaming API client.
func NewClient(logger *slog.Logger, collector *metrics.Collector) *Client {
	return &Client{
		// Per-request deadlines come from the context; the transport
		// itself carries no timeout so long streams are not cut off.
		httpClient:      &http.Client{},
		rateLimiterPool: NewRateLimiterPool(),
		logger:          logger,
		collector:       collector,
	}
}

// SetProviderRateLimits configures provider-wide request-per-minute caps
// shared by every model on that provider.
func (c *Client) SetProviderRateLimits(limits map[string]int) {
	c.providerRateLimits = limits
}

// Generate streams a completion for prompt. Every text delta is handed to
// onChunk (which may be nil) in arrival order before being appended to the
// returned full text; no chunk is delivered after Generate returns. When
// ctx is cancelled the stream is abandoned immediately and ctx.Err() is
// returned.
func (c *Client) Generate(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	prompt string,
	onChunk func(string),
) (string, error) {
	timeout := time.Duration(modelCfg.HTTPTimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	modelKey := fmt.Sprintf("%s:%s", modelCfg.BaseURL, modelCfg.ModelName)
	providerName := config.GetProviderName(modelCfg.BaseURL)
	providerRPM := 0
	if c.providerRateLimits != nil {
		providerRPM = c.providerRateLimits[providerName]
	}

	rateLimitStart := time.Now()
	if err := c.rateLimiterPool.Wait(ctx, modelKey, modelCfg.RateLimitPerMinute, providerName, providerRPM); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	if c.collector != nil {
		c.collector.RecordRateLimiterWait(modelCfg.ModelName, time.Since(rateLimitStart))
	}

	req := ChatCompletionRequest{
		Model:       modelCfg.ModelName,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: modelCfg.Temperature,
		TopP:        modelCfg.TopP,
		MaxTokens:   modelCfg.MaxOutputTokens,
		N:           1,
		Stream:      true,
	}

	// Internal retry covers 429/503 only, and only while no chunk has been
	// delivered yet: once text reached the caller a retry would duplicate it.
	var lastErr error
	start := time.Now()
	for attempt := 0; attempt <= modelCfg.AdapterMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * adapterBaseRetryDelay
			maxBackoff := time.Duration(modelCfg.MaxBackoffSeconds) * time.Second
			if maxBackoff > 0 && backoff > maxBackoff {
				backoff = maxBackoff
			}
			jitter := time.Duration(rand.Int63n(int64(backoff)/5 + 1))
			sleep := backoff + jitter

			c.logger.Warn("Retrying rate-limited request",
				"attempt", attempt,
				"max_retries", modelCfg.AdapterMaxRetries,
				"backoff", sleep,
				"model", modelCfg.ModelName)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(sleep):
			}
		}

		text, delivered, err := c.doStreamingRequest(ctx, modelCfg.BaseURL, apiKey, req, onChunk)
		if err == nil {
			if c.collector != nil {
				c.collector.RecordAPIRequest(modelCfg.ModelName, time.Since(start), true)
			}
			return text, nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRateLimit() || delivered {
			break
		}
	}

	if c.collector != nil {
		c.collector.RecordAPIRequest(modelCfg.ModelName, time.Since(start), false)
	}
	return "", lastErr
}

// doStreamingRequest performs one streaming attempt. The delivered flag
// reports whether any chunk reached onChunk, which gates the retry above.
func (c *Client) doStreamingRequest(
	ctx context.Context,
	baseURL string,
	apiKey string,
	req ChatCompletionRequest,
	onChunk func(string),
) (string, bool, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, &APIError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
		}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Error.Message != "" {
			return "", false, &APIError{
				Message:    errResp.Error.Message,
				StatusCode: httpResp.StatusCode,
				Type:       errResp.Error.Type,
				Code:       errResp.Error.Code,
				Retryable:  statusCodeRetryable(httpResp.StatusCode),
			}
		}
		return "", false, &APIError{
			Message:    fmt.Sprintf("request failed with status %d: %s", httpResp.StatusCode, string(bodyBytes)),
			StatusCode: httpResp.StatusCode,
			Retryable:  statusCodeRetryable(httpResp.StatusCode),
		}
	}

	var content strings.Builder
	delivered := false

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return "", delivered, ctx.Err()
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk StreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("Failed to parse stream chunk", "error", err, "data", data)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			content.WriteString(delta)
			delivered = true
			if onChunk != nil {
				onChunk(delta)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return "", delivered, ctx.Err()
		}
		return "", delivered, &APIError{
			Message:   fmt.Sprintf("stream reading error: %v", err),
			Retryable: true,
		}
	}
	if ctx.Err() != nil {
		return "", delivered, ctx.Err()
	}

	if content.Len() == 0 {
		return "", delivered, ErrEmptyResponse
	}
	return content.String(), delivered, nil
}
