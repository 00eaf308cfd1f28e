package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// OpenRouterClient is the model gateway client. Every call goes through the
// rate limiter (Acquire before, Observe after) and is recorded by the
// performance monitor. Rate-limit rejections are retried transparently up to
// the limiter's attempt ceiling; all other failures are returned as typed
// CallErrors.
type OpenRouterClient struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	limiter    *AdaptiveRateLimiter
	monitor    *PerformanceMonitor
}

// NewOpenRouterClient creates a gateway client. Per-call timeouts come from
// the caller's context, not the HTTP client.
func NewOpenRouterClient(apiURL, apiKey string, limiter *AdaptiveRateLimiter, monitor *PerformanceMonitor) *OpenRouterClient {
	return &OpenRouterClient{
		apiURL:     apiURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		limiter:    limiter,
		monitor:    monitor,
	}
}

// QueryModel queries a single model with the given per-call timeout.
// Returns the model's response or a *CallError describing the failure.
func (c *OpenRouterClient) QueryModel(ctx context.Context, model string, messages []OpenRouterMessage, timeout time.Duration) (*OpenRouterResponse, error) {
	start := time.Now()
	defer func() {
		c.monitor.RecordModelCall(model, time.Since(start))
	}()

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Acquire(ctx, model); err != nil {
			return nil, &CallError{Provider: model, Kind: ErrKindTransport, Err: err}
		}

		response, callErr := c.doCall(ctx, model, messages, timeout)
		if callErr == nil {
			return response, nil
		}

		if callErr.Kind == ErrKindRateLimited {
			retry, err := c.limiter.OnRejected(ctx, model, attempt, callErr.RetryAfter)
			if err != nil {
				// Cancelled while backing off; surface the original failure.
				return nil, callErr
			}
			if retry {
				continue
			}
		}

		return nil, callErr
	}
}

// doCall makes one HTTP round trip and classifies the outcome.
func (c *OpenRouterClient) doCall(ctx context.Context, model string, messages []OpenRouterMessage, timeout time.Duration) (*OpenRouterResponse, *CallError) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Build request payload
	payload := OpenRouterRequest{
		Model:    model,
		Messages: messages,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, &CallError{Provider: model, Kind: ErrKindTransport, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(callCtx, "POST", c.apiURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, &CallError{Provider: model, Kind: ErrKindTransport, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(model, err)
	}
	defer resp.Body.Close()

	// Feed quota headers back to the limiter regardless of status.
	c.limiter.Observe(model, resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, &CallError{
			Provider:   model,
			Kind:       ErrKindRateLimited,
			RetryAfter: parseRetryAfter(resp.Header),
			Err:        fmt.Errorf("API returned status 429"),
		}
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &CallError{
			Provider: model,
			Kind:     ErrKindProvider,
			Err:      fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes)),
		}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(model, err)
	}

	var apiResponse OpenRouterAPIResponse
	if err := json.Unmarshal(bodyBytes, &apiResponse); err != nil {
		return nil, &CallError{Provider: model, Kind: ErrKindProvider, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if len(apiResponse.Choices) == 0 {
		return nil, &CallError{Provider: model, Kind: ErrKindProvider, Err: fmt.Errorf("no choices in response")}
	}

	message := apiResponse.Choices[0].Message
	if message.Content == "" {
		return nil, &CallError{Provider: model, Kind: ErrKindProvider, Err: fmt.Errorf("empty response content")}
	}

	return &OpenRouterResponse{
		Content:          message.Content,
		ReasoningDetails: message.ReasoningDetails,
	}, nil
}

// classifyTransportError separates per-call timeouts from other network
// failures.
func classifyTransportError(model string, err error) *CallError {
	kind := ErrKindTransport

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		kind = ErrKindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrKindTimeout
	}

	return &CallError{Provider: model, Kind: kind, Err: err}
}

// parseRetryAfter reads a seconds-valued Retry-After header. The HTTP-date
// form is rare on OpenRouter and is ignored.
func parseRetryAfter(headers http.Header) time.Duration {
	v := headers.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
