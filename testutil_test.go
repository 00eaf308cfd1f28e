package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// newTestConfig returns a council config for tests.
func newTestConfig(models []string, chairman string, minSuccessful int) *CouncilConfig {
	return &CouncilConfig{
		CouncilModels:       models,
		ChairmanModel:       chairman,
		TitleModel:          "test/title-model",
		QueryTimeoutSeconds: 5,
		TitleTimeoutSeconds: 5,
		MinSuccessful:       minSuccessful,
		Backoff:             BackoffConfig{BaseSeconds: 1, MaxAttempts: 5},
		RateLimitLowWater:   0.1,
	}
}

// modelBehavior describes how the mock OpenRouter server answers one model.
type modelBehavior struct {
	content string
	status  int // 0 means 200
	delay   time.Duration
	headers map[string]string
}

// newMockCouncilServer builds a mock OpenRouter endpoint that routes
// responses by the model field of the request body. Models without an entry
// get a 500.
func newMockCouncilServer(t *testing.T, behaviors map[string]modelBehavior) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Errorf("Missing Authorization header")
		}

		var request OpenRouterRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		behavior, ok := behaviors[request.Model]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("no behavior for model " + request.Model))
			return
		}

		if behavior.delay > 0 {
			time.Sleep(behavior.delay)
		}

		for k, v := range behavior.headers {
			w.Header().Set(k, v)
		}

		if behavior.status != 0 && behavior.status != http.StatusOK {
			w.WriteHeader(behavior.status)
			w.Write([]byte("mock error"))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(apiResponseJSON(t, behavior.content))
	}))
}

// apiResponseJSON builds an OpenRouter chat-completions response body.
func apiResponseJSON(t *testing.T, content string) []byte {
	t.Helper()

	var apiResponse OpenRouterAPIResponse
	apiResponse.Choices = make([]struct {
		Message struct {
			Content          string      `json:"content"`
			ReasoningDetails interface{} `json:"reasoning_details,omitempty"`
		} `json:"message"`
	}, 1)
	apiResponse.Choices[0].Message.Content = content

	data, err := json.Marshal(apiResponse)
	if err != nil {
		t.Fatalf("Failed to marshal API response: %v", err)
	}
	return data
}

// fakeSleeper records sleeps instead of performing them.
type fakeSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
	fail  error
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.slept = append(f.slept, d)
	return nil
}

func (f *fakeSleeper) durations() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.slept))
	copy(out, f.slept)
	return out
}

// newTestClient wires a gateway client to a mock server with instant sleeps.
func newTestClient(serverURL string, cfg *CouncilConfig) (*OpenRouterClient, *AdaptiveRateLimiter, *PerformanceMonitor) {
	limiter := NewAdaptiveRateLimiter(cfg)
	limiter.sleep = (&fakeSleeper{}).sleep
	monitor := NewPerformanceMonitor()
	client := NewOpenRouterClient(serverURL, "test-key", limiter, monitor)
	return client, limiter, monitor
}

// collectEvents drains an emitter into a slice of event types.
func collectEvents(emitter *StreamEmitter) []StreamEventType {
	var types []StreamEventType
	for event := range emitter.Events() {
		types = append(types, event.EventType())
	}
	return types
}

// sampleConversation creates a sample conversation for storage tests.
func sampleConversation(id string) *Conversation {
	return &Conversation{
		ID:        id,
		CreatedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Title:     "Test Conversation",
		Messages: []Message{
			{
				Role:    "user",
				Content: "What is Go?",
			},
			{
				Role: "assistant",
				Stage1: []Stage1Response{
					{Model: "test/model1", Response: "Go is a programming language."},
					{Model: "test/model2", Response: "Go is developed by Google."},
				},
				Stage2: []Stage2Ranking{
					{
						Model:         "test/model1",
						Ranking:       "FINAL RANKING:\n1. Response B\n2. Response A",
						ParsedRanking: []string{"Response B", "Response A"},
					},
				},
				Stage3: &Stage3Response{
					Model:    "test/chairman",
					Response: "Go is a programming language developed by Google.",
				},
			},
		},
	}
}
