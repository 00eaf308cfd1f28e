package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	// Set Gin to test mode
	gin.SetMode(gin.TestMode)
}

// setupTestEngine points the handler globals at a mock gateway and a temp
// store, restoring the previous wiring when the test ends.
func setupTestEngine(t *testing.T, serverURL string, cfg *CouncilConfig) {
	t.Helper()

	oldStore := store
	oldLimiter := rateLimiter
	oldMonitor := perfMonitor
	oldPipeline := pipeline
	oldCache := contentCache
	t.Cleanup(func() {
		store = oldStore
		rateLimiter = oldLimiter
		perfMonitor = oldMonitor
		pipeline = oldPipeline
		contentCache = oldCache
	})

	client, limiter, monitor := newTestClient(serverURL, cfg)
	store = NewConversationStore(t.TempDir())
	rateLimiter = limiter
	perfMonitor = monitor
	pipeline = NewCouncilPipeline(client, monitor, cfg, store)
	contentCache = NewContentCache(time.Minute)
}

// TestHealthCheck tests the health check endpoint
func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/", healthCheck)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("Status = %v, want 'ok'", response["status"])
	}
	if response["service"] != "LLM Council API" {
		t.Errorf("Service = %v, want 'LLM Council API'", response["service"])
	}
}

// TestConversationHandlers tests listing, creating and getting conversations
func TestConversationHandlers(t *testing.T) {
	cfg := newTestConfig([]string{"test/a", "test/b"}, "test/chairman", 2)
	setupTestEngine(t, "http://unused", cfg)

	router := gin.New()
	router.GET("/api/conversations", listConversationsHandler)
	router.POST("/api/conversations", createConversationHandler)
	router.GET("/api/conversations/:id", getConversationHandler)

	t.Run("create conversation", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/conversations", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
		}

		var conversation Conversation
		if err := json.Unmarshal(w.Body.Bytes(), &conversation); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if conversation.ID == "" {
			t.Error("Conversation ID should not be empty")
		}
		if conversation.Title != "New Conversation" {
			t.Errorf("Title = %q, want 'New Conversation'", conversation.Title)
		}
	})

	t.Run("list conversations", func(t *testing.T) {
		if _, err := store.Create("second"); err != nil {
			t.Fatal(err)
		}

		req := httptest.NewRequest("GET", "/api/conversations", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
		}

		var conversations []ConversationMetadata
		if err := json.Unmarshal(w.Body.Bytes(), &conversations); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if len(conversations) != 2 {
			t.Errorf("Got %d conversations, want 2", len(conversations))
		}
	})

	t.Run("get existing conversation", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/conversations/second", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
		}

		var conversation Conversation
		if err := json.Unmarshal(w.Body.Bytes(), &conversation); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if conversation.ID != "second" {
			t.Errorf("ID = %q, want 'second'", conversation.ID)
		}
	})

	t.Run("get non-existent conversation", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/conversations/non-existent", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestSendMessageHandler tests the blocking message endpoint
func TestSendMessageHandler(t *testing.T) {
	ranking := "FINAL RANKING:\n1. Response B\n2. Response A"
	server := newStagedCouncilServer(t,
		map[string]modelBehavior{
			"test/a": {content: "Answer from A"},
			"test/b": {content: "Answer from B"},
		},
		map[string]modelBehavior{
			"test/a": {content: ranking},
			"test/b": {content: ranking},
		},
		modelBehavior{content: "Final synthesis"},
	)
	defer server.Close()

	cfg := newTestConfig([]string{"test/a", "test/b"}, "test/chairman", 2)
	setupTestEngine(t, server.URL, cfg)

	// Seed with an existing turn so the title goroutine stays out of the test
	if err := store.Save(sampleConversation("test-send")); err != nil {
		t.Fatal(err)
	}

	router := gin.New()
	router.POST("/api/conversations/:id/message", sendMessageHandler)

	t.Run("successful message send", func(t *testing.T) {
		bodyBytes, _ := json.Marshal(map[string]string{"content": "What is Go?"})

		req := httptest.NewRequest("POST", "/api/conversations/test-send/message", bytes.NewReader(bodyBytes))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
		}

		var response SendMessageResponse
		if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if len(response.Stage1) != 2 {
			t.Errorf("Stage1 has %d responses, want 2", len(response.Stage1))
		}
		if len(response.Stage2) != 2 {
			t.Errorf("Stage2 has %d rankings, want 2", len(response.Stage2))
		}
		if response.Stage3.Response != "Final synthesis" {
			t.Errorf("Stage3.Response = %q", response.Stage3.Response)
		}
		if len(response.Metadata.AggregateRankings) == 0 {
			t.Error("Metadata.AggregateRankings should not be empty")
		}

		// Both turns were persisted
		conversation, err := store.Get("test-send")
		if err != nil {
			t.Fatal(err)
		}
		if len(conversation.Messages) != 4 {
			t.Errorf("Conversation has %d messages, want 4", len(conversation.Messages))
		}
	})

	t.Run("invalid request body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/conversations/test-send/message", bytes.NewReader([]byte("invalid json")))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("non-existent conversation", func(t *testing.T) {
		bodyBytes, _ := json.Marshal(map[string]string{"content": "Test"})

		req := httptest.NewRequest("POST", "/api/conversations/non-existent/message", bytes.NewReader(bodyBytes))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestSendMessageHandlerCouncilFailure tests the 500 path when the council
// cannot produce enough responses
func TestSendMessageHandlerCouncilFailure(t *testing.T) {
	server := newStagedCouncilServer(t,
		map[string]modelBehavior{
			"test/a": {status: http.StatusInternalServerError},
			"test/b": {status: http.StatusInternalServerError},
		},
		nil,
		modelBehavior{content: "unreachable"},
	)
	defer server.Close()

	cfg := newTestConfig([]string{"test/a", "test/b"}, "test/chairman", 2)
	setupTestEngine(t, server.URL, cfg)

	if err := store.Save(sampleConversation("test-fail")); err != nil {
		t.Fatal(err)
	}

	router := gin.New()
	router.POST("/api/conversations/:id/message", sendMessageHandler)

	bodyBytes, _ := json.Marshal(map[string]string{"content": "What is Go?"})
	req := httptest.NewRequest("POST", "/api/conversations/test-fail/message", bytes.NewReader(bodyBytes))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// TestSendMessageStreamHandler tests the SSE streaming endpoint
func TestSendMessageStreamHandler(t *testing.T) {
	ranking := "FINAL RANKING:\n1. Response A\n2. Response B"
	server := newStagedCouncilServer(t,
		map[string]modelBehavior{
			"test/a": {content: "Answer from A"},
			"test/b": {content: "Answer from B"},
		},
		map[string]modelBehavior{
			"test/a": {content: ranking},
			"test/b": {content: ranking},
		},
		modelBehavior{content: "Final synthesis"},
	)
	defer server.Close()

	cfg := newTestConfig([]string{"test/a", "test/b"}, "test/chairman", 2)
	setupTestEngine(t, server.URL, cfg)

	if err := store.Save(sampleConversation("test-stream")); err != nil {
		t.Fatal(err)
	}

	router := gin.New()
	router.POST("/api/conversations/:id/message/stream", sendMessageStreamHandler)

	t.Run("stream with valid request", func(t *testing.T) {
		bodyBytes, _ := json.Marshal(map[string]string{"content": "Test question"})

		req := httptest.NewRequest("POST", "/api/conversations/test-stream/message/stream", bytes.NewReader(bodyBytes))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
		}
		if w.Header().Get("Content-Type") != "text/event-stream" {
			t.Errorf("Content-Type = %s, want 'text/event-stream'", w.Header().Get("Content-Type"))
		}

		body := w.Body.String()
		if !strings.HasPrefix(body, "data: ") {
			t.Errorf("Expected SSE frames, got: %s", body)
		}
		for _, event := range []string{
			`"type":"stage1_start"`, `"type":"stage1_complete"`,
			`"type":"stage2_complete"`, `"type":"stage3_complete"`,
			`"type":"complete"`,
		} {
			if !strings.Contains(body, event) {
				t.Errorf("Stream missing %s", event)
			}
		}
		if !strings.Contains(body, "label_to_model") {
			t.Error("stage2_complete frame missing metadata")
		}
	})

	t.Run("stream with invalid request", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/conversations/test-stream/message/stream", bytes.NewReader([]byte("invalid")))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("stream with non-existent conversation", func(t *testing.T) {
		bodyBytes, _ := json.Marshal(map[string]string{"content": "Test"})

		req := httptest.NewRequest("POST", "/api/conversations/non-existent/message/stream", bytes.NewReader(bodyBytes))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestSendSSEEvent tests SSE frame formatting
func TestSendSSEEvent(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	sendSSEEvent(c, ErrorEvent{Message: "test error message"})

	body := w.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.HasSuffix(body, "\n\n") {
		t.Errorf("Expected 'data: {...}\\n\\n' frame, got: %q", body)
	}

	var eventData map[string]interface{}
	jsonStr := strings.TrimSpace(strings.TrimPrefix(body, "data: "))
	if err := json.Unmarshal([]byte(jsonStr), &eventData); err != nil {
		t.Fatalf("Frame payload is not valid JSON: %v", err)
	}
	if eventData["type"] != "error" {
		t.Errorf("type = %v, want 'error'", eventData["type"])
	}
	if eventData["message"] != "test error message" {
		t.Errorf("message = %v, want 'test error message'", eventData["message"])
	}
}

// TestStatsHandler tests the performance statistics endpoint
func TestStatsHandler(t *testing.T) {
	cfg := newTestConfig([]string{"test/a"}, "test/chairman", 2)
	setupTestEngine(t, "http://unused", cfg)

	perfMonitor.RecordModelCall("test/a", 2*time.Second)
	timerID := perfMonitor.StartStage(1)
	perfMonitor.EndStage(timerID)

	router := gin.New()
	router.GET("/api/stats", statsHandler)

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var stats struct {
		StageStats  map[string]PercentileStats `json:"stage_stats"`
		ModelStats  map[string]PercentileStats `json:"model_stats"`
		TotalStages int                        `json:"total_stages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if stats.TotalStages != 1 {
		t.Errorf("TotalStages = %d, want 1", stats.TotalStages)
	}
	if stats.ModelStats["test/a"].Count != 1 {
		t.Errorf("ModelStats[test/a].Count = %d, want 1", stats.ModelStats["test/a"].Count)
	}
}

// TestFetchURLHandler tests URL fetching with caching
func TestFetchURLHandler(t *testing.T) {
	var hits int
	pageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><article><p>Page content.</p></article></body></html>`))
	}))
	defer pageServer.Close()

	cfg := newTestConfig([]string{"test/a"}, "test/chairman", 2)
	setupTestEngine(t, "http://unused", cfg)

	router := gin.New()
	router.POST("/api/fetch-url", fetchURLHandler)

	fetch := func(t *testing.T) map[string]interface{} {
		t.Helper()
		bodyBytes, _ := json.Marshal(map[string]string{"url": pageServer.URL})
		req := httptest.NewRequest("POST", "/api/fetch-url", bytes.NewReader(bodyBytes))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
		}
		var response map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		return response
	}

	t.Run("first fetch hits the page", func(t *testing.T) {
		response := fetch(t)
		if response["content"] != "Page content." {
			t.Errorf("content = %v", response["content"])
		}
		if response["cached"] != false {
			t.Errorf("cached = %v, want false", response["cached"])
		}
		if hits != 1 {
			t.Errorf("Page server saw %d hits, want 1", hits)
		}
	})

	t.Run("second fetch is served from cache", func(t *testing.T) {
		response := fetch(t)
		if response["cached"] != true {
			t.Errorf("cached = %v, want true", response["cached"])
		}
		if hits != 1 {
			t.Errorf("Page server saw %d hits, want 1", hits)
		}
	})

	t.Run("missing url is a bad request", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/fetch-url", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}
