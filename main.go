package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Shared components, built in main
var (
	store        *ConversationStore
	rateLimiter  *AdaptiveRateLimiter
	perfMonitor  *PerformanceMonitor
	pipeline     *CouncilPipeline
	contentCache *ContentCache
)

func main() {
	// Load configuration
	LoadConfig()

	// Wire up the engine
	store = NewConversationStore(DataDir)
	rateLimiter = NewAdaptiveRateLimiter(Council)
	perfMonitor = NewPerformanceMonitor()
	client := NewOpenRouterClient(OpenRouterAPIURL, OpenRouterAPIKey, rateLimiter, perfMonitor)
	pipeline = NewCouncilPipeline(client, perfMonitor, Council, store)
	contentCache = NewContentCache(FetchCacheTTL)

	// Create Gin router
	router := gin.Default()

	// Request size limit middleware
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	})

	// CORS middleware with dynamic origin validation
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			// In production, use environment-configured origins
			if len(CORSAllowedOrigins) > 0 && CORSAllowedOrigins[0] != "" {
				for _, allowedOrigin := range CORSAllowedOrigins {
					if origin == allowedOrigin {
						return true
					}
				}
				return false
			}
			// In development, allow any localhost/127.0.0.1 origin
			return len(origin) > 0 && (len(origin) >= 16 && origin[:16] == "http://localhost" ||
				len(origin) >= 14 && origin[:14] == "http://127.0.0")
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	// Routes
	router.GET("/", healthCheck)
	router.GET("/api/conversations", listConversationsHandler)
	router.POST("/api/conversations", createConversationHandler)
	router.GET("/api/conversations/:id", getConversationHandler)
	router.POST("/api/conversations/:id/message", sendMessageHandler)
	router.POST("/api/conversations/:id/message/stream", sendMessageStreamHandler)
	router.GET("/api/stats", statsHandler)
	router.POST("/api/fetch-url", fetchURLHandler)

	// Start server
	log.Println("Starting LLM Council backend on port 8001...")
	go func() {
		if err := router.Run(":8001"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Log the performance summary on shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Print(perfMonitor.Summary())
}

// healthCheck returns a simple health check response.
// GET / - Returns service status information.
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "LLM Council API",
	})
}

// listConversationsHandler lists all conversations with metadata only.
// GET /api/conversations - Returns array of conversation metadata sorted by date.
func listConversationsHandler(c *gin.Context) {
	conversations, err := store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to list conversations: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// createConversationHandler creates a new conversation.
// POST /api/conversations - Generates a new UUID and creates an empty conversation.
func createConversationHandler(c *gin.Context) {
	conversationID := uuid.New().String()

	conversation, err := store.Create(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to create conversation: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// getConversationHandler gets a specific conversation by ID.
// GET /api/conversations/:id - Returns full conversation including all messages.
func getConversationHandler(c *gin.Context) {
	conversationID := c.Param("id")

	conversation, err := store.Get(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}

	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// generateTitleInBackground generates and stores a conversation title,
// reporting it through the emitter if the stream is still open.
func generateTitleInBackground(conversationID, content string, emitter *StreamEmitter) {
	title, err := pipeline.GenerateTitle(context.Background(), content)
	if err != nil {
		log.Printf("Failed to generate title: %v", err)
		store.UpdateTitle(conversationID, "New Conversation")
		return
	}

	store.UpdateTitle(conversationID, title)
	if emitter != nil {
		emitter.Emit(TitleCompleteEvent{Title: title})
	}
}

// sendMessageHandler sends a message and runs the 3-stage council process.
// POST /api/conversations/:id/message - Runs full council and returns all stages at once.
// Use sendMessageStreamHandler for the SSE streaming version.
func sendMessageHandler(c *gin.Context) {
	conversationID := c.Param("id")

	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	conversation, err := store.Get(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return
	}

	// Generate title if this is the first message
	if len(conversation.Messages) == 0 {
		go generateTitleInBackground(conversationID, request.Content, nil)
	}

	// Run the 3-stage council process, draining the events nobody streams
	session := pipeline.NewSession(conversationID, request.Content)
	emitter := NewStreamEmitter(streamEventBuffer)
	go func() {
		for range emitter.Events() {
		}
	}()

	result, err := pipeline.Run(c.Request.Context(), session, emitter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Council process failed: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, SendMessageResponse{
		Stage1:   result.Stage1,
		Stage2:   result.Stage2,
		Stage3:   result.Stage3,
		Metadata: result.Metadata,
	})
}

// streamEventBuffer sizes the per-session event channel. Events are small;
// the buffer only needs to cover a burst while the SSE writer flushes.
const streamEventBuffer = 16

// sendMessageStreamHandler sends a message and streams the 3-stage council process via SSE.
// POST /api/conversations/:id/message/stream - Streams progress events as each stage completes.
// Events: stage1_start, stage1_complete, stage2_start, stage2_complete, stage3_start,
// stage3_complete, complete, plus error on failure and title_complete on first messages.
func sendMessageStreamHandler(c *gin.Context) {
	conversationID := c.Param("id")

	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	conversation, err := store.Get(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	emitter := NewStreamEmitter(streamEventBuffer)

	// Generate title if this is the first message
	if len(conversation.Messages) == 0 {
		go generateTitleInBackground(conversationID, request.Content, emitter)
	}

	// Client disconnect cancels the request context, which stops the
	// pipeline from issuing further provider calls.
	session := pipeline.NewSession(conversationID, request.Content)
	go pipeline.Run(c.Request.Context(), session, emitter)

	for event := range emitter.Events() {
		sendSSEEvent(c, event)
	}
}

// sendSSEEvent writes one stream event as a Server-Sent Event frame.
func sendSSEEvent(c *gin.Context, event StreamEvent) {
	data, err := EncodeStreamEvent(event)
	if err != nil {
		log.Printf("Failed to marshal SSE event: %v", err)
		return
	}
	c.Writer.WriteString(fmt.Sprintf("data: %s\n\n", string(data)))
	c.Writer.Flush()
}

// statsHandler reports performance monitor statistics.
// GET /api/stats - Returns per-stage and per-model percentile statistics.
func statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, perfMonitor.Statistics())
}

// fetchURLHandler fetches and extracts content from a given URL, for use as
// query context. Results are cached per URL.
// POST /api/fetch-url - Body: {"url": "https://..."}
func fetchURLHandler(c *gin.Context) {
	var request struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	if content, ok := contentCache.Get(request.URL); ok {
		c.JSON(http.StatusOK, gin.H{"content": content, "cached": true})
		return
	}

	content, err := FetchURLContent(c.Request.Context(), request.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to fetch URL content: %v", err),
		})
		return
	}

	contentCache.Set(request.URL, content)
	c.JSON(http.StatusOK, gin.H{"content": content, "cached": false})
}
