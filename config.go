package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Configuration globals
var (
	// OpenRouterAPIKey is the API key for OpenRouter
	OpenRouterAPIKey string

	// OpenRouterAPIURL is the endpoint for OpenRouter API
	OpenRouterAPIURL = "https://openrouter.ai/api/v1/chat/completions"

	// DataDir is the directory for conversation storage
	DataDir = "data/conversations"

	// CORS allowed origins (configurable via environment)
	// In development (empty/default), allows any localhost port
	// In production, set CORS_ALLOWED_ORIGINS environment variable
	CORSAllowedOrigins = []string{}

	// MaxRequestBodySize is the maximum allowed request body size (1MB)
	MaxRequestBodySize int64 = 1 << 20

	// FetchCacheTTL is the time-to-live for fetched URL content (default 5 minutes)
	FetchCacheTTL = 5 * time.Minute

	// Council is the active council configuration
	Council = DefaultCouncilConfig()
)

const defaultCouncilYAML = `# Council configuration
#
# council_models is an ordered list; the order determines anonymization
# labels (Response A, Response B, ...) for every session.
council_models:
  - openai/gpt-5.1
  - google/gemini-3-pro-preview
  - anthropic/claude-sonnet-4.5
  - x-ai/grok-4

# chairman_model performs the final Stage 3 synthesis.
chairman_model: google/gemini-3-pro-preview

# title_model generates short conversation titles.
title_model: google/gemini-2.5-flash

query_timeout_seconds: 120
title_timeout_seconds: 30

# A stage needs at least this many usable responses to proceed.
min_successful_responses: 2

# When true, council members whose own Stage 1 call failed still act as
# Stage 2 reviewers.
reviewers_include_failed: false

backoff:
  base_seconds: 1
  max_attempts: 5

# Fraction of the provider quota below which Acquire inserts a proactive delay.
rate_limit_low_water: 0.1
`

// BackoffConfig holds the retry parameters for rate-limited calls.
type BackoffConfig struct {
	BaseSeconds int `yaml:"base_seconds"`
	MaxAttempts int `yaml:"max_attempts"`
}

// CouncilConfig models council.yaml.
type CouncilConfig struct {
	CouncilModels          []string      `yaml:"council_models"`
	ChairmanModel          string        `yaml:"chairman_model"`
	TitleModel             string        `yaml:"title_model"`
	QueryTimeoutSeconds    int           `yaml:"query_timeout_seconds"`
	TitleTimeoutSeconds    int           `yaml:"title_timeout_seconds"`
	MinSuccessful          int           `yaml:"min_successful_responses"`
	ReviewersIncludeFailed bool          `yaml:"reviewers_include_failed"`
	Backoff                BackoffConfig `yaml:"backoff"`
	RateLimitLowWater      float64       `yaml:"rate_limit_low_water"`
}

// QueryTimeout returns the per-call timeout for council and chairman queries.
func (c *CouncilConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// TitleTimeout returns the timeout for title generation calls.
func (c *CouncilConfig) TitleTimeout() time.Duration {
	return time.Duration(c.TitleTimeoutSeconds) * time.Second
}

// BackoffBase returns the base delay for rate-limit backoff.
func (c *CouncilConfig) BackoffBase() time.Duration {
	return time.Duration(c.Backoff.BaseSeconds) * time.Second
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *CouncilConfig) Validate() error {
	if len(c.CouncilModels) == 0 {
		return fmt.Errorf("council_models must not be empty")
	}
	if c.ChairmanModel == "" {
		return fmt.Errorf("chairman_model must be set")
	}
	if c.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("query_timeout_seconds must be positive")
	}
	if c.MinSuccessful < 1 {
		return fmt.Errorf("min_successful_responses must be at least 1")
	}
	if c.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("backoff.max_attempts must not be negative")
	}
	return nil
}

// DefaultCouncilConfig returns the built-in council configuration.
func DefaultCouncilConfig() *CouncilConfig {
	cfg, err := ParseCouncilConfig([]byte(defaultCouncilYAML))
	if err != nil {
		// The embedded document is fixed at build time.
		panic(fmt.Sprintf("invalid default council config: %v", err))
	}
	return cfg
}

// ParseCouncilConfig parses a council.yaml document and validates it.
func ParseCouncilConfig(data []byte) (*CouncilConfig, error) {
	var cfg CouncilConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse council config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadCouncilConfig reads a council.yaml from disk. A missing file is not an
// error; the built-in defaults are used instead.
func LoadCouncilConfig(path string) (*CouncilConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Council config %s not found, using defaults", path)
			return DefaultCouncilConfig(), nil
		}
		return nil, fmt.Errorf("failed to read council config: %w", err)
	}

	cfg, err := ParseCouncilConfig(data)
	if err != nil {
		return nil, err
	}

	log.Printf("Loaded council config from %s (%d members, chairman %s)",
		path, len(cfg.CouncilModels), cfg.ChairmanModel)
	return cfg, nil
}

// LoadConfig loads configuration from environment variables and council.yaml
func LoadConfig() {
	// Load .env file - try multiple locations
	envLocations := []string{
		".env",    // Current directory
		"../.env", // Parent directory
	}

	// Try to find and load .env file
	envLoaded := false
	for _, envPath := range envLocations {
		absPath, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			if err := godotenv.Load(absPath); err == nil {
				log.Printf("Loaded .env from: %s", absPath)
				envLoaded = true
				break
			}
		}
	}

	if !envLoaded {
		log.Printf("Warning: .env file not found in any expected location")
	}

	// Get OpenRouter API key
	OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	if OpenRouterAPIKey == "" {
		log.Fatal("OPENROUTER_API_KEY environment variable is required")
	}

	// Load CORS origins from environment if provided
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		CORSAllowedOrigins = []string{}
		for _, origin := range filepath.SplitList(corsOrigins) {
			if origin != "" {
				CORSAllowedOrigins = append(CORSAllowedOrigins, origin)
			}
		}
	}

	// Load council configuration
	configPath := os.Getenv("COUNCIL_CONFIG")
	if configPath == "" {
		configPath = "council.yaml"
	}
	cfg, err := LoadCouncilConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load council config: %v", err)
	}
	Council = cfg

	log.Println("Configuration loaded successfully")
}
