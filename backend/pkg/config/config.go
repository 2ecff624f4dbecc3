package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "vega-agent/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Env       string `yaml:"env"`
	Workspace string `yaml:"workspace"`
	Port      string `yaml:"port"`

	// Model backend
	Provider         string `yaml:"provider"`
	Model            string `yaml:"model"`
	BaseURL          string `yaml:"base_url"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`

	// Embeddings
	EmbeddingProvider  string `yaml:"embedding_provider"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`

	// Memory
	MemoryBackend string `yaml:"memory_backend"`
	ContextDB     string `yaml:"context_db"`
	Neo4jURI      string `yaml:"neo4j_uri"`
	Neo4jUser     string `yaml:"neo4j_user"`
	Neo4jPassword string `yaml:"neo4j_password"`

	// Turn pipeline
	SessionID      string        `yaml:"session_id"`
	Yolo           bool          `yaml:"yolo"`
	MaxToolRounds  int           `yaml:"max_tool_rounds"`
	ToolTimeout    time.Duration `yaml:"tool_timeout"`
	BackendRetries int           `yaml:"backend_retries"`
	RetrievalLimit int           `yaml:"retrieval_limit"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// REPL
	CommandHistoryLength int `yaml:"command_history_length"`
}

// Supported providers
var (
	Providers          = []string{"openai", "openrouter", "anthropic", "ollama"}
	EmbeddingProviders = []string{"simple", "openai", "ollama"}
	MemoryBackends     = []string{"sqlite", "neo4j"}
)

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Env:                  getEnv("VEGA_ENV", "development"),
		Workspace:            getEnv("VEGA_WORKSPACE", "."),
		Port:                 getEnv("VEGA_PORT", "3000"),
		Provider:             getEnv("VEGA_PROVIDER", "ollama"),
		Model:                getEnv("VEGA_MODEL", "llama3.2"),
		BaseURL:              getEnv("VEGA_BASE_URL", ""),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenRouterAPIKey:     getEnv("OPENROUTER_API_KEY", ""),
		AnthropicAPIKey:      getEnv("ANTHROPIC_API_KEY", ""),
		EmbeddingProvider:    getEnv("VEGA_EMBEDDING_PROVIDER", "simple"),
		EmbeddingModel:       getEnv("VEGA_EMBEDDING_MODEL", ""),
		EmbeddingDimension:   getEnvInt("VEGA_EMBEDDING_DIM", 384),
		MemoryBackend:        getEnv("VEGA_MEMORY_BACKEND", "sqlite"),
		ContextDB:            getEnv("VEGA_CONTEXT_DB", "./vega_context.db"),
		Neo4jURI:             getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:            getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:        getEnv("NEO4J_PASSWORD", ""),
		SessionID:            getEnv("VEGA_SESSION_ID", ""),
		Yolo:                 getEnvBool("VEGA_YOLO", false),
		MaxToolRounds:        getEnvInt("VEGA_MAX_TOOL_ROUNDS", 8),
		ToolTimeout:          getEnvDuration("VEGA_TOOL_TIMEOUT", 30*time.Second),
		BackendRetries:       getEnvInt("VEGA_BACKEND_RETRIES", 3),
		RetrievalLimit:       getEnvInt("VEGA_RETRIEVAL_LIMIT", 5),
		LogLevel:             getEnv("VEGA_LOG_LEVEL", ""),
		LogFile:              getEnv("VEGA_LOG_FILE", ""),
		CommandHistoryLength: getEnvInt("VEGA_COMMAND_HISTORY_LENGTH", 100),
	}

	if path := os.Getenv("VEGA_CONFIG"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// MergeFile overlays the non-zero fields of a YAML file onto the config
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return c.MergeYAML(data)
}

// MergeYAML overlays the non-zero fields of a YAML document onto the config
func (c *Config) MergeYAML(data []byte) error {
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return apperrors.NewConfigValidationFailed("yaml", err.Error())
	}

	overlay(&c.Env, file.Env)
	overlay(&c.Workspace, file.Workspace)
	overlay(&c.Port, file.Port)
	overlay(&c.Provider, file.Provider)
	overlay(&c.Model, file.Model)
	overlay(&c.BaseURL, file.BaseURL)
	overlay(&c.OpenAIAPIKey, file.OpenAIAPIKey)
	overlay(&c.OpenRouterAPIKey, file.OpenRouterAPIKey)
	overlay(&c.AnthropicAPIKey, file.AnthropicAPIKey)
	overlay(&c.EmbeddingProvider, file.EmbeddingProvider)
	overlay(&c.EmbeddingModel, file.EmbeddingModel)
	overlay(&c.EmbeddingDimension, file.EmbeddingDimension)
	overlay(&c.MemoryBackend, file.MemoryBackend)
	overlay(&c.ContextDB, file.ContextDB)
	overlay(&c.Neo4jURI, file.Neo4jURI)
	overlay(&c.Neo4jUser, file.Neo4jUser)
	overlay(&c.Neo4jPassword, file.Neo4jPassword)
	overlay(&c.SessionID, file.SessionID)
	overlay(&c.Yolo, file.Yolo)
	overlay(&c.MaxToolRounds, file.MaxToolRounds)
	overlay(&c.ToolTimeout, file.ToolTimeout)
	overlay(&c.BackendRetries, file.BackendRetries)
	overlay(&c.RetrievalLimit, file.RetrievalLimit)
	overlay(&c.LogLevel, file.LogLevel)
	overlay(&c.LogFile, file.LogFile)
	overlay(&c.CommandHistoryLength, file.CommandHistoryLength)
	return nil
}

func overlay[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if !contains(Providers, c.Provider) {
		return apperrors.NewConfigValidationFailed("VEGA_PROVIDER", fmt.Sprintf("unsupported provider %q", c.Provider))
	}
	if c.Model == "" {
		return apperrors.NewConfigMissingRequired("VEGA_MODEL")
	}
	if c.APIKey() == "" && c.Provider != "ollama" {
		return apperrors.NewConfigMissingRequired(apiKeyVar(c.Provider))
	}
	if !contains(EmbeddingProviders, c.EmbeddingProvider) {
		return apperrors.NewConfigValidationFailed("VEGA_EMBEDDING_PROVIDER", fmt.Sprintf("unsupported provider %q", c.EmbeddingProvider))
	}
	if c.EmbeddingProvider == "simple" && c.EmbeddingDimension <= 0 {
		return apperrors.NewConfigValidationFailed("VEGA_EMBEDDING_DIM", "must be positive")
	}
	if c.EmbeddingProvider == "openai" && c.OpenAIAPIKey == "" {
		return apperrors.NewConfigMissingRequired("OPENAI_API_KEY")
	}
	if !contains(MemoryBackends, c.MemoryBackend) {
		return apperrors.NewConfigValidationFailed("VEGA_MEMORY_BACKEND", fmt.Sprintf("unsupported backend %q", c.MemoryBackend))
	}
	if c.MemoryBackend == "sqlite" && c.ContextDB == "" {
		return apperrors.NewConfigMissingRequired("VEGA_CONTEXT_DB")
	}
	if c.MemoryBackend == "neo4j" {
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	}
	if c.MaxToolRounds < 1 {
		return apperrors.NewConfigValidationFailed("VEGA_MAX_TOOL_ROUNDS", "must be at least 1")
	}
	if c.BackendRetries < 1 {
		return apperrors.NewConfigValidationFailed("VEGA_BACKEND_RETRIES", "must be at least 1")
	}
	if c.ToolTimeout <= 0 {
		return apperrors.NewConfigValidationFailed("VEGA_TOOL_TIMEOUT", "must be positive")
	}
	if c.RetrievalLimit < 0 {
		return apperrors.NewConfigValidationFailed("VEGA_RETRIEVAL_LIMIT", "must not be negative")
	}
	return nil
}

// APIKey returns the key for the configured chat provider
func (c *Config) APIKey() string {
	switch c.Provider {
	case "openai":
		return c.OpenAIAPIKey
	case "openrouter":
		return c.OpenRouterAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	}
	return ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func apiKeyVar(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
		// Bare integers are seconds
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
