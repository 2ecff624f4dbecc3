package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "vega-agent/backend/pkg/errors"
)

func validConfig() *Config {
	return &Config{
		Provider:           "ollama",
		Model:              "llama3.2",
		EmbeddingProvider:  "simple",
		EmbeddingDimension: 384,
		MemoryBackend:      "sqlite",
		ContextDB:          ":memory:",
		MaxToolRounds:      8,
		ToolTimeout:        30 * time.Second,
		BackendRetries:     3,
		RetrievalLimit:     5,
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VEGA_PROVIDER", "")
	t.Setenv("VEGA_CONFIG", "")
	t.Setenv("VEGA_TOOL_TIMEOUT", "45")
	t.Setenv("VEGA_YOLO", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, "llama3.2", cfg.Model)
	assert.Equal(t, "sqlite", cfg.MemoryBackend)
	assert.Equal(t, 8, cfg.MaxToolRounds)
	assert.Equal(t, 45*time.Second, cfg.ToolTimeout)
	assert.True(t, cfg.Yolo)
	assert.True(t, cfg.IsDevelopment())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown provider", func(c *Config) { c.Provider = "bard" }, "VEGA_PROVIDER"},
		{"hosted provider without key", func(c *Config) { c.Provider = "openrouter" }, "OPENROUTER_API_KEY"},
		{"neo4j without password", func(c *Config) { c.MemoryBackend = "neo4j"; c.Neo4jURI = "bolt://x"; c.Neo4jUser = "neo4j" }, "NEO4J_PASSWORD"},
		{"zero rounds", func(c *Config) { c.MaxToolRounds = 0 }, "VEGA_MAX_TOOL_ROUNDS"},
		{"zero retries", func(c *Config) { c.BackendRetries = 0 }, "VEGA_BACKEND_RETRIES"},
		{"zero timeout", func(c *Config) { c.ToolTimeout = 0 }, "VEGA_TOOL_TIMEOUT"},
		{"openai embeddings without key", func(c *Config) { c.EmbeddingProvider = "openai" }, "OPENAI_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	assert.NoError(t, validConfig().Validate())
}

func TestMergeYAML(t *testing.T) {
	cfg := validConfig()
	err := cfg.MergeYAML([]byte(`
provider: openai
model: gpt-4o
openai_api_key: sk-test
tool_timeout: 10s
max_tool_rounds: 3
`))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "sk-test", cfg.APIKey())
	assert.Equal(t, 10*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 3, cfg.MaxToolRounds)
	// untouched fields keep their values
	assert.Equal(t, "sqlite", cfg.MemoryBackend)
	assert.NoError(t, cfg.Validate())
}

func TestMergeYAML_Invalid(t *testing.T) {
	cfg := validConfig()
	err := cfg.MergeYAML([]byte("provider: [unclosed"))
	assert.Error(t, err)
}
