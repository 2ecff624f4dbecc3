// Package memory persists conversation history and retrieves it by vector similarity.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vega-agent/backend/internal/embedding"
	"vega-agent/backend/internal/state"
	"vega-agent/backend/pkg/config"
	apperrors "vega-agent/backend/pkg/errors"
)

// Entry is one persisted, embedded piece of conversation history.
// Entries are append-only: no backend updates or deletes them.
type Entry struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Role      state.Role `json:"role"`
	Content   string     `json:"content"`
	Embedding []float32  `json:"-"`
	CreatedAt time.Time  `json:"created_at"`

	// Similarity is set by Retrieve and is zero elsewhere
	Similarity float64 `json:"similarity,omitempty"`
}

// SessionInfo summarises one session
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Entries   int       `json:"entries"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Stats describes the whole store
type Stats struct {
	Entries   int    `json:"entries"`
	Sessions  int    `json:"sessions"`
	Turns     int    `json:"turns"`
	Dimension int    `json:"dimension"`
	Embedder  string `json:"embedder"`
	Backend   string `json:"backend"`
}

// Store is the Memory Store contract shared by every backend.
// Implementations tolerate concurrent reads and appends across sessions.
type Store interface {
	// Record embeds content and appends it to the session
	Record(ctx context.Context, sessionID string, role state.Role, content string) (*Entry, error)

	// RecordTurn persists a completed turn and both of its entries atomically.
	// promptEmbedding may be nil, in which case the prompt is embedded again.
	RecordTurn(ctx context.Context, turn *state.Turn, promptEmbedding []float32) error

	// Retrieve returns up to k entries of the session, most similar first
	Retrieve(ctx context.Context, sessionID string, query []float32, k int) ([]Entry, error)

	// History returns the newest limit entries of the session in chronological order.
	// A non-positive limit returns all of them.
	History(ctx context.Context, sessionID string, limit int) ([]Entry, error)

	ListSessions(ctx context.Context) ([]SessionInfo, error)
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	Stats(ctx context.Context) (*Stats, error)

	// RecordCommand appends a REPL input line to the session's command history
	RecordCommand(ctx context.Context, sessionID, line string) error

	// CommandHistory returns up to limit commands, newest first
	CommandHistory(ctx context.Context, sessionID string, limit int) ([]string, error)

	Close() error
}

// Option configures a store
type Option func(*options)

type options struct {
	commandHistoryLength int
}

// WithCommandHistoryLength caps the stored command history per session
func WithCommandHistoryLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.commandHistoryLength = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{commandHistoryLength: 100}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open creates the store selected by cfg.MemoryBackend
func Open(ctx context.Context, cfg *config.Config, embedder embedding.Embedder) (Store, error) {
	opts := []Option{WithCommandHistoryLength(cfg.CommandHistoryLength)}

	switch cfg.MemoryBackend {
	case "sqlite", "":
		return NewSQLiteStore(cfg.ContextDB, embedder, opts...)
	case "neo4j":
		return NewNeo4jStore(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, embedder, opts...)
	}
	return nil, apperrors.NewConfigValidationFailed("VEGA_MEMORY_BACKEND", fmt.Sprintf("unsupported backend %q", cfg.MemoryBackend))
}

// =============================================================================
// SHARED VALIDATION
// =============================================================================

func validateRecord(sessionID string, role state.Role) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.NewInvalidInput("session_id", "cannot be empty")
	}
	if !role.Valid() {
		return apperrors.NewInvalidInput("role", fmt.Sprintf("unknown role %q", role))
	}
	return nil
}

func validateTurn(turn *state.Turn) error {
	if turn == nil {
		return apperrors.NewInvalidInput("turn", "cannot be nil")
	}
	if err := turn.Validate(); err != nil {
		return apperrors.NewInvalidInput("turn", err.Error())
	}
	return nil
}

// embed wraps untyped embedder failures so callers can classify them
func embed(ctx context.Context, e embedding.Embedder, text string) ([]float32, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		if apperrors.IsErrorType(err, apperrors.ErrorTypeEmbedding) || apperrors.IsErrorType(err, apperrors.ErrorTypeConfig) {
			return nil, err
		}
		return nil, apperrors.NewEmbeddingFailed(e.Name(), err)
	}
	if len(vec) != e.Dimensions() {
		return nil, apperrors.NewDimensionMismatch(e.Dimensions(), len(vec))
	}
	return vec, nil
}

func checkQuery(dim int, query []float32) error {
	if len(query) != dim {
		return apperrors.NewDimensionMismatch(dim, len(query))
	}
	return nil
}
