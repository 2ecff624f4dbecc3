package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of the conversation produced a memory entry
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Valid reports whether the role is one of the known sides
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

// Turn represents one prompt-to-response cycle.
// The Response is filled in once by the controller; a persisted Turn is never mutated.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a turn for a freshly submitted prompt
func NewTurn(sessionID, prompt string) *Turn {
	return &Turn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks if the Turn is valid
func (t *Turn) Validate() error {
	if strings.TrimSpace(t.SessionID) == "" {
		return ErrInvalidTurn{Field: "session_id", Reason: "cannot be empty"}
	}
	if strings.TrimSpace(t.Prompt) == "" {
		return ErrInvalidTurn{Field: "prompt", Reason: "cannot be empty"}
	}
	return nil
}

// NewSessionID returns a fresh session identifier
func NewSessionID() string {
	return uuid.New().String()
}

// Errors

type ErrInvalidTurn struct {
	Field  string
	Reason string
}

func (e ErrInvalidTurn) Error() string {
	return fmt.Sprintf("invalid turn: %s - %s", e.Field, e.Reason)
}
