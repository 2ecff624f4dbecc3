// Package progress renders the current turn phase on a single terminal line.
package progress

import "time"

// Phase is a named stage of turn processing.
// The numeric order is the order phases occur within one turn.
type Phase int

const (
	PhaseNone Phase = iota
	PhasePreparing
	PhaseEmbedding
	PhaseContextRetrieval
	PhaseThinking
	PhaseToolExecution
	PhaseFinalizing
)

// Phases lists every turn phase in order
var Phases = []Phase{
	PhasePreparing,
	PhaseEmbedding,
	PhaseContextRetrieval,
	PhaseThinking,
	PhaseToolExecution,
	PhaseFinalizing,
}

func (p Phase) String() string {
	switch p {
	case PhasePreparing:
		return "Preparing"
	case PhaseEmbedding:
		return "Embedding"
	case PhaseContextRetrieval:
		return "ContextRetrieval"
	case PhaseThinking:
		return "Thinking"
	case PhaseToolExecution:
		return "ToolExecution"
	case PhaseFinalizing:
		return "Finalizing"
	}
	return "None"
}

// Emoji is the indicator drawn next to the spinner
func (p Phase) Emoji() string {
	switch p {
	case PhasePreparing:
		return "⚙️"
	case PhaseEmbedding:
		return "🔍"
	case PhaseContextRetrieval:
		return "📚"
	case PhaseThinking:
		return "🧠"
	case PhaseToolExecution:
		return "🔧"
	case PhaseFinalizing:
		return "✨"
	}
	return ""
}

// Label is the default text shown for the phase
func (p Phase) Label() string {
	switch p {
	case PhasePreparing:
		return "Preparing"
	case PhaseEmbedding:
		return "Generating embeddings"
	case PhaseContextRetrieval:
		return "Retrieving context"
	case PhaseThinking:
		return "Thinking"
	case PhaseToolExecution:
		return "Using tools"
	case PhaseFinalizing:
		return "Finalizing response"
	}
	return ""
}

// Event is one phase transition. Events are ephemeral and never persisted.
type Event struct {
	Phase     Phase
	StartedAt time.Time
	Label     string
}
