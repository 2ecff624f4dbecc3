package constants

// Turn pipeline constants
const (
	// DefaultMaxToolRounds bounds sequential tool-call rounds in one turn.
	// This prevents infinite loops when tools trigger additional tool calls
	DefaultMaxToolRounds = 8

	// DefaultRetrievalLimit is how many memory entries are pulled into a prompt
	DefaultRetrievalLimit = 5

	// DefaultBackendAttempts is the number of model backend attempts per call
	DefaultBackendAttempts = 3
)

// Tool execution constants
const (
	// MaxToolOutputChars caps tool output fed back into the conversation
	MaxToolOutputChars = 20000

	// MaxReadFileBytes is the default read_file size cap
	MaxReadFileBytes = 10 * 1024 * 1024
)
