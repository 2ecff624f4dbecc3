package tools

import (
	"context"
	"fmt"
	"strings"
)

// Tool is a capability the model can invoke.
// Tools are registered once at startup and must be safe for concurrent use.
type Tool interface {
	// Name is unique within a registry
	Name() string
	Description() string

	// Schema is the JSON schema of the parameters object
	Schema() map[string]interface{}

	// RequiresConfirmation reports whether a call must be approved by the user
	RequiresConfirmation() bool

	// Describe renders a human-readable action line for the confirmation prompt
	Describe(params map[string]interface{}) string

	// Execute runs the tool. Safety rejections are returned as *ToolError.
	Execute(ctx context.Context, params map[string]interface{}) (string, error)
}

// timeoutHinter is implemented by tools whose parameters can extend the gateway timeout
type timeoutHinter interface {
	Timeout(params map[string]interface{}) (seconds int, ok bool)
}

// ToolInvocation is one tool call requested by the model
type ToolInvocation struct {
	CallID               string                 `json:"call_id"`
	ToolName             string                 `json:"tool_name"`
	Parameters           map[string]interface{} `json:"parameters"`
	RequiresConfirmation bool                   `json:"requires_confirmation"`
}

// Status is the outcome of an invocation
type Status string

const (
	StatusSuccess Status = "success"
	StatusDenied  Status = "denied"
	StatusError   Status = "error"
)

// Error details reported by the gateway itself
const (
	DetailUnknownTool       = "unknown tool"
	DetailInvalidParameters = "invalid parameters"
	DetailTimeout           = "timeout"
	DetailCancelled         = "cancelled"
)

// ToolResult is fed back to the model as the answer to a tool call
type ToolResult struct {
	CallID      string    `json:"call_id"`
	ToolName    string    `json:"tool_name"`
	Status      Status    `json:"status"`
	Output      string    `json:"output,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	Kind        ErrorKind `json:"kind,omitempty"`
}

// ForModel renders the result as the content of a tool message.
// Denials and failures are phrased so the model can relay them conversationally.
func (r ToolResult) ForModel() string {
	switch r.Status {
	case StatusSuccess:
		if strings.TrimSpace(r.Output) == "" {
			return "(no output)"
		}
		return r.Output
	case StatusDenied:
		return fmt.Sprintf("The user denied permission to run %s. Do not retry it; explain what you wanted to do instead.", r.ToolName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Error running %s: %s", r.ToolName, r.ErrorDetail)
	if r.Output != "" && r.Output != r.ErrorDetail {
		b.WriteString("\n")
		b.WriteString(r.Output)
	}
	return b.String()
}

// =============================================================================
// TOOL ERRORS
// =============================================================================

// ErrorKind classifies tool failures. Tool failures never abort a turn.
type ErrorKind string

const (
	KindIO               ErrorKind = "io"
	KindTimeout          ErrorKind = "timeout"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindInvalidInput     ErrorKind = "invalid_input"
	KindDenied           ErrorKind = "denied"
)

// ToolError is returned by Tool.Execute for classified failures
type ToolError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewIOError wraps a filesystem, process or network failure
func NewIOError(message string, err error) *ToolError {
	return &ToolError{Kind: KindIO, Message: message, Err: err}
}

// NewInvalidInputError reports parameters the tool cannot act on
func NewInvalidInputError(format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NewPermissionDeniedError reports a safety rejection
func NewPermissionDeniedError(format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}
