package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInput represents malformed prompts or parameters
	ErrorTypeInput ErrorType = "input"
	// ErrorTypeBackend represents model backend failures
	ErrorTypeBackend ErrorType = "backend"
	// ErrorTypeTool represents tool execution errors
	ErrorTypeTool ErrorType = "tool"
	// ErrorTypeLoop represents runaway tool-call rounds
	ErrorTypeLoop ErrorType = "loop"
	// ErrorTypeCancelled represents caller-initiated aborts
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeStorage represents memory store errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeEmbedding represents embedding backend errors
	ErrorTypeEmbedding ErrorType = "embedding"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Turn Errors

// ErrInvalidInput is returned for a malformed prompt or session id. Never retried.
type ErrInvalidInput struct {
	*BaseError
	Field  string
	Reason string
}

func NewInvalidInput(field, reason string) *ErrInvalidInput {
	return &ErrInvalidInput{
		BaseError: NewBaseError(ErrorTypeInput, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrBackendUnavailable is returned when the model backend exhausted its retries
type ErrBackendUnavailable struct {
	*BaseError
	Model    string
	Attempts int
}

func NewBackendUnavailable(model string, attempts int, err error) *ErrBackendUnavailable {
	return &ErrBackendUnavailable{
		BaseError: NewBaseError(ErrorTypeBackend, fmt.Sprintf("model backend unavailable after %d attempts", attempts), err),
		Model:     model,
		Attempts:  attempts,
	}
}

// ErrToolLoopExceeded is returned when the model keeps requesting tools past the round bound
type ErrToolLoopExceeded struct {
	*BaseError
	Rounds int
}

func NewToolLoopExceeded(rounds int) *ErrToolLoopExceeded {
	return &ErrToolLoopExceeded{
		BaseError: NewBaseError(ErrorTypeLoop, fmt.Sprintf("tool-call loop exceeded %d rounds", rounds), nil),
		Rounds:    rounds,
	}
}

// ErrCancelled is returned when the caller aborts a turn
type ErrCancelled struct {
	*BaseError
	Operation string
}

func NewCancelled(operation string, err error) *ErrCancelled {
	return &ErrCancelled{
		BaseError: NewBaseError(ErrorTypeCancelled, fmt.Sprintf("cancelled during %s", operation), err),
		Operation: operation,
	}
}

// Infrastructure Errors

// ErrStorageFailed is returned when the memory store cannot complete an operation
type ErrStorageFailed struct {
	*BaseError
	Operation string
}

func NewStorageFailed(operation string, err error) *ErrStorageFailed {
	return &ErrStorageFailed{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("storage operation failed: %s", operation), err),
		Operation: operation,
	}
}

// ErrEmbeddingFailed is returned when the embedding backend is unreachable or errors
type ErrEmbeddingFailed struct {
	*BaseError
	Backend string
}

func NewEmbeddingFailed(backend string, err error) *ErrEmbeddingFailed {
	return &ErrEmbeddingFailed{
		BaseError: NewBaseError(ErrorTypeEmbedding, fmt.Sprintf("embedding failed: %s", backend), err),
		Backend:   backend,
	}
}

// ErrDimensionMismatch is returned when vectors of different lengths meet
type ErrDimensionMismatch struct {
	*BaseError
	Expected int
	Got      int
}

func NewDimensionMismatch(expected, got int) *ErrDimensionMismatch {
	return &ErrDimensionMismatch{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", expected, got), nil),
		Expected:  expected,
		Got:       got,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error (or anything it wraps) is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if base := baseOf(err); base != nil && base.Type == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// baseOf extracts the embedded BaseError from any of the typed errors
func baseOf(err error) *BaseError {
	switch e := err.(type) {
	case *BaseError:
		return e
	case interface{ base() *BaseError }:
		return e.base()
	}
	return nil
}

func (e *BaseError) base() *BaseError { return e }

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if IsErrorType(err, ErrorTypeCancelled) || IsErrorType(err, ErrorTypeInput) {
		return false
	}
	if IsErrorType(err, ErrorTypeLoop) || IsErrorType(err, ErrorTypeConfig) {
		return false
	}
	// Storage and embedding outages may clear up on a later attempt
	if IsErrorType(err, ErrorTypeStorage) || IsErrorType(err, ErrorTypeEmbedding) {
		return true
	}
	var backendErr *ErrBackendUnavailable
	return stderrors.As(err, &backendErr)
}
