package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrEmptyStatement = errors.New("statement is empty")
	ErrInFlight       = errors.New("a statement is already in flight for this conversation")
	ErrNothingToUndo  = errors.New("nothing to undo")
	ErrCancelled      = errors.New("statement cancelled")
)

// ProviderError is a network or vendor failure from an LLM provider
// call. It is retryable by the retry layer, not by the adapter itself.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (model %s): %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimitError is a provider error specialization carrying the
// vendor's usage window numbers.
type RateLimitError struct {
	ProviderError
	RequestsRemaining int
	RequestsLimit     int
	TokensRemaining   int
	TokensLimit       int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s (model %s): %d/%d requests, %d/%d tokens remaining",
		e.Provider, e.Model, e.RequestsRemaining, e.RequestsLimit, e.TokensRemaining, e.TokensLimit)
}

// ResponseValidationError means a provider response failed schema or
// callback validation. Reason is the offending reason text fed to
// OnValidationRetry.
type ResponseValidationError struct {
	Reason string
}

func (e *ResponseValidationError) Error() string {
	return fmt.Sprintf("response validation failed: %s", e.Reason)
}

// RetryExhaustedError is raised when the retry budget is spent.
type RetryExhaustedError struct {
	Attempts   int
	LastReason string
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts, last failure: %s", e.Attempts, e.LastReason)
}

// ToolError is an unknown tool or a tool executor failure. It is
// recovered into model-facing feedback, never raised past dispatch.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// File operation tags for FileError.
const (
	FileOpRead        = "read"
	FileOpWrite       = "write"
	FileOpPatch       = "patch"
	FileOpDelete      = "delete"
	FileOpOutsideRoot = "outside-project"
)

// FileError carries the file path and an operation tag. Outside-project
// and patch-mismatch failures are always fatal to the tool call that
// triggered them.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %s (%s): %v", e.Path, e.Op, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// CommandError is a disallowed or failed external command.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// APIError is the boundary-facing error shape, carrying an HTTP-like
// status and a stable machine-readable code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}
