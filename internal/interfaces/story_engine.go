package interfaces

import (
	"context"
	"errors"
	"fmt"
)

// CompletionRequest is one instruction sent to a text backend
type CompletionRequest struct {
	System      string
	Prompt      string
	JSONOutput  bool // ask the backend for a JSON object
	MaxTokens   int
	Temperature float64
}

// CompletionResult is the raw text returned by a backend plus accounting
type CompletionResult struct {
	Text             string
	Backend          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// TextBackend produces structured story text from an instruction
type TextBackend interface {
	// Name identifies the backend in metadata and logs
	Name() string

	// Complete sends one instruction and returns the raw completion
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// BackendErrorKind classifies backend failures
type BackendErrorKind string

const (
	BackendTransient BackendErrorKind = "transient"
	BackendPermanent BackendErrorKind = "permanent"
)

// BackendError is returned by TextBackend implementations
type BackendError struct {
	Backend string
	Kind    BackendErrorKind
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend %s error: %v", e.Backend, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a transient backend failure
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == BackendTransient
}
