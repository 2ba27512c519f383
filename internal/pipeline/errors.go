package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest matches every *RequestError
	ErrInvalidRequest = errors.New("invalid request")
	ErrStoryNotFound  = errors.New("story not found")
)

// RequestError rejects a generation request before any work is done
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *RequestError) Is(target error) bool { return target == ErrInvalidRequest }

// PersistenceError means the document store could not be used
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
