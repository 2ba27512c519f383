package engine

import "fmt"

// GenerationFormatError means the backend answered with text that is not a JSON story
type GenerationFormatError struct {
	Snippet string
	Err     error
}

func (e *GenerationFormatError) Error() string {
	return fmt.Sprintf("generation format error: %v", e.Err)
}

func (e *GenerationFormatError) Unwrap() error { return e.Err }

// StoryGenerationFailed is the single error the generator returns; the cause is
// a backend error, a GenerationFormatError or a FatalSchemaError
type StoryGenerationFailed struct {
	Stage string
	Err   error
}

func (e *StoryGenerationFailed) Error() string {
	return fmt.Sprintf("story generation failed during %s: %v", e.Stage, e.Err)
}

func (e *StoryGenerationFailed) Unwrap() error { return e.Err }

func snippet(text string) string {
	const max = 200
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max]) + "..."
}
