package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/choco2105/magic-reading/internal/pipeline"
	"github.com/choco2105/magic-reading/internal/progress"
)

const (
	msgGenerateFailed = "We could not create the story. Please try again."
	msgInternal       = "Something went wrong. Please try again."
	msgBadJSON        = "request body must be a JSON object"
)

// statusFor maps a domain error to an HTTP status and a client-safe message.
// Internal failures never leak their details.
func statusFor(err error, fallback string) (int, string) {
	var (
		reqErr *pipeline.RequestError
		valErr *progress.ValidationError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.Error()
	case errors.As(err, &valErr):
		return http.StatusBadRequest, valErr.Error()
	case errors.Is(err, pipeline.ErrStoryNotFound):
		return http.StatusNotFound, "story not found"
	}
	return http.StatusInternalServerError, fallback
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
