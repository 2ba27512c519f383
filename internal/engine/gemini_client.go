package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/choco2105/magic-reading/internal/interfaces"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiBackend is a TextBackend over the Gemini API
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend creates a Gemini text backend
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Complete(ctx context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSONOutput {
		config.ResponseMIMEType = "application/json"
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(req.Prompt), config)
	if err != nil {
		return nil, &interfaces.BackendError{Backend: b.Name(), Kind: classifyGemini(err), Err: err}
	}

	text := resp.Text()
	if text == "" {
		return nil, &interfaces.BackendError{Backend: b.Name(), Kind: interfaces.BackendPermanent, Err: errors.New("empty response")}
	}

	result := &interfaces.CompletionResult{
		Text:    text,
		Backend: b.Name(),
		Model:   firstNonEmpty(resp.ModelVersion, b.model),
	}
	if u := resp.UsageMetadata; u != nil {
		result.PromptTokens = int(u.PromptTokenCount)
		result.CompletionTokens = int(u.CandidatesTokenCount)
		result.TotalTokens = int(u.TotalTokenCount)
	}
	return result, nil
}

// classifyGemini maps SDK errors onto transient/permanent by status text
func classifyGemini(err error) interfaces.BackendErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return interfaces.BackendTransient
	}
	msg := strings.ToUpper(err.Error())
	for _, marker := range []string{"RESOURCE_EXHAUSTED", "UNAVAILABLE", "DEADLINE_EXCEEDED", "INTERNAL", "429", "500", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return interfaces.BackendTransient
		}
	}
	return interfaces.BackendPermanent
}

var _ interfaces.TextBackend = (*GeminiBackend)(nil)
