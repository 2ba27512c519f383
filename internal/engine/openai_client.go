package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/choco2105/magic-reading/internal/interfaces"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	retryDelay         = 1 * time.Second
)

// OpenAIConfig configures the chat-completions backend
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty for the public API; any OpenAI-compatible endpoint works
	Model       string
	MaxAttempts int // attempts for transient failures; 1 disables retry
	HTTPClient  *http.Client
}

// OpenAIBackend is a TextBackend over the OpenAI chat completions API
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	maxAttempts int
}

// NewOpenAIBackend creates a chat-completions text backend
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxAttempts: attempts,
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

// Complete sends a chat completion request, retrying transient failures
func (b *OpenAIBackend) Complete(ctx context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	var lastErr error

	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, b.classify(ctx.Err())
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		result, err := b.doComplete(ctx, req)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !interfaces.IsTransient(err) {
			break
		}
	}

	return nil, lastErr
}

func (b *OpenAIBackend) doComplete(ctx context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.JSONOutput {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, b.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &interfaces.BackendError{Backend: b.Name(), Kind: interfaces.BackendPermanent, Err: errors.New("no choices returned from model")}
	}

	return &interfaces.CompletionResult{
		Text:             resp.Choices[0].Message.Content,
		Backend:          b.Name(),
		Model:            firstNonEmpty(resp.Model, b.model),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (b *OpenAIBackend) classify(err error) error {
	kind := interfaces.BackendPermanent
	if isRetryableError(err) {
		kind = interfaces.BackendTransient
	}
	return &interfaces.BackendError{Backend: b.Name(), Kind: kind, Err: err}
}

// isRetryableError checks whether a failure may succeed on a later attempt
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

var _ interfaces.TextBackend = (*OpenAIBackend)(nil)
