package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/prmemory/internal/config"
)

// Request is one completion call. System is optional.
type Request struct {
	System    string
	User      string
	MaxTokens int
}

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// GenerationError reports a failed language-model call.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ErrEmptyResponse is returned when the model answers with no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// ModelCompleter adapts a langchaingo model to Completer.
type ModelCompleter struct {
	provider string
	model    llms.Model
}

func NewModelCompleter(provider string, model llms.Model) *ModelCompleter {
	return &ModelCompleter{provider: provider, model: model}
}

func (c *ModelCompleter) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.User))

	var opts []llms.CallOption
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", &GenerationError{Provider: c.provider, Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &GenerationError{Provider: c.provider, Err: ErrEmptyResponse}
	}
	return resp.Choices[0].Content, nil
}

// NewCompleter builds the configured provider's model.
func NewCompleter(ctx context.Context, cfg config.LLMConfig) (*ModelCompleter, error) {
	log.Debug().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Msg("Creating language model")

	var model llms.Model
	var err error
	switch cfg.Provider {
	case "anthropic":
		model, err = createAnthropicModel(cfg)
	case "openai":
		model, err = createOpenAIModel(cfg)
	case "googleai":
		model, err = createGeminiModel(ctx, cfg)
	case "ollama":
		model, err = createOllamaModel(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", cfg.Provider, err)
	}
	return NewModelCompleter(cfg.Provider, model), nil
}

func createAnthropicModel(cfg config.LLMConfig) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	return anthropic.New(opts...)
}

func createOpenAIModel(cfg config.LLMConfig) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(opts...)
}

func createGeminiModel(ctx context.Context, cfg config.LLMConfig) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(cfg.APIKey),
	}
	if cfg.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(cfg.Model))
	}
	return googleai.New(ctx, opts...)
}

func createOllamaModel(cfg config.LLMConfig) (llms.Model, error) {
	serverURL := cfg.BaseURL
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}
	return ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(cfg.Model),
	)
}
