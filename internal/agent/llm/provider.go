// Package llm wraps the chat model providers behind one streaming interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/feichai0017/seed-processor/config"
)

// Provider streams a single-turn completion. onDelta may be nil.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request, onDelta func(delta string)) (*Response, error)
}

// Request is a single-turn prompt.
type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the accumulated completion.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Complete runs req without observing the deltas.
func Complete(ctx context.Context, p Provider, req Request) (*Response, error) {
	return p.Stream(ctx, req, nil)
}

// NewFromConfig returns the provider selected by cfg.Provider.
func NewFromConfig(cfg *config.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:    cfg.AnthropicKey,
			Model:     cfg.AnthropicModel,
			MaxTokens: cfg.MaxTokens,
		}), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.OpenAIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.OpenAIModel,
			MaxTokens: cfg.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// Retryable reports whether a provider error is worth retrying: rate limits,
// server errors and timeouts.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return retryableStatus(antErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
