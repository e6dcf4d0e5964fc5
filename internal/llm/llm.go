// Package llm wraps the hosted model providers behind one small interface.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/contentpipe/config"
)

// ErrNoCredentials is returned when the selected provider has no way to
// authenticate.
var ErrNoCredentials = errors.New("llm credentials not configured")

// Request is one single-turn generation.
type Request struct {
	Model       string
	System      string
	Prompt      string
	JSON        bool
	Temperature float64
}

// Provider generates text from a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// NewProvider creates the provider selected by cfg.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("%w for provider %s", ErrNoCredentials, cfg.Provider)
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg.OpenAI), nil
	case config.ProviderGemini, "":
		return NewGeminiProvider(ctx, cfg.Gemini)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Provider)
	}
}
