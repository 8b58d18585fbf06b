package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/studyforge/studyforge/config"
)

// Provider is the single model-invocation capability the pipeline depends
// on. Every call is the only non-deterministic side effect in the system, so
// implementations must be swappable for deterministic fakes in tests.
type Provider interface {
	// Complete sends one prompt and returns the raw model text.
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
	// CompleteWithTokens is Complete plus prompt/completion token counts.
	CompleteWithTokens(ctx context.Context, prompt string, opts Options) (string, int64, int64, error)
	// ModelFor resolves the configured model key for a stage routing slot.
	ModelFor(stage string) string
	// CalculateCost estimates the cost of a call in USD.
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// Options holds the recognized per-call settings.
type Options struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

// Error taxonomy for model calls. Timeouts count as unavailable.
var (
	// ErrModelUnavailable means the backend could not be reached or did not
	// answer in time.
	ErrModelUnavailable = errors.New("model backend unavailable")

	// ErrModelRejected means the backend refused the request (quota,
	// content policy, malformed request).
	ErrModelRejected = errors.New("model backend rejected request")
)

// NewProvider creates an LLM provider based on configuration. Both "openai"
// and "gemini" speak the OpenAI-compatible chat completions protocol; gemini
// just needs its base_url pointed at the generative language endpoint.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	for _, provider := range cfg.Providers {
		switch provider.Type {
		case "openai", "gemini", "openai-compatible":
			return NewOpenAIProvider(provider, cfg.Routing), nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", provider.Type)
		}
	}
	return nil, fmt.Errorf("no valid LLM providers found")
}
