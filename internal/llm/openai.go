package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/studyforge/studyforge/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// GeminiBaseURL is the OpenAI-compatible endpoint for Google's models.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// OpenAIProvider implements Provider against any OpenAI-compatible
// chat completions endpoint.
type OpenAIProvider struct {
	config  config.LLMProvider
	routing config.LLMRoutingConfig
	models  map[string]config.LLMModel
	client  *http.Client
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible backend.
func NewOpenAIProvider(cfg config.LLMProvider, routing config.LLMRoutingConfig) *OpenAIProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.BaseURL == "" && cfg.Type == "gemini" {
		cfg.BaseURL = GeminiBaseURL
	}
	return &OpenAIProvider{
		config:  cfg,
		routing: routing,
		models:  cfg.Models,
		client:  &http.Client{Timeout: timeout},
	}
}

// ModelFor resolves the routing slot for a pipeline stage ("summary",
// "quiz", "flashcards") to a configured model key.
func (p *OpenAIProvider) ModelFor(stage string) string {
	var key string
	switch stage {
	case "summary":
		key = p.routing.Summary
	case "quiz":
		key = p.routing.Quiz
	case "flashcards":
		key = p.routing.Flashcards
	}
	if key == "" {
		key = p.routing.Fallback
	}
	return key
}

// Complete sends one prompt and returns the raw model text.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	resp, _, _, err := p.CompleteWithTokens(ctx, prompt, opts)
	return resp, err
}

// CompleteWithTokens sends one prompt and returns the text plus token usage.
func (p *OpenAIProvider) CompleteWithTokens(ctx context.Context, prompt string, opts Options) (string, int64, int64, error) {
	apiKey := p.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", 0, 0, fmt.Errorf("%w: API key not configured", ErrModelRejected)
	}

	apiModel := opts.Model
	temperature := opts.Temperature
	maxTokens := opts.MaxOutputTokens
	if m, ok := p.models[opts.Model]; ok {
		if m.APIName != "" {
			apiModel = m.APIName
		} else if m.Name != "" {
			apiModel = m.Name
		}
		if temperature == 0 {
			temperature = m.Temperature
		}
		if maxTokens == 0 {
			maxTokens = m.MaxTokens
		}
	}
	if apiModel == "" {
		return "", 0, 0, fmt.Errorf("%w: no model configured", ErrModelRejected)
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	body, err := json.Marshal(chatReq{
		Model:       apiModel,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, "POST", strings.TrimRight(baseURL, "/")+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", 0, 0, err
		}
		return "", 0, 0, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		kind := ErrModelUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = ErrModelRejected
		}
		return "", 0, 0, fmt.Errorf("%w: status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, 0, fmt.Errorf("%w: decode: %v", ErrModelUnavailable, err)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("%w: no choices in response", ErrModelRejected)
	}

	return out.Choices[0].Message.Content, int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens), nil
}

// CalculateCost calculates the cost for a given number of tokens.
func (p *OpenAIProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	m, ok := p.models[model]
	if !ok {
		return 0.0
	}
	inputCost := float64(inputTokens) / 1000.0 * m.CostPer1K
	outputCost := float64(outputTokens) / 1000.0 * m.CostPer1KOutput
	return inputCost + outputCost
}
