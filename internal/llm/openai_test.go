package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/studyforge/studyforge/config"
)

func testProvider(baseURL string) *OpenAIProvider {
	return NewOpenAIProvider(config.LLMProvider{
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Models: map[string]config.LLMModel{
			"small": {
				Name:            "small",
				APIName:         "gpt-4o-mini",
				MaxTokens:       1500,
				Temperature:     0.7,
				CostPer1K:       0.00015,
				CostPer1KOutput: 0.0006,
			},
		},
	}, config.LLMRoutingConfig{Summary: "small", Fallback: "small"})
}

func TestCompleteWithTokensSuccess(t *testing.T) {
	var gotModel string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "## Topic\nbody\n"}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 34},
		})
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	raw, in, out, err := p.CompleteWithTokens(context.Background(), "prompt", Options{Model: "small"})
	if err != nil {
		t.Fatalf("CompleteWithTokens: %v", err)
	}
	if raw != "## Topic\nbody\n" {
		t.Fatalf("unexpected content %q", raw)
	}
	if in != 12 || out != 34 {
		t.Fatalf("unexpected usage %d/%d", in, out)
	}
	if gotModel != "gpt-4o-mini" {
		t.Fatalf("model key must resolve to the API name, got %q", gotModel)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestCompleteWithTokensClientErrorIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	_, _, _, err := p.CompleteWithTokens(context.Background(), "prompt", Options{Model: "small"})
	if !errors.Is(err, ErrModelRejected) {
		t.Fatalf("expected ErrModelRejected, got %v", err)
	}
}

func TestCompleteWithTokensServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	_, _, _, err := p.CompleteWithTokens(context.Background(), "prompt", Options{Model: "small"})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestCompleteWithTokensTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	p := testProvider(srv.URL)
	_, _, _, err := p.CompleteWithTokens(context.Background(), "prompt", Options{Model: "small"})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestCompleteWithTokensNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	_, _, _, err := p.CompleteWithTokens(context.Background(), "prompt", Options{Model: "small"})
	if !errors.Is(err, ErrModelRejected) {
		t.Fatalf("expected ErrModelRejected, got %v", err)
	}
}

func TestModelForRouting(t *testing.T) {
	p := NewOpenAIProvider(config.LLMProvider{Type: "openai"}, config.LLMRoutingConfig{
		Summary:  "big",
		Fallback: "small",
	})
	if got := p.ModelFor("summary"); got != "big" {
		t.Fatalf("expected summary slot, got %q", got)
	}
	if got := p.ModelFor("quiz"); got != "small" {
		t.Fatalf("expected fallback for unrouted stage, got %q", got)
	}
	if got := p.ModelFor("flashcards"); got != "small" {
		t.Fatalf("expected fallback for unrouted stage, got %q", got)
	}
}

func TestCalculateCost(t *testing.T) {
	p := testProvider("")
	got := p.CalculateCost(1000, 1000, "small")
	want := 0.00015 + 0.0006
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("cost = %v, want %v", got, want)
	}
	if p.CalculateCost(1000, 1000, "unknown") != 0 {
		t.Fatalf("unknown model must cost 0")
	}
}

func TestNewProviderRejectsUnknownType(t *testing.T) {
	_, err := NewProvider(config.LLMConfig{Providers: map[string]config.LLMProvider{
		"weird": {Type: "weird"},
	}})
	if err == nil {
		t.Fatalf("expected error for unsupported provider type")
	}
}
