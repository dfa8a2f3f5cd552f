package answer

import (
	"context"
	"net/http"
	"time"

	"github.com/anatolykoptev/go-kit/llm"
)

// LLMConfig configures the OpenAI-compatible chat completion client.
type LLMConfig struct {
	BaseURL      string
	APIKey       string
	FallbackKeys []string
	Model        string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}

// LLM adapts a go-kit llm client to Model.
type LLM struct {
	client *llm.Client
}

// NewLLM creates a chat completion model.
func NewLLM(cfg LLMConfig) *LLM {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := llm.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model,
		llm.WithFallbackKeys(cfg.FallbackKeys),
		llm.WithMaxTokens(cfg.MaxTokens),
		llm.WithTemperature(cfg.Temperature),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	return &LLM{client: client}
}

// Complete sends one system + user turn and returns the reply text.
func (m *LLM) Complete(ctx context.Context, system, prompt string) (string, error) {
	return m.client.Complete(ctx, system, prompt)
}
