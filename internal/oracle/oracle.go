// SPDX-License-Identifier: Apache-2.0

// Package oracle is the boundary to the text-generation service. Callers treat
// every response as untrusted text.
package oracle

import (
	"context"
	"fmt"
	"strings"
)

// Default generation parameters.
const (
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 8192
)

// Reference is a document handed to the oracle alongside the prompt.
type Reference struct {
	Name string
	Text string
	// Cacheable marks reference material reused across calls.
	Cacheable bool
}

// Request is one oracle call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	// References are sent in order, before FewShot and the user prompt.
	References  []Reference
	FewShot     string
	Temperature float32
	MaxTokens   int
}

// Response is the oracle's answer and its usage.
type Response struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Model            string `json:"model"`
}

// Oracle generates text for a request.
type Oracle interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Call(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Config selects and configures a provider.
type Config struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Model       string  `yaml:"model" json:"model"`
	APIKey      string  `yaml:"-" json:"-"`
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// New builds the client for cfg.Provider.
func New(cfg Config) (Oracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle provider %q: API key is missing", cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	}
	return nil, fmt.Errorf("unsupported oracle provider %q", cfg.Provider)
}

func withDefaults(req Request, cfg Config) Request {
	if req.Temperature == 0 {
		req.Temperature = cfg.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	return req
}

// renderReference wraps a reference as a tagged text block.
func renderReference(ref Reference) string {
	return fmt.Sprintf("<document name=%q>\n%s\n</document>", ref.Name, ref.Text)
}
