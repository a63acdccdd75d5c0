// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	defaultGenAIModel    = "gemini-embedding-001"
	defaultGenAITaskType = "SEMANTIC_SIMILARITY"
)

// GenAIConfig configures the Gemini embedding engine.
type GenAIConfig struct {
	APIKey   string `yaml:"-" json:"-"`
	Model    string `yaml:"model" json:"model"`
	TaskType string `yaml:"task_type" json:"task_type"`
	// BaseURL overrides the API endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Dimensions truncates the output vector when set.
	Dimensions int32 `yaml:"dimensions" json:"dimensions"`
}

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client *genai.Client
	cfg    GenAIConfig
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(ctx context.Context, cfg GenAIConfig) (*GenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGenAIModel
	}
	if cfg.TaskType == "" {
		cfg.TaskType = defaultGenAITaskType
	}

	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIEngine{client: client, cfg: cfg}, nil
}

// Embed generates a normalized embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{TaskType: e.cfg.TaskType}
	if e.cfg.Dimensions > 0 {
		dims := e.cfg.Dimensions
		config.OutputDimensionality = &dims
	}

	result, err := e.client.Models.EmbedContent(ctx, e.cfg.Model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		config,
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return Normalize(result.Embeddings[0].Values), nil
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.cfg.Model)
}
