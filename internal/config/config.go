// SPDX-License-Identifier: Apache-2.0

// Package config loads the evidence service configuration from YAML,
// applies environment overrides and validates the result against a CUE schema.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/goccy/go-yaml"

	"github.com/gemaraproj/evidence-mcp/internal/embedding"
	"github.com/gemaraproj/evidence-mcp/internal/evidence"
	"github.com/gemaraproj/evidence-mcp/internal/examples"
	"github.com/gemaraproj/evidence-mcp/internal/locate"
	"github.com/gemaraproj/evidence-mcp/internal/oracle"
	"github.com/gemaraproj/evidence-mcp/internal/verify"
)

//go:embed schema.cue
var schema string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EVIDENCE_"

// Config is the full service configuration.
type Config struct {
	Oracle    oracle.Config   `yaml:"oracle" json:"oracle"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Quality   QualityConfig   `yaml:"quality" json:"quality"`
	Examples  ExamplesConfig  `yaml:"examples" json:"examples"`
	Grade     GradeConfig     `yaml:"grade" json:"grade"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
}

// EmbeddingConfig enables semantic few-shot selection.
type EmbeddingConfig struct {
	Enabled bool                  `yaml:"enabled" json:"enabled"`
	GenAI   embedding.GenAIConfig `yaml:"genai" json:"genai"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// QualityConfig holds the quality-control thresholds.
type QualityConfig struct {
	VerificationThreshold float64 `yaml:"verification_threshold" json:"verification_threshold"`
	FuzzyThreshold        float64 `yaml:"fuzzy_threshold" json:"fuzzy_threshold"`
	GroundingConcurrency  int     `yaml:"grounding_concurrency" json:"grounding_concurrency"`
}

// ExamplesConfig controls few-shot example selection.
type ExamplesConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	K       int  `yaml:"k" json:"k"`
}

// GradeConfig controls the GRADE assessor.
type GradeConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	Concurrency int  `yaml:"concurrency" json:"concurrency"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Oracle: oracle.Config{
			Provider:  oracle.ProviderOpenAI,
			MaxTokens: oracle.DefaultMaxTokens,
		},
		Store: StoreConfig{Path: "evidence.db"},
		Quality: QualityConfig{
			VerificationThreshold: verify.DefaultThreshold,
			FuzzyThreshold:        locate.DefaultFuzzyThreshold,
			GroundingConcurrency:  evidence.DefaultGroundingConcurrency,
		},
		Examples: ExamplesConfig{Enabled: true, K: examples.DefaultK},
		Grade:    GradeConfig{Enabled: true, Concurrency: 3},
		HTTP:     HTTPConfig{Addr: "127.0.0.1:8080"},
	}
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML onto cfg. Keys absent from data keep their current value.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField()); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.Oracle.Provider = strings.ToLower(strings.TrimSpace(cfg.Oracle.Provider))
	return nil
}

// Validate checks cfg against the #Config schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	def := ctx.CompileString(schema, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("ORACLE_PROVIDER", &cfg.Oracle.Provider)
	str("ORACLE_MODEL", &cfg.Oracle.Model)
	str("ORACLE_BASE_URL", &cfg.Oracle.BaseURL)
	str("STORE_PATH", &cfg.Store.Path)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	cfg.Oracle.Provider = strings.ToLower(cfg.Oracle.Provider)

	if v, ok := lookup(EnvPrefix + "VERIFICATION_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sVERIFICATION_THRESHOLD: %w", EnvPrefix, err)
		}
		cfg.Quality.VerificationThreshold = f
	}
	if v, ok := lookup(EnvPrefix + "FUZZY_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sFUZZY_THRESHOLD: %w", EnvPrefix, err)
		}
		cfg.Quality.FuzzyThreshold = f
	}

	// API keys never come from the file.
	cfg.Oracle.APIKey = firstSet(lookup, EnvPrefix+"ORACLE_API_KEY", providerKeyEnv(cfg.Oracle.Provider))
	cfg.Embedding.GenAI.APIKey = firstSet(lookup, EnvPrefix+"GENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	return nil
}

func providerKeyEnv(provider string) string {
	switch provider {
	case oracle.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

func firstSet(lookup lookupFunc, names ...string) string {
	for _, name := range names {
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
	}
	return ""
}
