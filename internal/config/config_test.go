// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/evidence-mcp/internal/config"
)

var envKeys = []string{
	"EVIDENCE_ORACLE_PROVIDER", "EVIDENCE_ORACLE_MODEL", "EVIDENCE_ORACLE_BASE_URL",
	"EVIDENCE_ORACLE_API_KEY", "EVIDENCE_GENAI_API_KEY", "EVIDENCE_STORE_PATH",
	"EVIDENCE_HTTP_ADDR", "EVIDENCE_VERIFICATION_THRESHOLD", "EVIDENCE_FUZZY_THRESHOLD",
	"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evidence.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// ----------------------------------------------------------------------------
// Defaults
// ----------------------------------------------------------------------------

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.2, cfg.Quality.VerificationThreshold)
	assert.Equal(t, 0.85, cfg.Quality.FuzzyThreshold)
	assert.Equal(t, "openai", cfg.Oracle.Provider)
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("Load(\"\") mismatch (-want +got):\n%s", diff)
	}
}

// ----------------------------------------------------------------------------
// File loading
// ----------------------------------------------------------------------------

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
oracle:
  provider: Anthropic
  model: claude-sonnet-4-5
quality:
  verification_threshold: 0.35
store:
  path: /tmp/evidence-test.db
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	want := config.Default()
	want.Oracle.Provider = "anthropic"
	want.Oracle.Model = "claude-sonnet-4-5"
	want.Quality.VerificationThreshold = 0.35
	want.Store.Path = "/tmp/evidence-test.db"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown key",
			body:    "quality:\n  verification_ratio: 0.3\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "threshold above one",
			body:    "quality:\n  verification_threshold: 1.5\n",
			wantErr: "verification_threshold",
		},
		{
			name:    "zero fuzzy threshold",
			body:    "quality:\n  fuzzy_threshold: 0\n",
			wantErr: "fuzzy_threshold",
		},
		{
			name:    "unsupported provider",
			body:    "oracle:\n  provider: ollama\n",
			wantErr: "invalid configuration",
		},
		{
			name:    "zero grounding concurrency",
			body:    "quality:\n  grounding_concurrency: 0\n",
			wantErr: "grounding_concurrency",
		},
		{
			name:    "empty store path",
			body:    "store:\n  path: \"\"\n",
			wantErr: "invalid configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := config.Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

// ----------------------------------------------------------------------------
// Environment overrides
// ----------------------------------------------------------------------------

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVIDENCE_ORACLE_PROVIDER", "ANTHROPIC")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("GEMINI_API_KEY", "gm-key")
	t.Setenv("EVIDENCE_FUZZY_THRESHOLD", "0.9")
	t.Setenv("EVIDENCE_HTTP_ADDR", ":9090")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Oracle.Provider)
	assert.Equal(t, "sk-ant", cfg.Oracle.APIKey)
	assert.Equal(t, "gm-key", cfg.Embedding.GenAI.APIKey)
	assert.Equal(t, 0.9, cfg.Quality.FuzzyThreshold)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoad_PrefixedKeyWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "generic")
	t.Setenv("EVIDENCE_ORACLE_API_KEY", "specific")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "specific", cfg.Oracle.APIKey)
}

func TestLoad_BadEnvNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVIDENCE_VERIFICATION_THRESHOLD", "lots")
	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EVIDENCE_VERIFICATION_THRESHOLD")
}

func TestLoad_EnvValidated(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVIDENCE_VERIFICATION_THRESHOLD", "-0.1")
	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification_threshold")
}
