package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "stance.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"Progressive", "Conservative", "Centrist"}, cfg.Schema.Labels)
	assert.Equal(t, 1, cfg.Annotate.MaxRetries)
	assert.Equal(t, int64(1024), cfg.Annotate.MaxTokens)
	assert.Equal(t, "annotations.jsonl", cfg.Annotate.LogFile)
	assert.Equal(t, "scalar", cfg.Ensemble.Mode)
	assert.Equal(t, 4, cfg.Ensemble.MaxConcurrency)
	assert.Equal(t, 120, cfg.Ensemble.CallTimeoutSecs)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL)
	assert.True(t, cfg.OpenAI.JSONFormat)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/stance
log:
  level: debug
  format: console
server:
  port: 9090
ensemble:
  mode: classify
  models:
    - model: claude-sonnet-4-5-20250929
      provider: anthropic
    - model: llama3
      provider: ollama
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "classify", cfg.Ensemble.Mode)
	require.Len(t, cfg.Ensemble.Models, 2)
	assert.Equal(t, "anthropic", cfg.Ensemble.Models[0].Provider)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Ensemble.MaxConcurrency)

	configs := cfg.Ensemble.ModelConfigs()
	require.Len(t, configs, 2)
	assert.Equal(t, "anthropic/claude-sonnet-4-5-20250929", configs[0].String())
	assert.Equal(t, "ollama/llama3", configs[1].String())
}

func TestLoadEnvOverride(t *testing.T) {
	chTempDir(t)
	t.Setenv("STANCE_LOG_LEVEL", "warn")
	t.Setenv("STANCE_SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLabelSchema(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, []string{"Progressive", "Conservative", "Centrist"}, cfg.LabelSchema().Labels)

	cfg.Schema.Labels = []string{"Left", "Right"}
	s := cfg.LabelSchema()
	assert.Equal(t, []string{"Left", "Right"}, s.Labels)
	assert.Equal(t, []string{"label", "confidence", "rationale"}, s.RequiredKeys)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	assert.Error(t, InitLogger(LogConfig{Level: "not-a-level"}))
}

func TestEnsembleCallTimeout(t *testing.T) {
	c := EnsembleConfig{CallTimeoutSecs: 120}
	assert.Equal(t, "2m0s", c.CallTimeout().String())
}
