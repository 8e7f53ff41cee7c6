// Package config loads application configuration from config.yaml and
// STANCE_-prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/civiclab/stance-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI      OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Ollama      OllamaConfig      `yaml:"ollama" mapstructure:"ollama"`
	Schema      SchemaConfig      `yaml:"schema" mapstructure:"schema"`
	Annotate    AnnotateConfig    `yaml:"annotate" mapstructure:"annotate"`
	Ensemble    EnsembleConfig    `yaml:"ensemble" mapstructure:"ensemble"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" mapstructure:"fingerprint"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string  `yaml:"key" mapstructure:"key"`
	Model string  `yaml:"model" mapstructure:"model"`
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
}

// OpenAIConfig holds settings for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Model      string  `yaml:"model" mapstructure:"model"`
	JSONFormat bool    `yaml:"json_format" mapstructure:"json_format"`
	RPS        float64 `yaml:"rps" mapstructure:"rps"`
}

// OllamaConfig holds local Ollama settings.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// SchemaConfig configures the closed label set.
type SchemaConfig struct {
	Labels []string `yaml:"labels" mapstructure:"labels"`
}

// AnnotateConfig configures single-text extraction.
type AnnotateConfig struct {
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	LogFile     string  `yaml:"log_file" mapstructure:"log_file"`
}

// ModelRef names one ensemble member.
type ModelRef struct {
	Model    string `yaml:"model" mapstructure:"model"`
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// EnsembleConfig configures multi-model aggregation.
type EnsembleConfig struct {
	Models          []ModelRef `yaml:"models" mapstructure:"models"`
	Mode            string     `yaml:"mode" mapstructure:"mode"`
	MaxConcurrency  int        `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	CallTimeoutSecs int        `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
}

// CallTimeout returns the per-model call timeout as a duration.
func (c EnsembleConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// ModelConfigs converts the configured refs to pipeline model configs,
// preserving order.
func (c EnsembleConfig) ModelConfigs() []model.ModelConfig {
	out := make([]model.ModelConfig, len(c.Models))
	for i, m := range c.Models {
		out[i] = model.ModelConfig{Model: m.Model, Provider: m.Provider}
	}
	return out
}

// FingerprintConfig configures drift detection probes.
type FingerprintConfig struct {
	Probes []string `yaml:"probes" mapstructure:"probes"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LabelSchema builds the extraction schema from the configured labels.
func (c *Config) LabelSchema() model.Schema {
	if len(c.Schema.Labels) == 0 {
		return model.DefaultStanceSchema()
	}
	s := model.DefaultStanceSchema()
	s.Labels = c.Schema.Labels
	return s
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "stance.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("schema.labels", []string{"Progressive", "Conservative", "Centrist"})
	v.SetDefault("annotate.max_retries", 1)
	v.SetDefault("annotate.max_tokens", 1024)
	v.SetDefault("annotate.temperature", 0.0)
	v.SetDefault("annotate.log_file", "annotations.jsonl")
	v.SetDefault("ensemble.mode", "scalar")
	v.SetDefault("ensemble.max_concurrency", 4)
	v.SetDefault("ensemble.call_timeout_secs", 120)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.json_format", true)
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "llama3")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
