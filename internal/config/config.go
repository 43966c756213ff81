package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Agents      AgentsConfig      `yaml:"agents" mapstructure:"agents"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds reasoning-backend settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	HaikuModel        string  `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel       string  `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	RequestBurst      int     `yaml:"request_burst" mapstructure:"request_burst"`
}

// AgentsConfig configures normalization behavior shared by all agents.
type AgentsConfig struct {
	// ConfidenceThreshold is the floor below which a result is escalated
	// for human review.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	// ExtractionAccuracyThreshold gates raw-extraction accuracy pass/fail.
	ExtractionAccuracyThreshold float64 `yaml:"extraction_accuracy_threshold" mapstructure:"extraction_accuracy_threshold"`
	// NormalizationAccuracyThreshold gates post-normalization accuracy.
	NormalizationAccuracyThreshold float64 `yaml:"normalization_accuracy_threshold" mapstructure:"normalization_accuracy_threshold"`
	// AgentTimeoutSecs bounds one agent's wall-clock budget per run.
	AgentTimeoutSecs int `yaml:"agent_timeout_secs" mapstructure:"agent_timeout_secs"`
	// AutoBatchThreshold is the collateral item count above which a
	// document is processed in sequential batches.
	AutoBatchThreshold int `yaml:"auto_batch_threshold" mapstructure:"auto_batch_threshold"`
	// BatchSize is the maximum items per batch for large documents.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// CallsPerItem estimates reasoning calls per collateral item, used to
	// decide when burst capacity is justified.
	CallsPerItem int `yaml:"calls_per_item" mapstructure:"calls_per_item"`
}

// ConcurrencyConfig configures the process-wide reasoning-call limiter.
type ConcurrencyConfig struct {
	Sustained int `yaml:"sustained" mapstructure:"sustained"`
	Burst     int `yaml:"burst" mapstructure:"burst"`
}

// RetryConfig configures retry behavior for reasoning calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ServerConfig configures the read-only results API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CSA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "csa.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.requests_per_second", 0)
	v.SetDefault("anthropic.request_burst", 10)
	v.SetDefault("agents.confidence_threshold", 0.85)
	v.SetDefault("agents.extraction_accuracy_threshold", 0.95)
	v.SetDefault("agents.normalization_accuracy_threshold", 0.90)
	v.SetDefault("agents.agent_timeout_secs", 300)
	v.SetDefault("agents.auto_batch_threshold", 50)
	v.SetDefault("agents.batch_size", 25)
	v.SetDefault("agents.calls_per_item", 4)
	v.SetDefault("concurrency.sustained", 60)
	v.SetDefault("concurrency.burst", 150)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

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

// Validate checks the configuration for the given run mode. Modes:
// "normalize" (needs backend key and store), "accuracy"/"impact" (store
// only), "serve" (store and port).
func (c *Config) Validate(mode string) error {
	var problems []string

	checkCommon := func() {
		if c.Agents.ConfidenceThreshold < 0 || c.Agents.ConfidenceThreshold > 1 {
			problems = append(problems, "agents.confidence_threshold must be in [0,1]")
		}
		if c.Concurrency.Sustained < 1 {
			problems = append(problems, "concurrency.sustained must be >= 1")
		}
		if c.Concurrency.Burst != 0 && c.Concurrency.Burst < c.Concurrency.Sustained {
			problems = append(problems, "concurrency.burst must be >= concurrency.sustained")
		}
		if c.Agents.BatchSize < 1 {
			problems = append(problems, "agents.batch_size must be >= 1")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}

	switch mode {
	case "normalize":
		checkCommon()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "accuracy", "impact", "results":
		checkCommon()
	case "serve":
		checkCommon()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
