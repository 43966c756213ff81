package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.SonnetModel)
	assert.Equal(t, 4096, cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 0.85, cfg.Agents.ConfidenceThreshold, 0.001)
	assert.InDelta(t, 0.95, cfg.Agents.ExtractionAccuracyThreshold, 0.001)
	assert.InDelta(t, 0.90, cfg.Agents.NormalizationAccuracyThreshold, 0.001)
	assert.Equal(t, 300, cfg.Agents.AgentTimeoutSecs)
	assert.Equal(t, 50, cfg.Agents.AutoBatchThreshold)
	assert.Equal(t, 25, cfg.Agents.BatchSize)
	assert.Equal(t, 4, cfg.Agents.CallsPerItem)
	assert.Equal(t, 60, cfg.Concurrency.Sustained)
	assert.Equal(t, 150, cfg.Concurrency.Burst)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/csa
log:
  level: debug
  format: console
server:
  port: 9090
concurrency:
  sustained: 20
  burst: 40
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Concurrency.Sustained)
	assert.Equal(t, 40, cfg.Concurrency.Burst)
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Agents.AutoBatchThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CSA_STORE_DRIVER", "postgres")
	t.Setenv("CSA_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("CSA_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "csa.db"
	cfg.Agents.ConfidenceThreshold = 0.85
	cfg.Agents.BatchSize = 25
	cfg.Concurrency.Sustained = 60
	cfg.Concurrency.Burst = 150
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateNormalize_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"

	assert.NoError(t, cfg.Validate("normalize"))
}

func TestValidateNormalize_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("normalize")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidateMissingStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("accuracy")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Concurrency.Sustained = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency.sustained must be >= 1")

	cfg.Concurrency.Sustained = 60
	cfg.Concurrency.Burst = 30
	err = cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency.burst must be >= concurrency.sustained")

	cfg.Concurrency.Burst = 150
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateConfidenceThreshold(t *testing.T) {
	cfg := validDefaults()

	cfg.Agents.ConfidenceThreshold = -0.1
	err := cfg.Validate("normalize")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_threshold")

	cfg.Agents.ConfidenceThreshold = 1.1
	err = cfg.Validate("normalize")
	assert.Error(t, err)
}
