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

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 1024, cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 5.0, cfg.Anthropic.RequestsPerSecond, 0.001)
	assert.Equal(t, "default", cfg.Limits.SubjectID)
	assert.Equal(t, 5, cfg.Batch.Concurrency)
	assert.Equal(t, 1000, cfg.Batch.WindowDelayMs)
	assert.Equal(t, 3, cfg.Batch.MaxRetries)
	assert.Equal(t, 60, cfg.Batch.AttemptTimeoutS)
	assert.Equal(t, 2000, cfg.Batch.AvgTokensPerItem)
	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, "docingest.db", cfg.Ledger.Path)
	assert.Equal(t, "csv", cfg.Export.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
ledger:
  driver: memory
log:
  level: debug
  format: console
batch:
  concurrency: 10
limits:
  quotas:
    extract:
      max_requests: 100
      window_secs: 60
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Ledger.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Batch.Concurrency)
	require.Contains(t, cfg.Limits.Quotas, "extract")
	assert.Equal(t, 100, cfg.Limits.Quotas["extract"].MaxRequests)
	assert.Equal(t, 60, cfg.Limits.Quotas["extract"].WindowSecs)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Batch.MaxRetries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
ledger:
  driver: memory
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DOCINGEST_LEDGER_DRIVER", "sqlite")
	t.Setenv("DOCINGEST_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DOCINGEST_BATCH_CONCURRENCY", "12")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Batch.Concurrency)
}

func TestQuotaWindow(t *testing.T) {
	q := QuotaConfig{MaxRequests: 10, WindowSecs: 90}
	assert.Equal(t, "1m30s", q.Window().String())
}

// validDefaults returns a Config that passes validation in report mode.
func validDefaults() *Config {
	return &Config{
		Ledger: LedgerConfig{Driver: "memory"},
		Batch: BatchConfig{
			Concurrency:     5,
			MaxRetries:      3,
			AttemptTimeoutS: 60,
		},
	}
}

func TestValidateIngest_RequiresKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateReport_NoKeyNeeded(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("report"))
}

func TestValidateLedgerDrivers(t *testing.T) {
	cfg := validDefaults()

	cfg.Ledger = LedgerConfig{Driver: "sqlite"}
	err := cfg.Validate("report")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.path is required")

	cfg.Ledger = LedgerConfig{Driver: "sqlite", Path: "test.db"}
	assert.NoError(t, cfg.Validate("report"))

	cfg.Ledger = LedgerConfig{Driver: "postgres"}
	err = cfg.Validate("report")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.database_url is required")

	cfg.Ledger = LedgerConfig{Driver: "redis"}
	err = cfg.Validate("report")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.driver must be")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.Concurrency = 0
	err := cfg.Validate("report")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch.concurrency must be between 1 and 50")

	cfg.Batch.Concurrency = 51
	err = cfg.Validate("report")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch.concurrency must be between 1 and 50")

	cfg.Batch.Concurrency = 50
	assert.NoError(t, cfg.Validate("report"))
}

func TestValidateQuotas(t *testing.T) {
	cfg := validDefaults()
	cfg.Limits.Quotas = map[string]QuotaConfig{
		"extract": {MaxRequests: 0, WindowSecs: 60},
	}

	err := cfg.Validate("report")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "limits.quotas.extract")

	cfg.Limits.Quotas["extract"] = QuotaConfig{MaxRequests: 10, WindowSecs: 60}
	assert.NoError(t, cfg.Validate("report"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
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
