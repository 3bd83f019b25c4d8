// Package config loads application configuration from an optional YAML
// file and DOCINGEST_-prefixed environment variables, and initializes
// the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Limits    LimitsConfig    `yaml:"limits" mapstructure:"limits"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Ledger    LedgerConfig    `yaml:"ledger" mapstructure:"ledger"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// QuotaConfig is one sliding-window quota.
type QuotaConfig struct {
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests"`
	WindowSecs  int `yaml:"window_secs" mapstructure:"window_secs"`
}

// Window returns the quota window as a duration.
func (q QuotaConfig) Window() time.Duration {
	return time.Duration(q.WindowSecs) * time.Second
}

// LimitsConfig maps action names to admission quotas.
type LimitsConfig struct {
	SubjectID string                 `yaml:"subject_id" mapstructure:"subject_id"`
	Quotas    map[string]QuotaConfig `yaml:"quotas" mapstructure:"quotas"`
}

// BatchConfig configures the scheduler.
type BatchConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	WindowDelayMs    int `yaml:"window_delay_ms" mapstructure:"window_delay_ms"`
	MaxRetries       int `yaml:"max_retries" mapstructure:"max_retries"`
	AttemptTimeoutS  int `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	AvgTokensPerItem int `yaml:"avg_tokens_per_item" mapstructure:"avg_tokens_per_item"`
}

// LedgerConfig configures the processed-item ledger backend.
type LedgerConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // memory, sqlite, postgres
	Path        string `yaml:"path" mapstructure:"path"`     // sqlite file
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PricingConfig points at an optional rates file; the built-in table is
// used when empty.
type PricingConfig struct {
	RatesPath string `yaml:"rates_path" mapstructure:"rates_path"`
}

// ExportConfig configures report export.
type ExportConfig struct {
	Format string `yaml:"format" mapstructure:"format"` // csv or xlsx
	Path   string `yaml:"path" mapstructure:"path"`
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
	v.SetEnvPrefix("DOCINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.requests_per_second", 5)
	v.SetDefault("anthropic.burst", 5)
	v.SetDefault("limits.subject_id", "default")
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("batch.window_delay_ms", 1000)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.attempt_timeout_secs", 60)
	v.SetDefault("batch.avg_tokens_per_item", 2000)
	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.path", "docingest.db")
	v.SetDefault("export.format", "csv")

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

// Validate checks that the configuration is usable for the given mode.
// Mode "ingest" needs API credentials; "report" only reads the ledger.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Ledger.Driver {
	case "memory", "":
	case "sqlite":
		if c.Ledger.Path == "" {
			problems = append(problems, "ledger.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Ledger.DatabaseURL == "" {
			problems = append(problems, "ledger.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "ledger.driver must be memory, sqlite, or postgres")
	}

	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 50 {
		problems = append(problems, "batch.concurrency must be between 1 and 50")
	}
	if c.Batch.MaxRetries < 1 {
		problems = append(problems, "batch.max_retries must be >= 1")
	}
	if c.Batch.AttemptTimeoutS < 1 {
		problems = append(problems, "batch.attempt_timeout_secs must be >= 1")
	}
	for action, q := range c.Limits.Quotas {
		if q.MaxRequests < 1 || q.WindowSecs < 1 {
			problems = append(problems, "limits.quotas."+action+" needs max_requests >= 1 and window_secs >= 1")
		}
	}

	switch mode {
	case "ingest":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "report":
	default:
		problems = append(problems, "unknown mode "+mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
