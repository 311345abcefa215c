// Package config loads ledger-service settings from environment variables, an
// optional .env file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// Config holds all the configuration variables for the ledger-service.
type Config struct {
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	RedisURL               string        `mapstructure:"REDIS_URL"`
	RedisIdempotencyPrefix string        `mapstructure:"REDIS_IDEMPOTENCY_PREFIX"`
	IdempotencyTTL         time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	RabbitMQURL            string        `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange       string        `mapstructure:"RABBITMQ_EXCHANGE"`
	RabbitMQRoutingKey     string        `mapstructure:"RABBITMQ_ROUTING_KEY"`
	LockTimeout            time.Duration `mapstructure:"LOCK_TIMEOUT"`
	DefaultCurrency        string        `mapstructure:"DEFAULT_CURRENCY"`
	LogLevel               string        `mapstructure:"LOG_LEVEL"`
	LogFormat              string        `mapstructure:"LOG_FORMAT"`
}

var defaults = map[string]any{
	"REDIS_IDEMPOTENCY_PREFIX": "ledger:idempotency",
	"IDEMPOTENCY_TTL":          "24h",
	"RABBITMQ_EXCHANGE":        "bank.operations",
	"RABBITMQ_ROUTING_KEY":     "bank.operations.transfer.completed",
	"LOCK_TIMEOUT":             "5s",
	"DEFAULT_CURRENCY":         "INR",
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "json",
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"database-url": "DATABASE_URL",
	"redis-url":    "REDIS_URL",
	"rabbitmq-url": "RABBITMQ_URL",
	"lock-timeout": "LOCK_TIMEOUT",
	"currency":     "DEFAULT_CURRENCY",
	"log-level":    "LOG_LEVEL",
	"log-format":   "LOG_FORMAT",
}

// Load reads configuration from the given path. Precedence, highest first:
// flags set on the command line, environment, path/.env, defaults.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	// Tell viper the path to look for the optional .env file.
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "RABBITMQ_URL"} {
		_ = v.BindEnv(key)
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.RabbitMQURL = strings.TrimSpace(cfg.RabbitMQURL)
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("LOCK_TIMEOUT must not be negative, got %s", c.LockTimeout)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", c.IdempotencyTTL)
	}
	if err := domain.ValidateCurrencyCode(c.DefaultCurrency); err != nil {
		return fmt.Errorf("DEFAULT_CURRENCY: %w", err)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}
