/**
 * @description
 * This package handles configuration management for the payment-service. It
 * uses Viper to read settings from environment variables, with an optional
 * local .env file for development.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration library.
 */
package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration variables for the payment-service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	RailAPIBaseURL    string `mapstructure:"RAIL_API_BASE_URL"`
	RailAPIKey        string `mapstructure:"RAIL_API_KEY"`
	RailWebhookSecret string `mapstructure:"RAIL_WEBHOOK_SECRET"`
	CheckoutReturnURL string `mapstructure:"CHECKOUT_RETURN_URL"`

	JWKSURL        string `mapstructure:"JWKS_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	CascadeQueue string `mapstructure:"PAYMENT_CASCADE_QUEUE"`

	CheckoutRateLimitPerMinute int `mapstructure:"CHECKOUT_RATE_LIMIT_PER_MINUTE"`

	StalePendingMinutes   int    `mapstructure:"STALE_PENDING_MINUTES"`
	WebhookRetentionHours int    `mapstructure:"WEBHOOK_RETENTION_HOURS"`
	OutboxRetentionHours  int    `mapstructure:"OUTBOX_RETENTION_HOURS"`
	ReconcileSchedule     string `mapstructure:"RECONCILE_SCHEDULE"`
	CleanupSchedule       string `mapstructure:"CLEANUP_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8081")
	viper.SetDefault("PAYMENT_CASCADE_QUEUE", "payment_service.account_deletions")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "tripstack:rate_limit")
	viper.SetDefault("CHECKOUT_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("STALE_PENDING_MINUTES", 30)
	viper.SetDefault("WEBHOOK_RETENTION_HOURS", 72)
	viper.SetDefault("OUTBOX_RETENTION_HOURS", 168)
	viper.SetDefault("RECONCILE_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("CLEANUP_SCHEDULE", "14 * * * *")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RAIL_API_BASE_URL")
	_ = viper.BindEnv("RAIL_API_KEY")
	_ = viper.BindEnv("RAIL_WEBHOOK_SECRET")
	_ = viper.BindEnv("CHECKOUT_RETURN_URL")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PAYMENT_CASCADE_QUEUE")
	_ = viper.BindEnv("CHECKOUT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("STALE_PENDING_MINUTES")
	_ = viper.BindEnv("WEBHOOK_RETENTION_HOURS")
	_ = viper.BindEnv("OUTBOX_RETENTION_HOURS")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("CLEANUP_SCHEDULE")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	if config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix); config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "tripstack:rate_limit"
	}
	return
}
