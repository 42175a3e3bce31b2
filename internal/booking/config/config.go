/**
 * @description
 * This package handles loading and managing all configuration for the
 * booking-service, such as database connection strings, message broker
 * details, and queue names. It uses Viper to read from a .env file or
 * environment variables.
 */
package config

import (
	"github.com/spf13/viper"
)

// Config stores all configuration for the booking-service.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	// JWKSURL points at the identity provider's signing keys for verifying
	// traveler access tokens.
	JWKSURL string `mapstructure:"JWKS_URL"`

	// InternalAPIKey guards service-to-service endpoints.
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	// PaymentServiceURL is the base URL of the payment-service, used to
	// request refunds when a paid booking is cancelled.
	PaymentServiceURL string `mapstructure:"PAYMENT_SERVICE_URL"`

	// FactsQueue is the queue bound to payment completion and refund facts.
	FactsQueue string `mapstructure:"FACTS_QUEUE"`

	// CascadeQueue is the queue bound to account deletion events.
	CascadeQueue string `mapstructure:"CASCADE_QUEUE"`

	// MaxConsumerAttempts bounds redeliveries of a failing message before it
	// is parked in the dead letter table.
	MaxConsumerAttempts int `mapstructure:"MAX_CONSUMER_ATTEMPTS"`

	// DeadLetterRetentionHours controls how long parked messages are kept.
	DeadLetterRetentionHours int `mapstructure:"DEAD_LETTER_RETENTION_HOURS"`

	// CleanupSchedule is the cron expression for the retention sweep.
	CleanupSchedule string `mapstructure:"CLEANUP_SCHEDULE"`
}

// LoadConfig reads configuration from a file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8082")
	viper.SetDefault("FACTS_QUEUE", "booking_service.payment_facts")
	viper.SetDefault("CASCADE_QUEUE", "booking_service.account_deletions")
	viper.SetDefault("MAX_CONSUMER_ATTEMPTS", 5)
	viper.SetDefault("DEAD_LETTER_RETENTION_HOURS", 720)
	viper.SetDefault("CLEANUP_SCHEDULE", "41 * * * *")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("PAYMENT_SERVICE_URL")
	_ = viper.BindEnv("FACTS_QUEUE")
	_ = viper.BindEnv("CASCADE_QUEUE")
	_ = viper.BindEnv("MAX_CONSUMER_ATTEMPTS")
	_ = viper.BindEnv("DEAD_LETTER_RETENTION_HOURS")
	_ = viper.BindEnv("CLEANUP_SCHEDULE")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	return
}
