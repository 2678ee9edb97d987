/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisIdempotencyPrefix string `mapstructure:"REDIS_IDEMPOTENCY_PREFIX"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	ProcessorEventQueue    string `mapstructure:"PROCESSOR_EVENT_QUEUE"`

	ProcessorAPIBaseURL    string `mapstructure:"PROCESSOR_API_BASE_URL"`
	ProcessorAPIKey        string `mapstructure:"PROCESSOR_API_KEY"`
	ProcessorTimeoutSecs   int    `mapstructure:"PROCESSOR_TIMEOUT_SECONDS"`
	ProcessorWebhookSecret string `mapstructure:"PROCESSOR_WEBHOOK_SECRET"`

	ClerkJWKSURL   string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	SupportedCurrencies string `mapstructure:"SUPPORTED_CURRENCIES"`

	IdempotencyTTLMinutes int `mapstructure:"IDEMPOTENCY_TTL_MINUTES"`

	DeliveryWorkers         int    `mapstructure:"DELIVERY_WORKERS"`
	DeliveryMaxAttempts     int    `mapstructure:"DELIVERY_MAX_ATTEMPTS"`
	DeliveryTimeoutSecs     int    `mapstructure:"DELIVERY_TIMEOUT_SECONDS"`
	DeliveryBackoffMinutes  string `mapstructure:"DELIVERY_BACKOFF_MINUTES"`
	SubscriberEndpoints     string `mapstructure:"SUBSCRIBER_ENDPOINTS"`
	SubscriberSigningSecret string `mapstructure:"SUBSCRIBER_SIGNING_SECRET"`
}

// Currencies returns the supported currency codes, upper-cased.
func (c Config) Currencies() []string {
	parts := strings.Split(c.SupportedCurrencies, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BackoffSchedule parses DELIVERY_BACKOFF_MINUTES ("5,10,20,40,80") into the
// dispatcher's retry schedule. Invalid entries are skipped with a warning; an
// empty result leaves the dispatcher on its built-in schedule.
func (c Config) BackoffSchedule() []time.Duration {
	var schedule []time.Duration
	for _, part := range strings.Split(c.DeliveryBackoffMinutes, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		minutes, err := strconv.Atoi(part)
		if err != nil || minutes <= 0 {
			log.Printf("level=warn component=config msg=\"invalid backoff entry skipped\" value=%q", part)
			continue
		}
		schedule = append(schedule, time.Duration(minutes)*time.Minute)
	}
	return schedule
}

// Endpoints returns the configured subscriber endpoints.
func (c Config) Endpoints() []string {
	parts := strings.Split(c.SubscriberEndpoints, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PROCESSOR_EVENT_QUEUE", "payment_service.processor_events")
	viper.SetDefault("REDIS_IDEMPOTENCY_PREFIX", "transfa:payments:idempotency")
	viper.SetDefault("PROCESSOR_TIMEOUT_SECONDS", 15)
	viper.SetDefault("SUPPORTED_CURRENCIES", "USD,EUR,GBP,NGN")
	viper.SetDefault("IDEMPOTENCY_TTL_MINUTES", 1440)
	viper.SetDefault("DELIVERY_WORKERS", 4)
	viper.SetDefault("DELIVERY_MAX_ATTEMPTS", 5)
	viper.SetDefault("DELIVERY_TIMEOUT_SECONDS", 10)
	viper.SetDefault("DELIVERY_BACKOFF_MINUTES", "5,10,20,40,80")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_IDEMPOTENCY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PROCESSOR_EVENT_QUEUE")
	_ = viper.BindEnv("PROCESSOR_API_BASE_URL")
	_ = viper.BindEnv("PROCESSOR_API_KEY")
	_ = viper.BindEnv("PROCESSOR_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PROCESSOR_WEBHOOK_SECRET")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SUPPORTED_CURRENCIES")
	_ = viper.BindEnv("IDEMPOTENCY_TTL_MINUTES")
	_ = viper.BindEnv("DELIVERY_WORKERS")
	_ = viper.BindEnv("DELIVERY_MAX_ATTEMPTS")
	_ = viper.BindEnv("DELIVERY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("DELIVERY_BACKOFF_MINUTES")
	_ = viper.BindEnv("SUBSCRIBER_ENDPOINTS")
	_ = viper.BindEnv("SUBSCRIBER_SIGNING_SECRET")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisIdempotencyPrefix = strings.TrimSpace(config.RedisIdempotencyPrefix)
	if config.RedisIdempotencyPrefix == "" {
		config.RedisIdempotencyPrefix = "transfa:payments:idempotency"
	}

	if config.ProcessorTimeoutSecs <= 0 {
		config.ProcessorTimeoutSecs = 15
	}
	if config.IdempotencyTTLMinutes <= 0 {
		config.IdempotencyTTLMinutes = 1440
	}
	if config.DeliveryWorkers <= 0 {
		config.DeliveryWorkers = 4
	}
	if config.DeliveryMaxAttempts <= 0 {
		config.DeliveryMaxAttempts = 5
	}
	if config.DeliveryTimeoutSecs <= 0 {
		config.DeliveryTimeoutSecs = 10
	}

	return
}
