/**
 * @description
 * This package handles the configuration management for the settlement service. It uses
 * the Viper library to read configuration from environment variables (with an optional
 * .env file), providing a centralized and straightforward way to manage settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the settlement service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	EventsExchange            string `mapstructure:"EVENTS_EXCHANGE"`
	OutcomeReportQueue        string `mapstructure:"OUTCOME_REPORT_QUEUE"`
	JWKSURL                   string `mapstructure:"JWKS_URL"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	AllowedOrigins            string `mapstructure:"ALLOWED_ORIGINS"`
	X402WebhookSecret         string `mapstructure:"X402_WEBHOOK_SECRET"`
	StripeWebhookSecret       string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StrictWebhookAuth         bool   `mapstructure:"STRICT_WEBHOOK_AUTH"`
	StripeSignatureTolerance  int    `mapstructure:"STRIPE_SIGNATURE_TOLERANCE_SECONDS"`
	WebhookRateLimitPerMinute int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
	FundRateLimitPerMinute    int    `mapstructure:"FUND_RATE_LIMIT_PER_MINUTE"`
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

	// Set default values.
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "agentmesh:rate_limit")
	viper.SetDefault("EVENTS_EXCHANGE", "agentmesh.events")
	viper.SetDefault("OUTCOME_REPORT_QUEUE", "settlement_service.outcome_reports")
	viper.SetDefault("STRICT_WEBHOOK_AUTH", true)
	viper.SetDefault("STRIPE_SIGNATURE_TOLERANCE_SECONDS", 300)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 240)
	viper.SetDefault("FUND_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("OUTCOME_REPORT_QUEUE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SETTLEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("X402_WEBHOOK_SECRET")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("STRICT_WEBHOOK_AUTH")
	_ = viper.BindEnv("STRIPE_SIGNATURE_TOLERANCE_SECONDS")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("FUND_RATE_LIMIT_PER_MINUTE")

	// The .env file is optional; environment variables may carry everything.
	_ = viper.ReadInConfig()

	if err = viper.Unmarshal(&config); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(config.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be configured")
	}

	return config, nil
}
