/**
 * @description
 * This package handles configuration management for the member service. It
 * uses Viper to read settings from environment variables, with an optional
 * .env file loaded by godotenv during local development.
 *
 * @dependencies
 * - github.com/spf13/viper: environment binding, defaults and unmarshalling.
 * - github.com/joho/godotenv: optional .env loading.
 */
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	Auth0Domain       string `mapstructure:"AUTH0_DOMAIN"`
	Auth0ClientID     string `mapstructure:"AUTH0_CLIENT_ID"`
	Auth0ClientSecret string `mapstructure:"AUTH0_CLIENT_SECRET"`
	Auth0Audience     string `mapstructure:"AUTH0_AUDIENCE"`
	Auth0Issuer       string `mapstructure:"AUTH0_ISSUER"`
	Auth0JWKSURL      string `mapstructure:"AUTH0_JWKS_URL"`

	StripeMembershipSecretKey string `mapstructure:"STRIPE_MEMBERSHIP_SECRET_KEY"`
	StripeHouseCardSecretKey  string `mapstructure:"STRIPE_HOUSECARD_SECRET_KEY"`
	CheckoutSuccessURL        string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL         string `mapstructure:"CHECKOUT_CANCEL_URL"`
	PasswordResetResultURL    string `mapstructure:"PASSWORD_RESET_RESULT_URL"`

	SyncJobEnabled    bool   `mapstructure:"SYNC_JOB_ENABLED"`
	SyncJobSchedule   string `mapstructure:"SYNC_JOB_SCHEDULE"`
	SyncMemberDelayMS int    `mapstructure:"SYNC_MEMBER_DELAY_MS"`

	RedisURL               string `mapstructure:"REDIS_URL"`
	RateLimitPrefix        string `mapstructure:"RATE_LIMIT_PREFIX"`
	SyncRateLimitPerMinute int    `mapstructure:"SYNC_RATE_LIMIT_PER_MINUTE"`

	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	MemberEventsExchange string `mapstructure:"MEMBER_EVENTS_EXCHANGE"`

	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

var envKeys = []string{
	"SERVER_PORT",
	"AUTH0_DOMAIN",
	"AUTH0_CLIENT_ID",
	"AUTH0_CLIENT_SECRET",
	"AUTH0_AUDIENCE",
	"AUTH0_ISSUER",
	"AUTH0_JWKS_URL",
	"STRIPE_MEMBERSHIP_SECRET_KEY",
	"STRIPE_HOUSECARD_SECRET_KEY",
	"CHECKOUT_SUCCESS_URL",
	"CHECKOUT_CANCEL_URL",
	"PASSWORD_RESET_RESULT_URL",
	"SYNC_JOB_ENABLED",
	"SYNC_JOB_SCHEDULE",
	"SYNC_MEMBER_DELAY_MS",
	"REDIS_URL",
	"RATE_LIMIT_PREFIX",
	"SYNC_RATE_LIMIT_PER_MINUTE",
	"RABBITMQ_URL",
	"MEMBER_EVENTS_EXCHANGE",
	"CORS_ALLOWED_ORIGINS",
}

// LoadConfig reads configuration from environment variables. A .env file in
// the working directory is loaded first if present; real environment
// variables take precedence over it.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("CHECKOUT_SUCCESS_URL", "http://localhost:3000/payment/success")
	viper.SetDefault("CHECKOUT_CANCEL_URL", "http://localhost:3000/payment/cancel")
	viper.SetDefault("SYNC_JOB_ENABLED", true)
	viper.SetDefault("SYNC_JOB_SCHEDULE", "0 3 * * *") // At 03:00 every day.
	viper.SetDefault("SYNC_MEMBER_DELAY_MS", 0)
	viper.SetDefault("RATE_LIMIT_PREFIX", "eldsal:rate_limit")
	viper.SetDefault("SYNC_RATE_LIMIT_PER_MINUTE", 6)
	viper.SetDefault("MEMBER_EVENTS_EXCHANGE", "eldsal.members")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Auth0Domain = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(cfg.Auth0Domain), "https://"), "/")
	if cfg.Auth0Issuer == "" && cfg.Auth0Domain != "" {
		cfg.Auth0Issuer = "https://" + cfg.Auth0Domain + "/"
	}
	if cfg.Auth0JWKSURL == "" && cfg.Auth0Domain != "" {
		cfg.Auth0JWKSURL = "https://" + cfg.Auth0Domain + "/.well-known/jwks.json"
	}

	required := map[string]string{
		"AUTH0_DOMAIN":                 cfg.Auth0Domain,
		"AUTH0_CLIENT_ID":              cfg.Auth0ClientID,
		"AUTH0_CLIENT_SECRET":          cfg.Auth0ClientSecret,
		"AUTH0_AUDIENCE":               cfg.Auth0Audience,
		"STRIPE_MEMBERSHIP_SECRET_KEY": cfg.StripeMembershipSecretKey,
		"STRIPE_HOUSECARD_SECRET_KEY":  cfg.StripeHouseCardSecretKey,
	}
	for _, key := range envKeys {
		if value, ok := required[key]; ok && strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("%s is required", key)
		}
	}

	if cfg.SyncRateLimitPerMinute < 0 {
		cfg.SyncRateLimitPerMinute = 0
	}
	if cfg.SyncMemberDelayMS < 0 {
		cfg.SyncMemberDelayMS = 0
	}

	return &cfg, nil
}

// Auth0BaseURL is the origin of the identity provider tenant.
func (c Config) Auth0BaseURL() string {
	return "https://" + c.Auth0Domain
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
