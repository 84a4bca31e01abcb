package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Poller    PollerConfig
	Retry     RetryConfig
	Processor ProcessorConfig
	Email     EmailConfig
	Admin     AdminConfig
}

type AppConfig struct {
	Name    string
	Port    string
	Debug   bool
	LogPath string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	MaxConns int32
}

type RedisConfig struct {
	URL string
}

type PollerConfig struct {
	Interval             time.Duration
	Workers              int
	BatchSize            int
	ChargeTimeout        time.Duration
	StaleProcessingAfter time.Duration
}

type RetryConfig struct {
	Delays      []time.Duration
	MaxAttempts int
}

type ProcessorConfig struct {
	Name      string
	Currency  string
	StripeKey string
}

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Operator string
}

type AdminConfig struct {
	KeyHash   string
	RateLimit string
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	// Set defaults
	viper.SetDefault("APP_NAME", "trip-installments")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("LOG_PATH", "logs/")
	viper.SetDefault("POLL_INTERVAL", "1m")
	viper.SetDefault("POLL_WORKERS", 4)
	viper.SetDefault("POLL_BATCH_SIZE", 100)
	viper.SetDefault("CHARGE_TIMEOUT", "30s")
	viper.SetDefault("STALE_PROCESSING_AFTER", "15m")
	viper.SetDefault("RETRY_DELAYS", "1m,1440m,2880m,4320m")
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 0)
	viper.SetDefault("CURRENCY", "usd")
	viper.SetDefault("PROCESSOR", "stripe")
	viper.SetDefault("SMTP_PORT", 587)
	viper.SetDefault("RATE_LIMIT", "100-M")

	// .env is optional when everything comes from the environment
	if err := viper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	viper.AutomaticEnv()

	delays, err := ParseDurations(viper.GetString("RETRY_DELAYS"))
	if err != nil {
		return nil, fmt.Errorf("parse RETRY_DELAYS: %w", err)
	}

	maxAttempts := viper.GetInt("RETRY_MAX_ATTEMPTS")
	if maxAttempts <= 0 {
		maxAttempts = len(delays)
	}

	config := &Config{
		App: AppConfig{
			Name:    viper.GetString("APP_NAME"),
			Port:    viper.GetString("PORT"),
			Debug:   viper.GetBool("DEBUG"),
			LogPath: viper.GetString("LOG_PATH"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			Name:     viper.GetString("DB_NAME"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASS"),
			MaxConns: viper.GetInt32("DB_MAX_CONNS"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("REDIS_URL"),
		},
		Poller: PollerConfig{
			Interval:             viper.GetDuration("POLL_INTERVAL"),
			Workers:              viper.GetInt("POLL_WORKERS"),
			BatchSize:            viper.GetInt("POLL_BATCH_SIZE"),
			ChargeTimeout:        viper.GetDuration("CHARGE_TIMEOUT"),
			StaleProcessingAfter: viper.GetDuration("STALE_PROCESSING_AFTER"),
		},
		Retry: RetryConfig{
			Delays:      delays,
			MaxAttempts: maxAttempts,
		},
		Processor: ProcessorConfig{
			Name:      strings.ToLower(viper.GetString("PROCESSOR")),
			Currency:  strings.ToLower(viper.GetString("CURRENCY")),
			StripeKey: viper.GetString("STRIPE_SECRET_KEY"),
		},
		Email: EmailConfig{
			Host:     viper.GetString("SMTP_HOST"),
			Port:     viper.GetInt("SMTP_PORT"),
			User:     viper.GetString("SMTP_USER"),
			Password: viper.GetString("SMTP_PASS"),
			From:     viper.GetString("EMAIL_FROM"),
			Operator: viper.GetString("OPERATOR_EMAIL"),
		},
		Admin: AdminConfig{
			KeyHash:   viper.GetString("ADMIN_KEY_HASH"),
			RateLimit: viper.GetString("RATE_LIMIT"),
		},
	}

	return config, nil
}

// ParseDurations parses a comma separated list such as "1m,1440m,2880m".
func ParseDurations(value string) ([]time.Duration, error) {
	var durations []time.Duration
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("duration %q must be positive", part)
		}
		durations = append(durations, d)
	}

	if len(durations) == 0 {
		return nil, fmt.Errorf("at least one duration is required")
	}

	return durations, nil
}
