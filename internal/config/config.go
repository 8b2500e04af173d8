package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration. It is constructed once in main
// and passed explicitly; there is no ambient settings singleton.
type Config struct {
	Port string
	Env  string

	// Provider platform (forwards webhooks, relays sends and calls)
	ProviderBaseURL       string
	ProviderClientID      string
	ProviderClientSecret  string
	ProviderWebhookSecret string

	// Meta / WABA credentials for the direct Graph API path
	MetaWABAID        string
	MetaPhoneNumberID string
	MetaPhoneNumber   string
	MetaAccessToken   string
	MetaWebhookSecret string
	MetaVerifyToken   string

	// Feature toggles
	MessagingEnabled bool
	CallingEnabled   bool

	// Worker cadences; deployment parameters, not core invariants
	PollInterval        time.Duration
	TemplateSyncEvery   time.Duration
	UsageReportEvery    time.Duration
	ExpirySweepEvery    time.Duration
	DailyResetEvery     time.Duration
	WeeklyResetEvery    time.Duration
	ProviderCallTimeout time.Duration
}

// LoadFromEnv builds the configuration from environment variables with
// sensible defaults. .env loading happens in main for local development.
func LoadFromEnv() *Config {
	return &Config{
		Port: getEnvOrDefault("PORT", "8080"),
		Env:  getEnvOrDefault("LOG_ENV", "development"),

		ProviderBaseURL:       getEnvOrDefault("PROVIDER_BASE_URL", ""),
		ProviderClientID:      getEnvOrDefault("PROVIDER_CLIENT_ID", ""),
		ProviderClientSecret:  getEnvOrDefault("PROVIDER_CLIENT_SECRET", ""),
		ProviderWebhookSecret: getEnvOrDefault("PROVIDER_WEBHOOK_SECRET", ""),

		MetaWABAID:        getEnvOrDefault("META_WABA_ID", ""),
		MetaPhoneNumberID: getEnvOrDefault("META_PHONE_NUMBER_ID", ""),
		MetaPhoneNumber:   getEnvOrDefault("META_PHONE_NUMBER", ""),
		MetaAccessToken:   getEnvOrDefault("META_ACCESS_TOKEN", ""),
		MetaWebhookSecret: getEnvOrDefault("META_WEBHOOK_SECRET", ""),
		MetaVerifyToken:   getEnvOrDefault("META_VERIFY_TOKEN", ""),

		MessagingEnabled: getEnvAsBoolOrDefault("MESSAGING_ENABLED", true),
		CallingEnabled:   getEnvAsBoolOrDefault("CALLING_ENABLED", true),

		PollInterval:        getEnvAsDurationOrDefault("POLL_INTERVAL", time.Minute),
		TemplateSyncEvery:   getEnvAsDurationOrDefault("TEMPLATE_SYNC_INTERVAL", time.Hour),
		UsageReportEvery:    getEnvAsDurationOrDefault("USAGE_REPORT_INTERVAL", time.Hour),
		ExpirySweepEvery:    getEnvAsDurationOrDefault("EXPIRY_SWEEP_INTERVAL", 24*time.Hour),
		DailyResetEvery:     getEnvAsDurationOrDefault("DAILY_RESET_INTERVAL", 24*time.Hour),
		WeeklyResetEvery:    getEnvAsDurationOrDefault("WEEKLY_RESET_INTERVAL", 7*24*time.Hour),
		ProviderCallTimeout: getEnvAsDurationOrDefault("PROVIDER_CALL_TIMEOUT", 30*time.Second),
	}
}

// IsProduction reports whether the service runs in production mode. Degraded
// webhook verification (missing secret) is only tolerated outside production.
func (c *Config) IsProduction() bool {
	return c.Env == "prod" || c.Env == "production"
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default value
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault gets environment variable as duration or returns default value
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
