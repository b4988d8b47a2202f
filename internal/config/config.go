// Package config loads the gateway configuration from environment variables,
// optionally seeded from a .env file in the working directory. Real
// environment variables take precedence over .env entries.
//
// Durations accept either integer seconds (REQUEST_TIMEOUT=120) or Go
// duration strings (REQUEST_TIMEOUT=2m).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisURL    string
	DatabaseURL string

	// Upstream driver-call endpoint.
	PuterAPIURL string
	PuterOrigin string
	// PuterAuthToken is a single system credential used when the configured
	// credential store has none.
	PuterAuthToken string

	// SystemCredentialsSecret names the Secrets Manager secret holding the
	// system credential list. Empty disables the secret source.
	SystemCredentialsSecret string

	AWSRegion     string
	SNSTopicARN   string
	UsageQueueURL string
	OTLPEndpoint  string
	EncryptionKey string

	FreeDailyLimit     int
	ShortBlockDuration time.Duration
	RequestTimeout     time.Duration
	StreamTimeout      time.Duration
	TenantCacheTTL     time.Duration

	UsageBufferSize    int
	UsageFlushInterval time.Duration

	// TokenEstimator is "chars" or "tiktoken".
	TokenEstimator string

	ShutdownTimeout time.Duration

	PodName      string
	PodNamespace string
}

func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PUTER_API_URL", "https://api.puter.com/drivers/call")
	v.SetDefault("PUTER_ORIGIN", "https://puter.com")
	v.SetDefault("FREE_DAILY_LIMIT", 15)
	v.SetDefault("SHORT_BLOCK_DURATION", "300")
	v.SetDefault("REQUEST_TIMEOUT", "120")
	v.SetDefault("STREAM_TIMEOUT", "240")
	v.SetDefault("TENANT_CACHE_TTL", "30")
	v.SetDefault("USAGE_BUFFER_SIZE", 1024)
	v.SetDefault("USAGE_FLUSH_INTERVAL", "2")
	v.SetDefault("TOKEN_ESTIMATOR", "chars")
	v.SetDefault("SHUTDOWN_TIMEOUT", "30")
	v.SetDefault("POD_NAME", "local")
	v.SetDefault("POD_NAMESPACE", "default")

	cfg := &Config{
		Addr:                    v.GetString("ADDR"),
		LogLevel:                strings.ToLower(v.GetString("LOG_LEVEL")),
		RedisURL:                v.GetString("REDIS_URL"),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		PuterAPIURL:             v.GetString("PUTER_API_URL"),
		PuterOrigin:             v.GetString("PUTER_ORIGIN"),
		PuterAuthToken:          v.GetString("PUTER_AUTH_TOKEN"),
		SystemCredentialsSecret: v.GetString("SYSTEM_CREDENTIALS_SECRET"),
		AWSRegion:               v.GetString("AWS_REGION"),
		SNSTopicARN:             v.GetString("SNS_TOPIC_ARN"),
		UsageQueueURL:           v.GetString("USAGE_QUEUE_URL"),
		OTLPEndpoint:            v.GetString("OTLP_ENDPOINT"),
		EncryptionKey:           v.GetString("ENCRYPTION_KEY"),
		FreeDailyLimit:          v.GetInt("FREE_DAILY_LIMIT"),
		UsageBufferSize:         v.GetInt("USAGE_BUFFER_SIZE"),
		TokenEstimator:          strings.ToLower(v.GetString("TOKEN_ESTIMATOR")),
		PodName:                 v.GetString("POD_NAME"),
		PodNamespace:            v.GetString("POD_NAMESPACE"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SHORT_BLOCK_DURATION", &cfg.ShortBlockDuration},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"STREAM_TIMEOUT", &cfg.StreamTimeout},
		{"TENANT_CACHE_TTL", &cfg.TenantCacheTTL},
		{"USAGE_FLUSH_INTERVAL", &cfg.UsageFlushInterval},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		parsed, err := parseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("config: invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	switch c.TokenEstimator {
	case "chars", "tiktoken":
	default:
		return fmt.Errorf("config: invalid TOKEN_ESTIMATOR %q; must be chars or tiktoken", c.TokenEstimator)
	}

	if c.PuterAPIURL == "" {
		return errors.New("config: PUTER_API_URL must not be empty")
	}
	if c.FreeDailyLimit < 0 {
		return fmt.Errorf("config: FREE_DAILY_LIMIT must be >= 0, got %d", c.FreeDailyLimit)
	}
	if c.ShortBlockDuration <= 0 || c.RequestTimeout <= 0 || c.StreamTimeout <= 0 {
		return errors.New("config: SHORT_BLOCK_DURATION, REQUEST_TIMEOUT and STREAM_TIMEOUT must be positive")
	}
	if c.SystemCredentialsSecret != "" && c.AWSRegion == "" {
		return errors.New("config: AWS_REGION is required when SYSTEM_CREDENTIALS_SECRET is set")
	}
	if (c.SNSTopicARN != "" || c.UsageQueueURL != "") && c.AWSRegion == "" {
		return errors.New("config: AWS_REGION is required when SNS_TOPIC_ARN or USAGE_QUEUE_URL is set")
	}
	return nil
}

// UsesAWS reports whether any AWS-backed component is configured.
func (c *Config) UsesAWS() bool {
	return c.SystemCredentialsSecret != "" || c.SNSTopicARN != "" || c.UsageQueueURL != ""
}

func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(value)
}

func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
