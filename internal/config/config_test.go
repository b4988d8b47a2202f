package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"ADDR", "LOG_LEVEL", "REDIS_URL", "DATABASE_URL", "PUTER_API_URL", "PUTER_ORIGIN",
	"PUTER_AUTH_TOKEN", "SYSTEM_CREDENTIALS_SECRET", "AWS_REGION", "SNS_TOPIC_ARN",
	"USAGE_QUEUE_URL", "OTLP_ENDPOINT", "ENCRYPTION_KEY", "FREE_DAILY_LIMIT",
	"SHORT_BLOCK_DURATION", "REQUEST_TIMEOUT", "STREAM_TIMEOUT", "TENANT_CACHE_TTL",
	"USAGE_BUFFER_SIZE", "USAGE_FLUSH_INTERVAL", "TOKEN_ESTIMATOR", "SHUTDOWN_TIMEOUT",
	"POD_NAME", "POD_NAMESPACE",
}

// clearEnv blanks every key for the duration of the test. Empty values are
// treated as unset by viper.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	strs := []struct {
		name     string
		got      string
		expected string
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"PuterAPIURL", cfg.PuterAPIURL, "https://api.puter.com/drivers/call"},
		{"PuterOrigin", cfg.PuterOrigin, "https://puter.com"},
		{"TokenEstimator", cfg.TokenEstimator, "chars"},
		{"RedisURL", cfg.RedisURL, ""},
	}
	for _, tt := range strs {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}

	durations := []struct {
		name     string
		got      time.Duration
		expected time.Duration
	}{
		{"ShortBlockDuration", cfg.ShortBlockDuration, 5 * time.Minute},
		{"RequestTimeout", cfg.RequestTimeout, 120 * time.Second},
		{"StreamTimeout", cfg.StreamTimeout, 240 * time.Second},
		{"TenantCacheTTL", cfg.TenantCacheTTL, 30 * time.Second},
		{"ShutdownTimeout", cfg.ShutdownTimeout, 30 * time.Second},
	}
	for _, tt := range durations {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.FreeDailyLimit != 15 {
		t.Errorf("FreeDailyLimit = %d, want 15", cfg.FreeDailyLimit)
	}
	if cfg.UsesAWS() {
		t.Error("UsesAWS() = true, want false")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("FREE_DAILY_LIMIT", "30")
	t.Setenv("REQUEST_TIMEOUT", "90s")
	t.Setenv("STREAM_TIMEOUT", "600")
	t.Setenv("TOKEN_ESTIMATOR", "tiktoken")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("SNS_TOPIC_ARN", "arn:aws:sns:us-east-1:1:alerts")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.FreeDailyLimit != 30 {
		t.Errorf("FreeDailyLimit = %d, want 30", cfg.FreeDailyLimit)
	}
	if cfg.RequestTimeout != 90*time.Second {
		t.Errorf("RequestTimeout = %v, want 90s", cfg.RequestTimeout)
	}
	if cfg.StreamTimeout != 600*time.Second {
		t.Errorf("StreamTimeout = %v, want 10m", cfg.StreamTimeout)
	}
	if !cfg.UsesAWS() {
		t.Error("UsesAWS() = false, want true")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"estimator", map[string]string{"TOKEN_ESTIMATOR": "bytes"}},
		{"duration", map[string]string{"REQUEST_TIMEOUT": "soon"}},
		{"zero timeout", map[string]string{"STREAM_TIMEOUT": "0"}},
		{"negative limit", map[string]string{"FREE_DAILY_LIMIT": "-1"}},
		{"secret without region", map[string]string{"SYSTEM_CREDENTIALS_SECRET": "puter/creds"}},
		{"queue without region", map[string]string{"USAGE_QUEUE_URL": "https://sqs/q"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PUTER_AUTH_TOKEN=tok-from-file\nADDR=:7070\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("ADDR", ":6060")

	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PuterAuthToken != "tok-from-file" {
		t.Errorf("PuterAuthToken = %q, want tok-from-file", cfg.PuterAuthToken)
	}
	if cfg.Addr != ":6060" {
		t.Errorf("Addr = %q, want :6060 (env wins over .env)", cfg.Addr)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"120", 120 * time.Second},
		{" 5 ", 5 * time.Second},
		{"90s", 90 * time.Second},
		{"1m30s", 90 * time.Second},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if err != nil {
			t.Errorf("parseDuration(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
