package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL      string
	DurableWriteMode string

	SummaryTriggerTokens int
	MaxBufferTokens      int
	MaxBufferMessages    int
	BufferTTL            time.Duration
	SummaryRetention     int
	SessionIdleRetention time.Duration

	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	StoreCallTimeout        time.Duration

	PIIUseNER          bool
	PIIUseFallback     bool
	PIIRedactionMethod string
	PIIRedactInbound   bool

	SummarizerMode    string
	SummarizerHTTPURL string
	SummarizeTimeout  time.Duration
	CompactAsync      bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "mnemo"),
		AllowAnyOrigin:   false,

		RedisAddr:     stringsTrimSpace("REDIS_ADDR"),
		RedisPassword: stringsTrimSpace("REDIS_PASSWORD"),

		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		DurableWriteMode: envOrDefault("DURABLE_WRITE_MODE", "sync"),

		SummaryTriggerTokens: 3000,
		MaxBufferTokens:      4000,
		MaxBufferMessages:    30,
		BufferTTL:            24 * time.Hour,
		SummaryRetention:     20,
		SessionIdleRetention: time.Hour,

		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  30 * time.Second,
		StoreCallTimeout:        2 * time.Second,

		PIIUseNER:          true,
		PIIUseFallback:     false,
		PIIRedactionMethod: envOrDefault("PII_REDACTION_METHOD", "placeholder"),
		PIIRedactInbound:   false,

		SummarizerMode:    envOrDefault("SUMMARIZER_MODE", "static"),
		SummarizerHTTPURL: stringsTrimSpace("SUMMARIZER_HTTP_URL"),
		SummarizeTimeout:  20 * time.Second,
		CompactAsync:      false,

		ShutdownTimeout: 15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB, err = intFromEnv("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryTriggerTokens, err = intFromEnv("SUMMARY_TRIGGER_TOKENS", cfg.SummaryTriggerTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBufferTokens, err = intFromEnv("MAX_BUFFER_TOKENS", cfg.MaxBufferTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBufferMessages, err = intFromEnv("MAX_BUFFER_MESSAGES", cfg.MaxBufferMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.BufferTTL, err = durationFromEnv("BUFFER_TTL", cfg.BufferTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryRetention, err = intFromEnv("SUMMARY_RETENTION", cfg.SummaryRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleRetention, err = durationFromEnv("SESSION_IDLE_RETENTION", cfg.SessionIdleRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.BreakerFailureThreshold, err = intFromEnv("BREAKER_FAILURE_THRESHOLD", cfg.BreakerFailureThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.BreakerRecoveryTimeout, err = durationFromEnv("BREAKER_RECOVERY_TIMEOUT", cfg.BreakerRecoveryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreCallTimeout, err = durationFromEnv("STORE_CALL_TIMEOUT", cfg.StoreCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PIIUseNER, err = boolFromEnv("PII_USE_NER", cfg.PIIUseNER)
	if err != nil {
		return Config{}, err
	}
	cfg.PIIUseFallback, err = boolFromEnv("PII_USE_FALLBACK", cfg.PIIUseFallback)
	if err != nil {
		return Config{}, err
	}
	cfg.PIIRedactInbound, err = boolFromEnv("PII_REDACT_INBOUND", cfg.PIIRedactInbound)
	if err != nil {
		return Config{}, err
	}
	cfg.SummarizeTimeout, err = durationFromEnv("SUMMARIZE_TIMEOUT", cfg.SummarizeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompactAsync, err = boolFromEnv("COMPACT_ASYNC", cfg.CompactAsync)
	if err != nil {
		return Config{}, err
	}

	switch cfg.DurableWriteMode {
	case "sync", "async":
	default:
		return Config{}, fmt.Errorf("DURABLE_WRITE_MODE must be sync or async")
	}
	switch cfg.PIIRedactionMethod {
	case "placeholder", "hash":
	default:
		return Config{}, fmt.Errorf("PII_REDACTION_METHOD must be placeholder or hash")
	}
	if cfg.SummaryTriggerTokens <= 0 {
		return Config{}, fmt.Errorf("SUMMARY_TRIGGER_TOKENS must be positive")
	}
	if cfg.MaxBufferTokens < cfg.SummaryTriggerTokens {
		return Config{}, fmt.Errorf("MAX_BUFFER_TOKENS must be at least SUMMARY_TRIGGER_TOKENS")
	}
	if cfg.MaxBufferMessages <= 0 {
		return Config{}, fmt.Errorf("MAX_BUFFER_MESSAGES must be positive")
	}
	if cfg.BufferTTL < time.Minute {
		return Config{}, fmt.Errorf("BUFFER_TTL must be at least 1m")
	}
	if cfg.SummaryRetention <= 0 {
		return Config{}, fmt.Errorf("SUMMARY_RETENTION must be positive")
	}
	if cfg.BreakerFailureThreshold <= 0 {
		return Config{}, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive")
	}
	if cfg.StoreCallTimeout <= 0 {
		return Config{}, fmt.Errorf("STORE_CALL_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
