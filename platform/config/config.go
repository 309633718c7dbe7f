// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for admin middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetWebhookIPRate() float64
	GetWebhookIPBurst() int
}

// SchedulerConfig provides settings for the Redis-backed durable queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueuePrefix() string
}

// DispatchConfig provides worker pool and ingress settings.
type DispatchConfig interface {
	GetDispatchConcurrency() int
	GetDispatchRatePerSecond() float64
	GetDispatchMaxAttempts() int
	GetIngressAckTimeout() time.Duration
}

// CRMConfig provides settings for the rate-limited CRM client.
type CRMConfig interface {
	GetCRMRequestsPerSecond() int
	GetCRMMaxQueue() int
	GetCRMTimeout() time.Duration
}

// LLMConfig provides settings for the LLM gateway.
type LLMConfig interface {
	GetLLMBaseURL() string
	GetLLMAPIKey() string
	GetLLMModel() string
	GetLLMTimeout() time.Duration
}

// SMTPConfig provides settings for outbound email over SMTP.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetSMTPFromAddress() string
	GetSMTPFromName() string
	IsSMTPEnabled() bool
}

// AutomationConfig provides settings for triggers, chains and handoff.
type AutomationConfig interface {
	GetBusinessLocation() *time.Location
	GetChainSweepInterval() time.Duration
	GetChainInlineWaitMax() time.Duration
	GetChainOutsideWindowRetry() time.Duration
	GetTriggerCounterStore() string
}

// TelemetryConfig provides OpenTelemetry exporter settings.
type TelemetryConfig interface {
	GetOTELEndpoint() string
	GetOTELInsecure() bool
	GetServiceName() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	JWTAccessSecret         string
	WebhookIPRate           float64
	WebhookIPBurst          int
	RedisURL                string
	RedisTLSInsecure        bool
	AsynqQueuePrefix        string
	DispatchConcurrency     int
	DispatchRatePerSecond   float64
	DispatchMaxAttempts     int
	IngressAckTimeout       time.Duration
	CRMRequestsPerSecond    int
	CRMMaxQueue             int
	CRMTimeout              time.Duration
	LLMBaseURL              string
	LLMAPIKey               string
	LLMModel                string
	LLMTimeout              time.Duration
	SMTPHost                string
	SMTPPort                int
	SMTPUsername            string
	SMTPPassword            string
	SMTPFromAddress         string
	SMTPFromName            string
	BusinessTimezone        string
	BusinessLocation        *time.Location
	ChainSweepInterval      time.Duration
	ChainInlineWaitMax      time.Duration
	ChainOutsideWindowRetry time.Duration
	TriggerCounterStore     string
	OTELEndpoint            string
	OTELInsecure            bool
	ServiceName             string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string        { return c.HTTPAddr }
func (c *Config) GetWebhookIPRate() float64  { return c.WebhookIPRate }
func (c *Config) GetWebhookIPBurst() int     { return c.WebhookIPBurst }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string         { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool   { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueuePrefix() string { return c.AsynqQueuePrefix }

// DispatchConfig implementation
func (c *Config) GetDispatchConcurrency() int         { return c.DispatchConcurrency }
func (c *Config) GetDispatchRatePerSecond() float64   { return c.DispatchRatePerSecond }
func (c *Config) GetDispatchMaxAttempts() int         { return c.DispatchMaxAttempts }
func (c *Config) GetIngressAckTimeout() time.Duration { return c.IngressAckTimeout }

// CRMConfig implementation
func (c *Config) GetCRMRequestsPerSecond() int   { return c.CRMRequestsPerSecond }
func (c *Config) GetCRMMaxQueue() int            { return c.CRMMaxQueue }
func (c *Config) GetCRMTimeout() time.Duration   { return c.CRMTimeout }

// LLMConfig implementation
func (c *Config) GetLLMBaseURL() string         { return c.LLMBaseURL }
func (c *Config) GetLLMAPIKey() string          { return c.LLMAPIKey }
func (c *Config) GetLLMModel() string           { return c.LLMModel }
func (c *Config) GetLLMTimeout() time.Duration  { return c.LLMTimeout }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string        { return c.SMTPHost }
func (c *Config) GetSMTPPort() int           { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string    { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string    { return c.SMTPPassword }
func (c *Config) GetSMTPFromAddress() string { return c.SMTPFromAddress }
func (c *Config) GetSMTPFromName() string    { return c.SMTPFromName }
func (c *Config) IsSMTPEnabled() bool        { return c.SMTPHost != "" && c.SMTPFromAddress != "" }

// AutomationConfig implementation
func (c *Config) GetBusinessLocation() *time.Location       { return c.BusinessLocation }
func (c *Config) GetChainSweepInterval() time.Duration      { return c.ChainSweepInterval }
func (c *Config) GetChainInlineWaitMax() time.Duration      { return c.ChainInlineWaitMax }
func (c *Config) GetChainOutsideWindowRetry() time.Duration { return c.ChainOutsideWindowRetry }
func (c *Config) GetTriggerCounterStore() string            { return c.TriggerCounterStore }

// TelemetryConfig implementation
func (c *Config) GetOTELEndpoint() string { return c.OTELEndpoint }
func (c *Config) GetOTELInsecure() bool   { return c.OTELInsecure }
func (c *Config) GetServiceName() string  { return c.ServiceName }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		JWTAccessSecret:         getEnv("JWT_ACCESS_SECRET", ""),
		WebhookIPRate:           mustFloat(getEnv("WEBHOOK_IP_RATE", "50")),
		WebhookIPBurst:          mustInt(getEnv("WEBHOOK_IP_BURST", "100")),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueuePrefix:        getEnv("ASYNQ_QUEUE_PREFIX", "crm"),
		DispatchConcurrency:     mustInt(getEnv("DISPATCH_CONCURRENCY", "5")),
		DispatchRatePerSecond:   mustFloat(getEnv("DISPATCH_RATE_PER_SECOND", "10")),
		DispatchMaxAttempts:     mustInt(getEnv("DISPATCH_MAX_ATTEMPTS", "3")),
		IngressAckTimeout:       mustDuration(getEnv("INGRESS_ACK_TIMEOUT", "1500ms")),
		CRMRequestsPerSecond:    mustInt(getEnv("CRM_REQUESTS_PER_SECOND", "7")),
		CRMMaxQueue:             mustInt(getEnv("CRM_MAX_QUEUE", "1000")),
		CRMTimeout:              mustDuration(getEnv("CRM_TIMEOUT", "15s")),
		LLMBaseURL:              getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:               getEnv("LLM_API_KEY", ""),
		LLMModel:                getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:              mustDuration(getEnv("LLM_TIMEOUT", "30s")),
		SMTPHost:                getEnv("SMTP_HOST", ""),
		SMTPPort:                mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:            getEnv("SMTP_USERNAME", ""),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		SMTPFromAddress:         getEnv("SMTP_FROM_ADDRESS", ""),
		SMTPFromName:            getEnv("SMTP_FROM_NAME", "Assistant"),
		BusinessTimezone:        getEnv("BUSINESS_TIMEZONE", "Europe/Moscow"),
		ChainSweepInterval:      mustDuration(getEnv("CHAIN_SWEEP_INTERVAL", "30s")),
		ChainInlineWaitMax:      mustDuration(getEnv("CHAIN_INLINE_WAIT_MAX", "60s")),
		ChainOutsideWindowRetry: mustDuration(getEnv("CHAIN_OUTSIDE_WINDOW_RETRY", "15m")),
		TriggerCounterStore:     strings.ToLower(getEnv("TRIGGER_COUNTER_STORE", "postgres")),
		OTELEndpoint:            getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:            strings.EqualFold(getEnv("OTEL_EXPORTER_OTLP_INSECURE", "false"), "true"),
		ServiceName:             getEnv("OTEL_SERVICE_NAME", "crm-automation"),
	}

	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("BUSINESS_TIMEZONE %q: %w", cfg.BusinessTimezone, err)
	}
	cfg.BusinessLocation = loc

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.TriggerCounterStore != "postgres" && cfg.TriggerCounterStore != "memory" {
		return nil, fmt.Errorf("TRIGGER_COUNTER_STORE must be postgres or memory")
	}
	if cfg.DispatchMaxAttempts < 1 {
		return nil, fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}
