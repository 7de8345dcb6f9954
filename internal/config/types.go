package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err == nil {
		d.Duration = parsed
		return nil
	}
	if secs, convErr := time.ParseDuration(raw + "s"); convErr == nil {
		d.Duration = secs
		return nil
	}
	return fmt.Errorf("invalid duration value %q: %w", raw, err)
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Storage        StorageConfig        `yaml:"storage"`
	Cryptomus      CryptomusConfig      `yaml:"cryptomus"`
	Stripe         StripeConfig         `yaml:"stripe"`
	Webhook        WebhookConfig        `yaml:"webhook"`
	Notifications  NotificationsConfig  `yaml:"notifications"`
	Realtime       RealtimeConfig       `yaml:"realtime"`
	Sessions       SessionsConfig       `yaml:"sessions"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKeys        APIKeysConfig        `yaml:"api_keys"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	PublicURL          string   `yaml:"public_url"` // Base URL the payment gateways call back on
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable it only behind a proxy that overwrites those headers;
	// otherwise callers can pick the address the webhook allowlist sees.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// LoggingConfig controls the application logger and the NDJSON event logs.
type LoggingConfig struct {
	Level                string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format               string `yaml:"format"`      // json, console (default: json)
	Environment          string `yaml:"environment"` // production, staging, development
	WebhookDebugLog      string `yaml:"webhook_debug_log"`
	AdminNotificationLog string `yaml:"admin_notification_log"`
	UserNotificationLog  string `yaml:"user_notification_log"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // default: 25
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // default: 5
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // default: 5m
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend         string             `yaml:"backend"` // "memory", "postgres" or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`
	MongoDBURL      string             `yaml:"mongodb_url"`
	MongoDBDatabase string             `yaml:"mongodb_database"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
}

// CryptomusConfig holds the Cryptomus merchant credentials.
type CryptomusConfig struct {
	Enabled    bool     `yaml:"enabled"`
	MerchantID string   `yaml:"merchant_id"`
	APIKey     string   `yaml:"api_key"` // Payment API key; also signs webhooks
	BaseURL    string   `yaml:"base_url"`
	Timeout    Duration `yaml:"timeout"`
	Lifetime   Duration `yaml:"lifetime"` // Invoice lifetime
	ReturnURL  string   `yaml:"return_url"`
	SuccessURL string   `yaml:"success_url"`
	AllowedIPs []string `yaml:"allowed_ips"` // Optional webhook source allowlist
}

// StripeConfig holds Stripe payment integration configuration.
type StripeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
	Mode          string `yaml:"mode"` // live | test
}

// WebhookConfig controls inbound payment webhook processing.
type WebhookConfig struct {
	SynthesizeMissingOrders bool     `yaml:"synthesize_missing_orders"`
	ProcessingTimeout       Duration `yaml:"processing_timeout"`
	MaxBodyBytes            int64    `yaml:"max_body_bytes"`
}

// NotificationsConfig controls notification fan-out.
type NotificationsConfig struct {
	ChannelTimeout Duration `yaml:"channel_timeout"`
	FallbackURL    string   `yaml:"fallback_url"` // Notification ingest endpoint of the realtime gateway
	PersistToStore bool     `yaml:"persist_to_store"`
}

// RealtimeConfig controls the embedded WebSocket hub.
type RealtimeConfig struct {
	Enabled         bool     `yaml:"enabled"`
	UserTokenSecret string   `yaml:"user_token_secret"` // HMAC secret shared with the web front end
	AllowedOrigins  []string `yaml:"allowed_origins"`
	SendBuffer      int      `yaml:"send_buffer"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	PingInterval    Duration `yaml:"ping_interval"`
}

// SessionsConfig controls payment session expiry.
type SessionsConfig struct {
	TTL           Duration `yaml:"ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// RateLimitConfig holds rate limiting configuration for the non-webhook routes.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerUserEnabled bool     `yaml:"per_user_enabled"` // Identified by X-User-ID
	PerUserLimit   int      `yaml:"per_user_limit"`
	PerUserWindow  Duration `yaml:"per_user_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// APIKeysConfig holds the admin and service-to-service API keys.
type APIKeysConfig struct {
	Admin    []string `yaml:"admin"`
	Internal []string `yaml:"internal"`
}

// CircuitBreakerConfig holds circuit breaker configuration for all external services.
type CircuitBreakerConfig struct {
	Enabled         bool                 `yaml:"enabled"`
	CryptomusAPI    BreakerServiceConfig `yaml:"cryptomus_api"`
	StripeAPI       BreakerServiceConfig `yaml:"stripe_api"`
	NotificationAPI BreakerServiceConfig `yaml:"notification_api"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
