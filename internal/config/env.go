package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the RANKFORGE_ prefix.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "RANKFORGE_SERVER_ADDRESS")
	setIfEnv(&c.Server.PublicURL, "RANKFORGE_PUBLIC_URL")
	setListIfEnv(&c.Server.CORSAllowedOrigins, "RANKFORGE_CORS_ALLOWED_ORIGINS")
	setBoolIfEnv(&c.Server.TrustProxyHeaders, "RANKFORGE_TRUST_PROXY_HEADERS")

	setIfEnv(&c.Logging.Level, "RANKFORGE_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "RANKFORGE_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "RANKFORGE_ENVIRONMENT")
	setIfEnv(&c.Logging.WebhookDebugLog, "RANKFORGE_WEBHOOK_DEBUG_LOG")
	setIfEnv(&c.Logging.AdminNotificationLog, "RANKFORGE_ADMIN_NOTIFICATION_LOG")
	setIfEnv(&c.Logging.UserNotificationLog, "RANKFORGE_USER_NOTIFICATION_LOG")

	setIfEnv(&c.Storage.Backend, "RANKFORGE_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "RANKFORGE_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "RANKFORGE_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "RANKFORGE_MONGODB_DATABASE")
	setIntIfEnv(&c.Storage.PostgresPool.MaxOpenConns, "RANKFORGE_POSTGRES_MAX_OPEN_CONNS")
	setIntIfEnv(&c.Storage.PostgresPool.MaxIdleConns, "RANKFORGE_POSTGRES_MAX_IDLE_CONNS")

	setBoolIfEnv(&c.Cryptomus.Enabled, "RANKFORGE_CRYPTOMUS_ENABLED")
	setIfEnv(&c.Cryptomus.MerchantID, "RANKFORGE_CRYPTOMUS_MERCHANT_ID")
	setIfEnv(&c.Cryptomus.APIKey, "RANKFORGE_CRYPTOMUS_API_KEY")
	setIfEnv(&c.Cryptomus.BaseURL, "RANKFORGE_CRYPTOMUS_BASE_URL")
	setIfEnv(&c.Cryptomus.ReturnURL, "RANKFORGE_CRYPTOMUS_RETURN_URL")
	setIfEnv(&c.Cryptomus.SuccessURL, "RANKFORGE_CRYPTOMUS_SUCCESS_URL")
	setListIfEnv(&c.Cryptomus.AllowedIPs, "RANKFORGE_CRYPTOMUS_ALLOWED_IPS")

	setBoolIfEnv(&c.Stripe.Enabled, "RANKFORGE_STRIPE_ENABLED")
	setIfEnv(&c.Stripe.SecretKey, "RANKFORGE_STRIPE_SECRET_KEY")
	setIfEnv(&c.Stripe.WebhookSecret, "RANKFORGE_STRIPE_WEBHOOK_SECRET")
	setIfEnv(&c.Stripe.SuccessURL, "RANKFORGE_STRIPE_SUCCESS_URL")
	setIfEnv(&c.Stripe.CancelURL, "RANKFORGE_STRIPE_CANCEL_URL")
	setIfEnv(&c.Stripe.Mode, "RANKFORGE_STRIPE_MODE")

	setBoolIfEnv(&c.Webhook.SynthesizeMissingOrders, "RANKFORGE_WEBHOOK_SYNTHESIZE_MISSING_ORDERS")
	setDurationIfEnv(&c.Webhook.ProcessingTimeout, "RANKFORGE_WEBHOOK_PROCESSING_TIMEOUT")

	setDurationIfEnv(&c.Notifications.ChannelTimeout, "RANKFORGE_NOTIFICATIONS_CHANNEL_TIMEOUT")
	setIfEnv(&c.Notifications.FallbackURL, "RANKFORGE_NOTIFICATIONS_FALLBACK_URL")
	setBoolIfEnv(&c.Notifications.PersistToStore, "RANKFORGE_NOTIFICATIONS_PERSIST_TO_STORE")

	setBoolIfEnv(&c.Realtime.Enabled, "RANKFORGE_REALTIME_ENABLED")
	setIfEnv(&c.Realtime.UserTokenSecret, "RANKFORGE_REALTIME_USER_TOKEN_SECRET")
	setListIfEnv(&c.Realtime.AllowedOrigins, "RANKFORGE_REALTIME_ALLOWED_ORIGINS")

	setDurationIfEnv(&c.Sessions.TTL, "RANKFORGE_SESSION_TTL")
	setDurationIfEnv(&c.Sessions.SweepInterval, "RANKFORGE_SESSION_SWEEP_INTERVAL")

	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "RANKFORGE_RATE_LIMIT_GLOBAL_ENABLED")
	setBoolIfEnv(&c.RateLimit.PerUserEnabled, "RANKFORGE_RATE_LIMIT_PER_USER_ENABLED")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "RANKFORGE_RATE_LIMIT_PER_IP_ENABLED")

	setListIfEnv(&c.APIKeys.Admin, "RANKFORGE_ADMIN_API_KEYS")
	setListIfEnv(&c.APIKeys.Internal, "RANKFORGE_INTERNAL_API_KEYS")

	setBoolIfEnv(&c.CircuitBreaker.Enabled, "RANKFORGE_CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1" and any casing of "true" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setListIfEnv replaces a string slice with a comma separated environment value.
func setListIfEnv(target *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*target = out
}
