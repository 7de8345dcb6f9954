package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	breaker := BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}

	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:                "info",
			Format:               "json",
			Environment:          "production",
			WebhookDebugLog:      "./logs/webhook-debug.ndjson",
			AdminNotificationLog: "./logs/admin-notifications.ndjson",
			UserNotificationLog:  "./logs/user-notifications.ndjson",
		},
		Storage: StorageConfig{
			Backend:         "memory",
			MongoDBDatabase: "rankforge",
		},
		Cryptomus: CryptomusConfig{
			BaseURL:  "https://api.cryptomus.com/v1",
			Timeout:  Duration{Duration: 10 * time.Second},
			Lifetime: Duration{Duration: time.Hour},
		},
		Stripe: StripeConfig{
			Mode: "test",
		},
		Webhook: WebhookConfig{
			SynthesizeMissingOrders: true,
			ProcessingTimeout:       Duration{Duration: 20 * time.Second},
			MaxBodyBytes:            1 << 20,
		},
		Notifications: NotificationsConfig{
			ChannelTimeout: Duration{Duration: 3 * time.Second},
			PersistToStore: true,
		},
		Realtime: RealtimeConfig{
			Enabled:      true,
			SendBuffer:   32,
			WriteTimeout: Duration{Duration: 10 * time.Second},
			PingInterval: Duration{Duration: 30 * time.Second},
		},
		Sessions: SessionsConfig{
			TTL:           Duration{Duration: 24 * time.Hour},
			SweepInterval: Duration{Duration: 10 * time.Minute},
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled:  true,
			GlobalLimit:    1000,
			GlobalWindow:   Duration{Duration: time.Minute},
			PerUserEnabled: true,
			PerUserLimit:   30,
			PerUserWindow:  Duration{Duration: time.Minute},
			PerIPEnabled:   true,
			PerIPLimit:     120,
			PerIPWindow:    Duration{Duration: time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:      true,
			CryptomusAPI: breaker,
			StripeAPI:    breaker,
			NotificationAPI: BreakerServiceConfig{
				MaxRequests:         1,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 15 * time.Second},
				ConsecutiveFailures: 3,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
