package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Notifications.ChannelTimeout.Duration <= 0 {
		c.Notifications.ChannelTimeout = Duration{Duration: 3 * time.Second}
	}
	if c.Realtime.SendBuffer <= 0 {
		c.Realtime.SendBuffer = 32
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	c.Server.PublicURL = strings.TrimSuffix(c.Server.PublicURL, "/")

	var errs []error

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, errors.New("storage.postgres_url is required for the postgres backend"))
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, errors.New("storage.mongodb_url is required for the mongodb backend"))
		}
		if c.Storage.MongoDBDatabase == "" {
			errs = append(errs, errors.New("storage.mongodb_database is required for the mongodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported (memory, postgres, mongodb)", c.Storage.Backend))
	}

	if c.Logging.WebhookDebugLog == "" {
		errs = append(errs, errors.New("logging.webhook_debug_log is required"))
	}
	if c.Logging.AdminNotificationLog == "" {
		errs = append(errs, errors.New("logging.admin_notification_log is required"))
	}

	if c.Cryptomus.Enabled {
		if c.Cryptomus.MerchantID == "" {
			errs = append(errs, errors.New("cryptomus.merchant_id is required when cryptomus is enabled"))
		}
		if c.Cryptomus.APIKey == "" {
			errs = append(errs, errors.New("cryptomus.api_key is required when cryptomus is enabled"))
		}
		if err := validateHTTPURL("cryptomus.base_url", c.Cryptomus.BaseURL); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Stripe.Enabled {
		if c.Stripe.SecretKey == "" {
			errs = append(errs, errors.New("stripe.secret_key is required when stripe is enabled"))
		}
		if c.Stripe.WebhookSecret == "" {
			errs = append(errs, errors.New("stripe.webhook_secret is required when stripe is enabled"))
		}
		if c.Stripe.Mode != "test" && c.Stripe.Mode != "live" {
			errs = append(errs, fmt.Errorf("stripe.mode must be live or test, got %q", c.Stripe.Mode))
		}
	}

	if c.Notifications.FallbackURL != "" {
		if err := validateHTTPURL("notifications.fallback_url", c.Notifications.FallbackURL); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Sessions.TTL.Duration < 0 {
		errs = append(errs, errors.New("sessions.ttl must not be negative"))
	}

	return errors.Join(errs...)
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", field)
	}
	return nil
}

// ApplyPostgresPoolSettings configures a sql.DB connection pool from config.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
