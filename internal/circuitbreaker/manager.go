package circuitbreaker

import (
	"time"

	"github.com/RankForge/server/internal/config"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ServiceType identifies an outbound dependency with its own breaker.
type ServiceType string

const (
	ServiceCryptomus       ServiceType = "cryptomus_api"
	ServiceStripe          ServiceType = "stripe_api"
	ServiceNotificationAPI ServiceType = "notification_api"
)

// Manager keeps one breaker per outbound service so a failing gateway cannot
// stall calls to the others.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
}

// Config holds circuit breaker configuration for all services.
type Config struct {
	Enabled bool

	CryptomusAPI    BreakerConfig
	StripeAPI       BreakerConfig
	NotificationAPI BreakerConfig

	// Logger receives state transitions. Zero value discards them.
	Logger zerolog.Logger
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears closed-state counts; 0 never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// Trip after ConsecutiveFailures, or when FailureRatio is reached over at
	// least MinRequests.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig, logger zerolog.Logger) *Manager {
	return NewManager(Config{
		Enabled:         cfg.Enabled,
		CryptomusAPI:    fromServiceConfig(cfg.CryptomusAPI),
		StripeAPI:       fromServiceConfig(cfg.StripeAPI),
		NotificationAPI: fromServiceConfig(cfg.NotificationAPI),
		Logger:          logger,
	})
}

func fromServiceConfig(c config.BreakerServiceConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval.Duration,
		Timeout:             c.Timeout.Duration,
		ConsecutiveFailures: c.ConsecutiveFailures,
		FailureRatio:        c.FailureRatio,
		MinRequests:         c.MinRequests,
	}
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceCryptomus] = gobreaker.NewCircuitBreaker(toGobreakerSettings(ServiceCryptomus, cfg.CryptomusAPI, cfg.Logger))
	m.breakers[ServiceStripe] = gobreaker.NewCircuitBreaker(toGobreakerSettings(ServiceStripe, cfg.StripeAPI, cfg.Logger))
	m.breakers[ServiceNotificationAPI] = gobreaker.NewCircuitBreaker(toGobreakerSettings(ServiceNotificationAPI, cfg.NotificationAPI, cfg.Logger))

	return m
}

// Execute runs fn behind the service's breaker. Without a breaker it runs fn directly.
// A nil manager is a pass-through.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if m == nil || !m.config.Enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// Do is a typed wrapper around Execute.
func Do[T any](m *Manager, service ServiceType, fn func() (T, error)) (T, error) {
	out, err := m.Execute(service, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if v, ok := out.(T); ok {
			return v, err
		}
		return zero, err
	}
	return out.(T), nil
}

// State returns the breaker state name, "disabled" or "not_configured".
func (m *Manager) State(service ServiceType) string {
	if m == nil || !m.config.Enabled {
		return "disabled"
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return breaker.State().String()
}

// States reports every configured breaker, for the health endpoint.
func (m *Manager) States() map[string]string {
	out := make(map[string]string, 3)
	for _, s := range []ServiceType{ServiceCryptomus, ServiceStripe, ServiceNotificationAPI} {
		out[string(s)] = m.State(s)
	}
	return out
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if m == nil || !m.config.Enabled {
		return Counts{}
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func toGobreakerSettings(service ServiceType, cfg BreakerConfig, logger zerolog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        string(service),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit_breaker.state_changed")
		},
	}
}

// DefaultConfig returns the defaults used when the config file omits breakers.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		CryptomusAPI: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		StripeAPI: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		NotificationAPI: BreakerConfig{
			MaxRequests:         1,
			Interval:            60 * time.Second,
			Timeout:             15 * time.Second,
			ConsecutiveFailures: 3,
		},
	}
}
