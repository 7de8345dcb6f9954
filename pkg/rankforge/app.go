// Package rankforge wires the payment reconciliation components for reuse or
// standalone serving.
package rankforge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/RankForge/server/internal/apikey"
	"github.com/RankForge/server/internal/circuitbreaker"
	"github.com/RankForge/server/internal/config"
	"github.com/RankForge/server/internal/cryptomus"
	"github.com/RankForge/server/internal/dbpool"
	"github.com/RankForge/server/internal/eventlog"
	"github.com/RankForge/server/internal/httpserver"
	"github.com/RankForge/server/internal/idempotency"
	"github.com/RankForge/server/internal/lifecycle"
	"github.com/RankForge/server/internal/logger"
	"github.com/RankForge/server/internal/metrics"
	"github.com/RankForge/server/internal/notify"
	"github.com/RankForge/server/internal/orders"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/realtime"
	"github.com/RankForge/server/internal/storage"
	stripesvc "github.com/RankForge/server/internal/stripe"
)

// App owns every long-lived component of the server.
type App struct {
	Config     *config.Config
	Store      storage.Store
	Orders     *orders.Service
	Dispatcher *notify.Dispatcher
	Hub        *realtime.Hub
	Providers  *payments.Registry
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger

	server    *httpserver.Server
	registry  *prometheus.Registry
	expiry    *storage.ExpiryService
	resources *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store  storage.Store
	logger *zerolog.Logger
	router chi.Router
}

// WithStore sets a custom storage backend. The caller keeps ownership of it.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// WithRouter registers the routes onto an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// NewApp assembles the server. On error every resource opened so far is closed.
func NewApp(cfg *config.Config, opts ...Option) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("rankforge: config required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "rankforge-server",
		Environment: cfg.Logging.Environment,
	})
	if o.logger != nil {
		appLogger = *o.logger
	}

	app = &App{
		Config:    cfg,
		Logger:    appLogger,
		registry:  prometheus.NewRegistry(),
		resources: lifecycle.NewManager(appLogger),
	}
	defer func() {
		if err != nil {
			_ = app.resources.Close()
		}
	}()

	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = metrics.New(app.registry)

	var pool *dbpool.SharedPool
	switch {
	case o.store != nil:
		app.Store = o.store
	case cfg.Storage.Backend == "postgres":
		pool, err = dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		app.resources.Register("postgres-pool", pool)
		app.Store, err = storage.NewStoreWithDB(storage.StoreConfigFrom(cfg.Storage, app.Metrics), pool.DB())
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	default:
		app.Store, err = storage.NewStore(storage.StoreConfigFrom(cfg.Storage, app.Metrics))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		app.resources.Register("storage", app.Store)
		if cfg.Storage.Backend == "" || cfg.Storage.Backend == "memory" {
			appLogger.Warn().Msg("rankforge.memory_store: webhook idempotency does not survive a restart")
		}
	}

	trail, err := openLog(cfg.Logging.WebhookDebugLog)
	if err != nil {
		return nil, fmt.Errorf("webhook debug log: %w", err)
	}
	app.resources.Register("webhook-debug-log", trail)

	notices, err := openLog(cfg.Logging.AdminNotificationLog)
	if err != nil {
		return nil, fmt.Errorf("admin notification log: %w", err)
	}
	app.resources.Register("admin-notification-log", notices)

	userNotices, err := openLog(cfg.Logging.UserNotificationLog)
	if err != nil {
		return nil, fmt.Errorf("user notification log: %w", err)
	}
	app.resources.Register("user-notification-log", userNotices)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, appLogger)

	var providers []payments.Provider
	if cfg.Cryptomus.Enabled {
		client, err := cryptomus.NewClient(cfg.Cryptomus, breakers, app.Metrics)
		if err != nil {
			return nil, fmt.Errorf("cryptomus: %w", err)
		}
		providers = append(providers, client)
	}
	if cfg.Stripe.Enabled {
		providers = append(providers, stripesvc.NewClient(cfg.Stripe, breakers, app.Metrics))
	}
	app.Providers = payments.NewRegistry(providers...)

	var channels []notify.Channel
	if cfg.Realtime.Enabled {
		app.Hub = realtime.NewHub(realtime.Config{
			SendBuffer:     cfg.Realtime.SendBuffer,
			WriteTimeout:   cfg.Realtime.WriteTimeout.Duration,
			PingInterval:   cfg.Realtime.PingInterval.Duration,
			AllowedOrigins: cfg.Realtime.AllowedOrigins,
		}, appLogger, app.Metrics)
		app.resources.Register("realtime-hub", app.Hub)
		channels = append(channels, &notify.BroadcastChannel{Broadcaster: app.Hub})
	}
	if cfg.Notifications.FallbackURL != "" {
		var key string
		if len(cfg.APIKeys.Internal) > 0 {
			key = cfg.APIKeys.Internal[0]
		}
		channels = append(channels, notify.NewHTTPChannel(cfg.Notifications.FallbackURL, key, cfg.Notifications.ChannelTimeout.Duration, breakers))
	}

	var inbox storage.NotificationStore
	if cfg.Notifications.PersistToStore {
		inbox = app.Store
	}
	app.Dispatcher = notify.NewDispatcher(notify.Config{
		ChannelTimeout: cfg.Notifications.ChannelTimeout.Duration,
		UserLog:        userNotices,
	}, notices, inbox, channels, appLogger, app.Metrics)

	app.Orders = orders.NewService(orders.Config{
		SynthesizeMissingOrders: cfg.Webhook.SynthesizeMissingOrders,
		ProcessingTimeout:       cfg.Webhook.ProcessingTimeout.Duration,
	}, app.Store, app.Dispatcher, trail, appLogger, app.Metrics)

	app.expiry = storage.NewExpiryService(app.Store, storage.ExpiryConfig{
		Enabled:     cfg.Sessions.TTL.Duration > 0,
		TTL:         cfg.Sessions.TTL.Duration,
		RunInterval: cfg.Sessions.SweepInterval.Duration,
	}, app.Metrics, appLogger)
	app.expiry.Start()
	app.resources.Register("session-expiry", app.expiry)

	idem := idempotency.NewMemoryStore(idempotency.DefaultMaxEntries, 10*time.Minute)
	app.resources.Register("idempotency-store", idem)

	deps := httpserver.Deps{
		Config:      cfg,
		Orders:      app.Orders,
		Providers:   app.Providers,
		Store:       app.Store,
		Hub:         app.Hub,
		Keys:        apikey.NewKeyring(apikey.Config{AdminKeys: cfg.APIKeys.Admin, InternalKeys: cfg.APIKeys.Internal}),
		Idempotency: idem,
		Metrics:     app.Metrics,
		Gatherer:    app.registry,
		Logger:      appLogger,
	}
	if pool != nil {
		deps.DB = pool
	}
	if o.router != nil {
		httpserver.ConfigureRouter(o.router, deps)
	}
	app.server = httpserver.New(deps)

	appLogger.Info().
		Strs("providers", app.Providers.Names()).
		Str("storage", cfg.Storage.Backend).
		Bool("realtime", app.Hub != nil).
		Int("notification_channels", len(channels)).
		Msg("rankforge.ready")
	return app, nil
}

func openLog(path string) (*eventlog.Log, error) {
	if path == "" {
		return eventlog.Discard(), nil
	}
	return eventlog.Open(path)
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (a *App) ListenAndServe() error {
	return a.server.ListenAndServe()
}

// Shutdown drains in-flight requests and then releases every resource.
func (a *App) Shutdown(ctx context.Context) error {
	return errors.Join(a.server.Shutdown(ctx), a.Close())
}

// Close releases resources owned by the app in reverse order of creation.
func (a *App) Close() error {
	return a.resources.Close()
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for embedders.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
