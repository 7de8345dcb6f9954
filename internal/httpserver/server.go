package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/RankForge/server/internal/apikey"
	"github.com/RankForge/server/internal/config"
	"github.com/RankForge/server/internal/idempotency"
	"github.com/RankForge/server/internal/logger"
	"github.com/RankForge/server/internal/metrics"
	"github.com/RankForge/server/internal/orders"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/ratelimit"
	"github.com/RankForge/server/internal/realtime"
	"github.com/RankForge/server/internal/storage"
)

var serverStartTime = time.Now()

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Config      *config.Config
	Orders      *orders.Service
	Providers   *payments.Registry
	Store       storage.Store
	Hub         *realtime.Hub // nil disables the WebSocket endpoint
	Keys        *apikey.Keyring
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // nil serves the default registry
	DB          Pinger              // optional; reported by /health
	Logger      zerolog.Logger
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg       *config.Config
	orders    *orders.Service
	providers *payments.Registry
	store     storage.Store
	hub       *realtime.Hub
	keys      *apikey.Keyring
	metrics   *metrics.Metrics
	db        Pinger
	logger    zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(deps Deps) *Server {
	router := chi.NewRouter()
	s := &Server{
		handlers: newHandlers(deps),
		httpServer: &http.Server{
			Addr:         deps.Config.Server.Address,
			ReadTimeout:  deps.Config.Server.ReadTimeout.Duration,
			WriteTimeout: deps.Config.Server.WriteTimeout.Duration,
			IdleTimeout:  deps.Config.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
	ConfigureRouter(router, deps)
	return s
}

func newHandlers(deps Deps) handlers {
	return handlers{
		cfg:       deps.Config,
		orders:    deps.Orders,
		providers: deps.Providers,
		store:     deps.Store,
		hub:       deps.Hub,
		keys:      deps.Keys,
		metrics:   deps.Metrics,
		db:        deps.DB,
		logger:    deps.Logger,
	}
}

// ConfigureRouter attaches all routes to an existing router.
func ConfigureRouter(router chi.Router, deps Deps) {
	if router == nil {
		return
	}
	h := newHandlers(deps)
	cfg := deps.Config

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-API-Key", "X-User-ID", "Idempotency-Key", "Authorization"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Idempotency-Replay"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RequestID)
	if cfg.Server.TrustProxyHeaders {
		router.Use(middleware.RealIP)
	}
	router.Use(middleware.Recoverer)
	router.Use(apikey.Middleware(deps.Keys))

	limits := ratelimit.FromConfig(cfg.RateLimit, deps.Metrics)
	admin := apikey.Require(deps.Keys, apikey.RoleAdmin)
	internal := apikey.Require(deps.Keys, apikey.RoleInternal)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", h.health)
		r.With(adminMetricsAuth(deps.Keys)).Handle("/metrics", metricsHandler(deps.Gatherer))
	})

	// Gateways retry on their own schedule; never limit them.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/api/pay/{provider}/webhook", h.paymentWebhook)
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(ratelimit.GlobalLimiter(limits))
		r.Use(ratelimit.IPLimiter(limits))
		r.Use(ratelimit.UserLimiter(limits))

		idem := idempotency.Middleware(deps.Idempotency, idempotency.DefaultTTL)
		if deps.Idempotency == nil {
			idem = func(next http.Handler) http.Handler { return next }
		}
		r.With(idem).Post("/api/pay/{provider}/checkout", h.createCheckout)

		r.With(internal).Post("/api/notifications/send", h.sendNotification)
		r.With(internal).Get("/api/notifications", h.listNotifications)
		r.With(internal).Post("/api/notifications/{id}/read", h.markNotificationRead)

		r.Route("/api/admin/orders", func(r chi.Router) {
			r.Use(admin)
			r.Get("/", h.listOrders)
			r.Get("/{id}", h.getOrder)
			r.Post("/{id}/status", h.updateOrderStatus)
			r.Post("/{id}/confirm-payment", h.confirmPayment)
		})
	})

	// WebSocket connections outlive any request timeout.
	if deps.Hub != nil {
		auth := &realtime.Authenticator{
			IsAdminKey: deps.Keys.IsAdminKey,
			UserSecret: []byte(cfg.Realtime.UserTokenSecret),
		}
		router.Handle("/api/realtime/ws", deps.Hub.Handler(auth))
	}
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
