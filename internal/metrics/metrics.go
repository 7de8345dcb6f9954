package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the RankForge payment server.
type Metrics struct {
	// Webhook metrics
	WebhooksTotal          *prometheus.CounterVec
	WebhookDuration        *prometheus.HistogramVec
	SignatureFailuresTotal *prometheus.CounterVec
	MetadataErrorsTotal    *prometheus.CounterVec

	// Order metrics
	OrdersPaidTotal        *prometheus.CounterVec
	OrdersSynthesizedTotal *prometheus.CounterVec
	PaymentAmountTotal     *prometheus.CounterVec
	OrderStatusChanges     *prometheus.CounterVec
	CheckoutsTotal         *prometheus.CounterVec

	// Provider API metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
	ProviderErrorsTotal  *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal   *prometheus.CounterVec
	ChannelFailuresTotal *prometheus.CounterVec
	DurableWriteFailures *prometheus.CounterVec

	// Realtime metrics
	RealtimeConnections     *prometheus.GaugeVec
	RealtimeBroadcastsTotal *prometheus.CounterVec
	RealtimeDroppedTotal    prometheus.Counter

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec

	// Session expiry metrics
	ExpiryRunsTotal      prometheus.Counter
	SessionsExpiredTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_webhooks_total",
				Help: "Total number of payment webhooks by final state",
			},
			[]string{"provider", "outcome"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rankforge_webhook_duration_seconds",
				Help:    "Time taken to process a payment webhook",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"provider"},
		),
		SignatureFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_webhook_signature_failures_total",
				Help: "Total number of webhooks rejected by signature verification",
			},
			[]string{"provider", "reason"},
		),
		MetadataErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_webhook_metadata_errors_total",
				Help: "Total number of webhooks carrying unusable additional_data",
			},
			[]string{"provider", "stage"},
		),

		OrdersPaidTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_orders_paid_total",
				Help: "Total number of orders marked paid",
			},
			[]string{"provider"},
		),
		OrdersSynthesizedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_orders_synthesized_total",
				Help: "Total number of orders built from webhook metadata without a payment session",
			},
			[]string{"provider"},
		),
		PaymentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_payment_amount_minor_total",
				Help: "Total paid amount in minor currency units",
			},
			[]string{"provider", "currency"},
		),
		OrderStatusChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_order_status_changes_total",
				Help: "Total number of admin order status transitions",
			},
			[]string{"to"},
		),
		CheckoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_checkouts_total",
				Help: "Total number of checkout sessions created",
			},
			[]string{"provider", "status"},
		),

		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_provider_calls_total",
				Help: "Total number of outbound payment provider API calls",
			},
			[]string{"provider", "operation"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rankforge_provider_call_duration_seconds",
				Help:    "Duration of outbound payment provider API calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider", "operation"},
		),
		ProviderErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_provider_errors_total",
				Help: "Total number of failed payment provider API calls",
			},
			[]string{"provider", "operation", "error_type"},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_notifications_total",
				Help: "Total number of notifications by delivery channel",
			},
			[]string{"kind", "channel"},
		),
		ChannelFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_notification_channel_failures_total",
				Help: "Total number of notification channel attempts that failed and fell through",
			},
			[]string{"channel", "reason"},
		),
		DurableWriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_notification_durable_write_failures_total",
				Help: "Total number of failed durable notification writes",
			},
			[]string{"sink"},
		),

		RealtimeConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rankforge_realtime_connections",
				Help: "Number of open realtime connections",
			},
			[]string{"role"},
		),
		RealtimeBroadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_realtime_broadcasts_total",
				Help: "Total number of realtime broadcasts",
			},
			[]string{"event"},
		),
		RealtimeDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rankforge_realtime_dropped_clients_total",
				Help: "Total number of realtime clients dropped for not keeping up",
			},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankforge_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rankforge_db_query_duration_seconds",
				Help:    "Duration of database queries",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),

		ExpiryRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rankforge_session_expiry_runs_total",
				Help: "Total number of session expiry passes",
			},
		),
		SessionsExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rankforge_sessions_expired_total",
				Help: "Total number of payment sessions moved to expired",
			},
		),
	}
}

// ObserveWebhook records a processed webhook and its final state.
func (m *Metrics) ObserveWebhook(provider, outcome string, duration time.Duration) {
	m.WebhooksTotal.WithLabelValues(provider, outcome).Inc()
	m.WebhookDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveSignatureFailure records a rejected webhook.
func (m *Metrics) ObserveSignatureFailure(provider, reason string) {
	m.SignatureFailuresTotal.WithLabelValues(provider, reason).Inc()
}

// ObserveMetadataError records additional_data that failed to parse. stage is
// "session" when a payment session made it unnecessary, "synthesis" otherwise.
func (m *Metrics) ObserveMetadataError(provider, stage string) {
	m.MetadataErrorsTotal.WithLabelValues(provider, stage).Inc()
}

// ObserveOrderPaid records an order transition to paid.
func (m *Metrics) ObserveOrderPaid(provider, currency string, amountMinor int64, synthesized bool) {
	m.OrdersPaidTotal.WithLabelValues(provider).Inc()
	m.PaymentAmountTotal.WithLabelValues(provider, currency).Add(float64(amountMinor))
	if synthesized {
		m.OrdersSynthesizedTotal.WithLabelValues(provider).Inc()
	}
}

// ObserveOrderStatusChange records an admin status transition.
func (m *Metrics) ObserveOrderStatusChange(to string) {
	m.OrderStatusChanges.WithLabelValues(to).Inc()
}

// ObserveCheckout records a checkout attempt.
func (m *Metrics) ObserveCheckout(provider, status string) {
	m.CheckoutsTotal.WithLabelValues(provider, status).Inc()
}

// ObserveProviderCall records an outbound provider API call.
func (m *Metrics) ObserveProviderCall(provider, operation string, duration time.Duration, err error) {
	m.ProviderCallsTotal.WithLabelValues(provider, operation).Inc()
	m.ProviderCallDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())

	if err != nil {
		m.ProviderErrorsTotal.WithLabelValues(provider, operation, classifyError(err)).Inc()
	}
}

// ObserveNotification records the channel a notification was delivered through.
func (m *Metrics) ObserveNotification(kind, channel string) {
	m.NotificationsTotal.WithLabelValues(kind, channel).Inc()
}

// ObserveChannelFailure records a channel attempt that fell through to the next one.
func (m *Metrics) ObserveChannelFailure(channel string, err error) {
	m.ChannelFailuresTotal.WithLabelValues(channel, classifyError(err)).Inc()
}

// ObserveDurableWriteFailure records a failed durable notification sink.
func (m *Metrics) ObserveDurableWriteFailure(sink string) {
	m.DurableWriteFailures.WithLabelValues(sink).Inc()
}

// RealtimeConnected adjusts the open connection gauge for role by delta.
func (m *Metrics) RealtimeConnected(role string, delta int) {
	m.RealtimeConnections.WithLabelValues(role).Add(float64(delta))
}

// ObserveBroadcast records a realtime broadcast and the clients dropped during it.
func (m *Metrics) ObserveBroadcast(event string, dropped int) {
	m.RealtimeBroadcastsTotal.WithLabelValues(event).Inc()
	if dropped > 0 {
		m.RealtimeDroppedTotal.Add(float64(dropped))
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveSessionExpiry records a session expiry pass.
func (m *Metrics) ObserveSessionExpiry(expired int64) {
	m.ExpiryRunsTotal.Inc()
	m.SessionsExpiredTotal.Add(float64(expired))
}

func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "circuit breaker"), strings.Contains(msg, "too many requests"):
		return "circuit_open"
	case strings.Contains(msg, "connection"):
		return "connection"
	case strings.Contains(msg, "status"):
		return "bad_status"
	default:
		return "other"
	}
}
