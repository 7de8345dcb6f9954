// Package orders reconciles payment events with payment sessions and orders.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RankForge/server/internal/eventlog"
	"github.com/RankForge/server/internal/logger"
	"github.com/RankForge/server/internal/metrics"
	"github.com/RankForge/server/internal/money"
	"github.com/RankForge/server/internal/notify"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/storage"
)

var (
	// ErrDownstreamWrite wraps a store failure after the webhook was verified.
	ErrDownstreamWrite = errors.New("orders: downstream write failed")
	// ErrInvalidTransition is returned for an order status change the workflow does not allow.
	ErrInvalidTransition = errors.New("orders: invalid status transition")
	// ErrInvalidStatus is returned for an unknown order status.
	ErrInvalidStatus = errors.New("orders: invalid status")
)

// Notifier is the notification dispatcher as seen by this package.
type Notifier interface {
	Notify(ctx context.Context, kind storage.NotificationType, payload notify.Payload, targetUserID string) (notify.Result, error)
}

// Config controls reconciliation.
type Config struct {
	// SynthesizeMissingOrders builds an order from the payment metadata when
	// no session exists for a paid event.
	SynthesizeMissingOrders bool
	// ProcessingTimeout bounds one event. A claim older than twice this is
	// considered abandoned and may be taken over.
	ProcessingTimeout time.Duration
}

// Service owns the paid-order workflow.
type Service struct {
	cfg      Config
	store    storage.Store
	notifier Notifier
	trail    *eventlog.Log
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService wires the reconciler. trail receives every webhook state
// transition; metricsCollector may be nil.
func NewService(cfg Config, store storage.Store, notifier Notifier, trail *eventlog.Log, log zerolog.Logger, metricsCollector *metrics.Metrics) *Service {
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 20 * time.Second
	}
	if trail == nil {
		trail = eventlog.Discard()
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		trail:    trail,
		logger:   log,
		metrics:  metricsCollector,
		now:      time.Now,
	}
}

// Lookup is the result of FindSessionOrOrder. At least one field is set.
type Lookup struct {
	Session *storage.PaymentSession
	Order   *storage.Order
}

// FindSessionOrOrder resolves an external order id to its session and, once
// paid, its order. It returns storage.ErrNotFound when neither exists.
func (s *Service) FindSessionOrOrder(ctx context.Context, orderID string) (Lookup, error) {
	var out Lookup

	session, err := s.store.GetSessionByOrderID(ctx, orderID)
	switch {
	case err == nil:
		out.Session = &session
	case !errors.Is(err, storage.ErrNotFound):
		return Lookup{}, fmt.Errorf("get session %s: %w", orderID, err)
	}

	order, err := s.store.GetOrder(ctx, orderID)
	switch {
	case err == nil:
		out.Order = &order
	case !errors.Is(err, storage.ErrNotFound):
		return Lookup{}, fmt.Errorf("get order %s: %w", orderID, err)
	}

	if out.Session == nil && out.Order == nil {
		return Lookup{}, storage.ErrNotFound
	}
	return out, nil
}

// MarkPaidRequest identifies a confirmed payment.
type MarkPaidRequest struct {
	OrderID      string
	Provider     string
	ProviderTxID string
	Amount       money.Money
	// Metadata is used to build the order when no session exists.
	Metadata *payments.AdditionalData
}

// MarkPaid moves the session to paid and creates the order. It is idempotent:
// created is true only for the call that inserted the order, so repeated or
// concurrent calls for the same order return the existing row with created=false.
// Without a session the order is synthesized from Metadata when enabled,
// otherwise storage.ErrNotFound is returned.
func (s *Service) MarkPaid(ctx context.Context, req MarkPaidRequest) (storage.Order, bool, error) {
	log := s.logFor(ctx).With().Str("order_id", req.OrderID).Str("provider", req.Provider).Logger()
	now := s.now().UTC()

	order := storage.Order{
		ID:            req.OrderID,
		Status:        storage.OrderPending,
		PaymentID:     req.ProviderTxID,
		PaymentMethod: req.Provider,
		PaidAt:        now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	session, err := s.store.GetSessionByOrderID(ctx, req.OrderID)
	switch {
	case err == nil:
		if _, err := s.store.TransitionSession(ctx, req.OrderID, storage.PayableSessionStatuses, storage.SessionPaid, req.ProviderTxID); err != nil {
			return storage.Order{}, false, fmt.Errorf("%w: mark session paid: %w", ErrDownstreamWrite, err)
		}
		order.UserID = session.UserID
		order.CustomerName = session.CustomerName
		order.CustomerEmail = session.CustomerEmail
		order.Game = session.Game
		order.Service = session.Service
		order.Price = session.Amount
		if !req.Amount.IsZero() && !req.Amount.Equal(session.Amount) {
			log.Warn().
				Str("expected", session.Amount.String()).
				Str("reported", req.Amount.String()).
				Msg("orders.amount_mismatch")
		}

	case errors.Is(err, storage.ErrNotFound):
		if !s.cfg.SynthesizeMissingOrders || req.Metadata == nil {
			return storage.Order{}, false, storage.ErrNotFound
		}
		meta := req.Metadata
		order.UserID = meta.UserID
		order.CustomerEmail = meta.CustomerEmail
		order.CustomerName = firstNonEmpty(meta.CustomerName, customerNameFromEmail(meta.CustomerEmail))
		order.Game = meta.Game
		order.Service = meta.Service
		order.Price = req.Amount
		order.Synthesized = true

	default:
		return storage.Order{}, false, fmt.Errorf("%w: get session: %w", ErrDownstreamWrite, err)
	}

	stored, created, err := s.store.InsertOrderIfAbsent(ctx, order)
	if err != nil {
		return storage.Order{}, false, fmt.Errorf("%w: insert order: %w", ErrDownstreamWrite, err)
	}
	if !created {
		return stored, false, nil
	}

	if stored.Synthesized {
		log.Warn().
			Str("user_id", stored.UserID).
			Str("customer_email", logger.RedactEmail(stored.CustomerEmail)).
			Msg("orders.synthesized")
	}
	log.Info().
		Str("price", stored.Price.String()).
		Bool("synthesized", stored.Synthesized).
		Msg("orders.paid")
	if s.metrics != nil {
		s.metrics.ObserveOrderPaid(req.Provider, stored.Price.Currency, stored.Price.Minor(), stored.Synthesized)
	}
	return stored, true, nil
}

// UpdateOrderStatus moves an order along pending -> in-progress -> completed,
// or to cancelled, and tells the owner.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, to storage.OrderStatus) (storage.Order, error) {
	if !to.Valid() || to == storage.OrderPending {
		return storage.Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	order, err := s.store.UpdateOrderStatus(ctx, orderID, to.AllowedFrom(), to)
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return order, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, to)
		}
		return storage.Order{}, err
	}

	if s.metrics != nil {
		s.metrics.ObserveOrderStatusChange(string(to))
	}
	log := s.logFor(ctx)
	log.Info().
		Str("order_id", orderID).
		Str("status", string(to)).
		Msg("orders.status_changed")

	if order.UserID != "" && s.notifier != nil {
		payload := notify.PayloadFromOrder(order, s.now())
		if _, err := s.notifier.Notify(ctx, storage.NotificationOrderStatusChanged, payload, order.UserID); err != nil {
			log.Error().Err(err).Str("order_id", orderID).Msg("orders.status_notification_failed")
		}
	}
	return order, nil
}

// logFor prefers the request-scoped logger.
func (s *Service) logFor(ctx context.Context) zerolog.Logger {
	if l := logger.FromContext(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return s.logger
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func customerNameFromEmail(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return ""
}
