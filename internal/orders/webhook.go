package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/RankForge/server/internal/logger"
	"github.com/RankForge/server/internal/notify"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/storage"
)

// State is a step of webhook processing recorded in the debug trail.
type State string

const (
	StateReceived     State = "received"
	StateRejected     State = "rejected"
	StateVerified     State = "verified"
	StateDuplicate    State = "duplicate"
	StateIgnored      State = "ignored"
	StateFound        State = "found"
	StateSynthesized  State = "synthesized"
	StateNotFound     State = "not_found"
	StateMarkedPaid   State = "marked_paid"
	StateNotified     State = "notified"
	StateError        State = "error"
	StateAcknowledged State = "acknowledged"
)

// Trace identifies one webhook delivery in the trail.
type Trace struct {
	Provider  string
	EventID   string
	OrderID   string
	RequestID string
}

// Outcome is the result of processing a verified event. Every outcome is
// acknowledged to the provider; Err is set only for StateError.
type Outcome struct {
	State        State // terminal state before acknowledgement
	Order        *storage.Order
	Created      bool
	Notification *notify.Result
	Err          error
}

// Status is the short form returned to the provider.
func (o Outcome) Status() string {
	switch o.State {
	case StateNotified, StateMarkedPaid:
		return "ok"
	case StateError:
		return "error"
	}
	return string(o.State)
}

// Record appends one state transition to the webhook debug trail. A trail
// write failure is logged and otherwise ignored.
func (s *Service) Record(ctx context.Context, state State, tr Trace, extra map[string]any) {
	if tr.RequestID == "" {
		tr.RequestID = logger.GetRequestID(ctx)
	}
	fields := make(map[string]any, len(extra)+5)
	for k, v := range extra {
		fields[k] = v
	}
	fields["state"] = string(state)
	fields["provider"] = tr.Provider
	fields["event_id"] = tr.EventID
	fields["order_id"] = tr.OrderID
	fields["request_id"] = tr.RequestID

	if err := s.trail.Append("webhook."+string(state), fields); err != nil {
		log := s.logFor(ctx)
		log.Warn().Err(err).Str("state", string(state)).Msg("webhook.trail_write_failed")
	}
}

// Process runs a verified provider event through the reconciliation state
// machine. It never returns an error: failures end in StateError, are logged
// and still acknowledged so the provider stops retrying.
func (s *Service) Process(ctx context.Context, ev payments.WebhookEvent) Outcome {
	// The provider may hang up once it has sent the body; finish the work anyway.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProcessingTimeout)
	defer cancel()

	tr := Trace{Provider: ev.Provider, EventID: ev.EventID, OrderID: ev.OrderID, RequestID: logger.GetRequestID(ctx)}
	log := s.logFor(ctx).With().
		Str("provider", ev.Provider).
		Str("event_id", ev.EventID).
		Str("order_id", ev.OrderID).
		Logger()

	verified := map[string]any{
		"status":            ev.RawStatus,
		"normalized_status": string(ev.Status),
		"tx_id":             ev.TxID,
	}
	if !ev.Amount.IsZero() {
		verified["amount"] = ev.Amount.Decimal()
		verified["currency"] = ev.Amount.Currency
	}
	s.Record(ctx, StateVerified, tr, verified)

	out := s.process(ctx, ev, tr, log)
	s.Record(ctx, StateAcknowledged, tr, map[string]any{"outcome": out.Status()})
	return out
}

func (s *Service) process(ctx context.Context, ev payments.WebhookEvent, tr Trace, log zerolog.Logger) Outcome {
	if ev.OrderID == "" {
		// Provider events that do not concern an order.
		s.Record(ctx, StateIgnored, tr, map[string]any{"reason": "no_order"})
		return Outcome{State: StateIgnored}
	}

	staleBefore := s.now().Add(-2 * s.cfg.ProcessingTimeout)
	claim, claimed, err := s.store.ClaimEvent(ctx, storage.WebhookEvent{
		Provider: ev.Provider,
		EventID:  ev.EventID,
		OrderID:  ev.OrderID,
	}, staleBefore)
	if err != nil {
		return s.fail(ctx, tr, log, fmt.Errorf("%w: claim event: %w", ErrDownstreamWrite, err), false)
	}
	if !claimed {
		log.Info().Str("claim_status", string(claim.Status)).Msg("webhook.duplicate")
		s.Record(ctx, StateDuplicate, tr, map[string]any{
			"claim_status": string(claim.Status),
			"attempts":     claim.Attempts,
		})
		return Outcome{State: StateDuplicate}
	}

	switch ev.Status {
	case payments.StatusPaid:
		return s.processPaid(ctx, ev, tr, log)
	case payments.StatusFailed:
		return s.processFailed(ctx, ev, tr, log)
	default:
		s.Record(ctx, StateIgnored, tr, map[string]any{"reason": "status", "status": ev.RawStatus})
		s.finish(ctx, tr, log, storage.EventProcessed, string(StateIgnored), "")
		return Outcome{State: StateIgnored}
	}
}

func (s *Service) processFailed(ctx context.Context, ev payments.WebhookEvent, tr Trace, log zerolog.Logger) Outcome {
	transitioned, err := s.store.TransitionSession(ctx, ev.OrderID,
		[]storage.SessionStatus{storage.SessionPending, storage.SessionExpired}, storage.SessionFailed, ev.TxID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return s.fail(ctx, tr, log, fmt.Errorf("%w: mark session failed: %w", ErrDownstreamWrite, err), true)
	}
	log.Info().Bool("session_failed", transitioned).Str("status", ev.RawStatus).Msg("webhook.payment_failed")
	s.Record(ctx, StateIgnored, tr, map[string]any{
		"reason":         "payment_failed",
		"status":         ev.RawStatus,
		"session_failed": transitioned,
	})
	s.finish(ctx, tr, log, storage.EventProcessed, "payment_failed", "")
	return Outcome{State: StateIgnored}
}

func (s *Service) processPaid(ctx context.Context, ev payments.WebhookEvent, tr Trace, log zerolog.Logger) Outcome {
	var meta *payments.AdditionalData
	lookup, err := s.FindSessionOrOrder(ctx, ev.OrderID)
	switch {
	case err == nil && lookup.Session != nil:
		found := map[string]any{"session_status": string(lookup.Session.Status)}
		// The session carries everything the order needs; bad metadata is only reported.
		if _, perr := payments.ParseAdditionalData(ev.AdditionalData); perr != nil {
			s.metadataError(log, ev.Provider, "session", perr)
			found["metadata_error"] = perr.Error()
		}
		s.Record(ctx, StateFound, tr, found)
	case err == nil || errors.Is(err, storage.ErrNotFound):
		if lookup.Order == nil {
			parsed, perr := payments.ParseAdditionalData(ev.AdditionalData)
			if perr != nil {
				s.metadataError(log, ev.Provider, "synthesis", perr)
				return s.fail(ctx, tr, log, perr, true)
			}
			meta = parsed
		}
		if lookup.Order == nil && (!s.cfg.SynthesizeMissingOrders || meta == nil) {
			log.Warn().Bool("has_metadata", meta != nil).Msg("webhook.order_not_found")
			s.Record(ctx, StateNotFound, tr, map[string]any{"has_metadata": meta != nil})
			s.finish(ctx, tr, log, storage.EventProcessed, string(StateNotFound), "")
			return Outcome{State: StateNotFound}
		}
		if lookup.Order == nil {
			s.Record(ctx, StateSynthesized, tr, map[string]any{
				"user_id": meta.UserID,
				"game":    meta.Game,
				"service": meta.Service,
			})
		}
	default:
		return s.fail(ctx, tr, log, fmt.Errorf("%w: lookup: %w", ErrDownstreamWrite, err), true)
	}

	order, created, err := s.MarkPaid(ctx, MarkPaidRequest{
		OrderID:      ev.OrderID,
		Provider:     ev.Provider,
		ProviderTxID: ev.TxID,
		Amount:       ev.Amount,
		Metadata:     meta,
	})
	if errors.Is(err, storage.ErrNotFound) && lookup.Order != nil {
		// Paid earlier without a session (manual or synthesized); nothing left to do.
		order, created, err = *lookup.Order, false, nil
	}
	if err != nil {
		return s.fail(ctx, tr, log, err, true)
	}
	s.Record(ctx, StateMarkedPaid, tr, map[string]any{
		"created":     created,
		"synthesized": order.Synthesized,
		"price":       order.Price.Decimal(),
		"currency":    order.Price.Currency,
	})

	out := Outcome{State: StateMarkedPaid, Order: &order, Created: created}
	if !created {
		s.finish(ctx, tr, log, storage.EventProcessed, "already_paid", "")
		return out
	}

	payload := notify.PayloadFromOrder(order, s.now())
	res, err := s.notifier.Notify(ctx, storage.NotificationNewOrder, payload, "")
	if err != nil {
		// The order is paid; only the notification record was lost.
		log.Error().Err(err).Msg("webhook.notification_failed")
		s.Record(ctx, StateError, tr, map[string]any{"stage": "notify", "error": err.Error()})
		s.finish(ctx, tr, log, storage.EventProcessed, "notify_failed", err.Error())
		return out
	}
	s.Record(ctx, StateNotified, tr, map[string]any{
		"notification_id": res.NotificationID,
		"channel":         res.Channel,
		"via":             res.Via,
		"delivered":       res.Delivered,
	})
	out.State = StateNotified
	out.Notification = &res

	if order.UserID != "" {
		if _, err := s.notifier.Notify(ctx, storage.NotificationPaymentConfirmed, payload, order.UserID); err != nil {
			log.Warn().Err(err).Msg("webhook.user_notification_failed")
		}
	}

	s.finish(ctx, tr, log, storage.EventProcessed, string(StateNotified), "")
	return out
}

func (s *Service) metadataError(log zerolog.Logger, provider, stage string, err error) {
	log.Error().Err(err).Str("stage", stage).Msg("webhook.metadata_invalid")
	if s.metrics != nil {
		s.metrics.ObserveMetadataError(provider, stage)
	}
}

// fail records the error state. claimed events are released as failed so a
// redelivery can take them over.
func (s *Service) fail(ctx context.Context, tr Trace, log zerolog.Logger, err error, claimed bool) Outcome {
	log.Error().Err(err).Msg("webhook.error")
	s.Record(ctx, StateError, tr, map[string]any{"error": err.Error()})
	if claimed {
		s.finish(ctx, tr, log, storage.EventFailed, string(StateError), err.Error())
	}
	return Outcome{State: StateError, Err: err}
}

func (s *Service) finish(ctx context.Context, tr Trace, log zerolog.Logger, status storage.EventStatus, outcome, errMsg string) {
	if err := s.store.FinishEvent(ctx, tr.Provider, tr.EventID, status, outcome, errMsg); err != nil {
		log.Warn().Err(err).Str("event_status", string(status)).Msg("webhook.finish_event_failed")
	}
}
