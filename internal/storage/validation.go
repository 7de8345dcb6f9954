package storage

import (
	"fmt"
	"time"
)

// validateAndPrepareSession validates required fields and sets default status and timestamps.
func validateAndPrepareSession(s *PaymentSession) error {
	if s.ID == "" {
		return fmt.Errorf("payment session requires id")
	}
	if s.OrderID == "" {
		return fmt.Errorf("payment session requires order id")
	}
	if s.Status == "" {
		s.Status = SessionPending
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	return nil
}

func validateAndPrepareOrder(o *Order) error {
	if o.ID == "" {
		return fmt.Errorf("order requires id")
	}
	if o.Status == "" {
		o.Status = OrderPending
	}
	if !o.Status.Valid() {
		return fmt.Errorf("order has invalid status %q", o.Status)
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	if o.PaidAt.IsZero() {
		o.PaidAt = o.CreatedAt
	}
	return nil
}

func validateAndPrepareNotification(n *Notification) error {
	if n.ID == "" {
		return fmt.Errorf("notification requires id")
	}
	if n.Type == "" {
		return fmt.Errorf("notification requires type")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return nil
}

func validateAndPrepareEvent(ev *WebhookEvent) error {
	if ev.Provider == "" || ev.EventID == "" {
		return fmt.Errorf("webhook event requires provider and event id")
	}
	now := time.Now().UTC()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = now
	}
	ev.UpdatedAt = now
	ev.Status = EventProcessing
	ev.Attempts = 1
	ev.Outcome = ""
	ev.Error = ""
	return nil
}
