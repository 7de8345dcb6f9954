package storage

import (
	"slices"
	"time"

	"github.com/RankForge/server/internal/money"
)

// SessionStatus is the lifecycle state of a payment session.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionPaid    SessionStatus = "paid"
	SessionFailed  SessionStatus = "failed"
	SessionExpired SessionStatus = "expired"
)

// PayableSessionStatuses are the states a session may move to paid from.
// A late payment for an expired or failed invoice is still honoured.
var PayableSessionStatuses = []SessionStatus{SessionPending, SessionExpired, SessionFailed}

// PaymentSession is an initiated-but-unconfirmed payment. Sessions are never deleted.
type PaymentSession struct {
	ID                string
	OrderID           string // external order id, unique
	UserID            string
	Amount            money.Money
	Game              string
	Service           string
	CustomerName      string
	CustomerEmail     string
	Status            SessionStatus
	Provider          string
	ProviderInvoiceID string
	ProviderTxID      string
	PaymentURL        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderStatus is the fulfilment state of a paid order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in-progress"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderInProgress, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// AllowedFrom lists the statuses an order may move to s from.
func (s OrderStatus) AllowedFrom() []OrderStatus {
	switch s {
	case OrderInProgress:
		return []OrderStatus{OrderPending}
	case OrderCompleted:
		return []OrderStatus{OrderInProgress}
	case OrderCancelled:
		return []OrderStatus{OrderPending, OrderInProgress}
	}
	return nil
}

// Order is a purchased service. Orders only exist once payment is confirmed.
type Order struct {
	ID            string // equals the session's external order id
	UserID        string
	CustomerName  string
	CustomerEmail string
	Game          string
	Service       string
	Price         money.Money
	Status        OrderStatus
	PaymentID     string // provider transaction id
	PaymentMethod string // provider name
	Synthesized   bool
	PaidAt        time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	UserID string
	Status OrderStatus
	Limit  int
}

// NotificationType names what a notification is about.
type NotificationType string

const (
	NotificationNewOrder           NotificationType = "new-order"
	NotificationPaymentConfirmed   NotificationType = "payment-confirmed"
	NotificationOrderStatusChanged NotificationType = "order-status-changed"
)

// Notification is a persisted inbox entry. An empty UserID addresses the admin group.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]any
	Read      bool
	CreatedAt time.Time
}

// NotificationFilter narrows ListNotifications. UserID "" selects admin notifications.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
}

// EventStatus is the processing state of a claimed provider event.
type EventStatus string

const (
	EventProcessing EventStatus = "processing"
	EventProcessed  EventStatus = "processed"
	EventFailed     EventStatus = "failed"
)

// WebhookEvent is the idempotency record for one provider event, unique on
// (Provider, EventID).
type WebhookEvent struct {
	Provider   string
	EventID    string
	OrderID    string
	Status     EventStatus
	Outcome    string
	Error      string
	Attempts   int
	ReceivedAt time.Time
	UpdatedAt  time.Time
}

// claimable reports whether an existing record may be claimed again.
func (e WebhookEvent) claimable(staleBefore time.Time) bool {
	switch e.Status {
	case EventFailed:
		return true
	case EventProcessing:
		return !staleBefore.IsZero() && e.UpdatedAt.Before(staleBefore)
	}
	return false
}

const defaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}

func sessionStatusStrings(statuses []SessionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func orderStatusStrings(statuses []OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func containsStatus[T comparable](statuses []T, s T) bool {
	return slices.Contains(statuses, s)
}
