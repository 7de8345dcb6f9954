package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RankForge/server/internal/config"
	"github.com/RankForge/server/internal/metrics"
)

var (
	// ErrNotFound is returned when a requested entity is missing from the store.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists is returned when a unique key is already taken.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrStatusConflict is returned when a conditional status update finds the
	// record in a state it may not move from.
	ErrStatusConflict = errors.New("storage: status conflict")
)

// SessionStore persists payment sessions.
type SessionStore interface {
	// CreateSession inserts a new pending session. ErrAlreadyExists if the order id is taken.
	CreateSession(ctx context.Context, session PaymentSession) error
	GetSessionByOrderID(ctx context.Context, orderID string) (PaymentSession, error)
	// UpdateSessionInvoice records the provider invoice after checkout.
	UpdateSessionInvoice(ctx context.Context, orderID, invoiceID, paymentURL string) error
	// TransitionSession moves the session to `to` only if its current status is in
	// `from`. It reports whether this call performed the transition.
	TransitionSession(ctx context.Context, orderID string, from []SessionStatus, to SessionStatus, providerTxID string) (bool, error)
	// ExpireStaleSessions moves pending sessions created before olderThan to expired.
	ExpireStaleSessions(ctx context.Context, olderThan time.Time) (int64, error)
}

// OrderStore persists orders.
type OrderStore interface {
	// InsertOrderIfAbsent creates the order unless one with the same id exists.
	// It returns the stored order and whether this call created it.
	InsertOrderIfAbsent(ctx context.Context, order Order) (Order, bool, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	// UpdateOrderStatus is a compare-and-swap on status. ErrStatusConflict when the
	// current status is not in `from`.
	UpdateOrderStatus(ctx context.Context, orderID string, from []OrderStatus, to OrderStatus) (Order, error)
}

// NotificationStore persists the notification inbox.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error)
	// MarkNotificationRead flags a notification addressed to userID as read.
	MarkNotificationRead(ctx context.Context, notificationID, userID string) error
}

// EventStore is the webhook idempotency table.
type EventStore interface {
	// ClaimEvent records ev as processing. If a record already exists it is
	// re-claimed only when it failed earlier or has been processing since before
	// staleBefore. The returned record is the stored one; claimed reports whether
	// the caller now owns processing.
	ClaimEvent(ctx context.Context, ev WebhookEvent, staleBefore time.Time) (WebhookEvent, bool, error)
	FinishEvent(ctx context.Context, provider, eventID string, status EventStatus, outcome, errMsg string) error
	GetEvent(ctx context.Context, provider, eventID string) (WebhookEvent, error)
}

// Store captures the persistence requirements of the payment flow.
type Store interface {
	SessionStore
	OrderStore
	NotificationStore
	EventStore

	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend         string // "memory", "postgres" or "mongodb"
	PostgresURL     string
	MongoDBURL      string
	MongoDBDatabase string
	PostgresPool    config.PostgresPoolConfig
	Metrics         *metrics.Metrics
}

// StoreConfigFrom maps the storage section of the server config.
func StoreConfigFrom(cfg config.StorageConfig, m *metrics.Metrics) StoreConfig {
	return StoreConfig{
		Backend:         cfg.Backend,
		PostgresURL:     cfg.PostgresURL,
		MongoDBURL:      cfg.MongoDBURL,
		MongoDBDatabase: cfg.MongoDBDatabase,
		PostgresPool:    cfg.PostgresPool,
		Metrics:         m,
	}
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg StoreConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store instance with an optional shared database pool.
// If sharedDB is non-nil for the postgres backend it is used instead of opening a new one.
func NewStoreWithDB(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		// Memory loses the idempotency table on restart; development and tests only.
		return NewMemoryStore(), nil
	case "postgres":
		if sharedDB != nil {
			store, err := NewPostgresStoreWithDB(sharedDB)
			if err != nil {
				return nil, err
			}
			return store.WithMetrics(cfg.Metrics), nil
		}
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		store, err := NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
		if err != nil {
			return nil, err
		}
		return store.WithMetrics(cfg.Metrics), nil
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		store, err := NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
		if err != nil {
			return nil, err
		}
		return store.WithMetrics(cfg.Metrics), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
