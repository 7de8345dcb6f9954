package storage

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/RankForge/server/internal/metrics"
)

// MemoryStore is an in-memory Store implementation suitable for tests and single-instance deployments.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]PaymentSession // orderID -> session
	orders        map[string]Order          // orderID -> order
	notifications map[string]Notification   // notificationID -> notification
	events        map[eventKey]WebhookEvent // (provider, eventID) -> claim
}

type eventKey struct {
	provider string
	eventID  string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[string]PaymentSession),
		orders:        make(map[string]Order),
		notifications: make(map[string]Notification),
		events:        make(map[eventKey]WebhookEvent),
	}
}

// WithMetrics is accepted for parity with the database stores; memory calls are not timed.
func (m *MemoryStore) WithMetrics(*metrics.Metrics) *MemoryStore {
	return m
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// CreateSession inserts a new session keyed by order id.
func (m *MemoryStore) CreateSession(_ context.Context, session PaymentSession) error {
	if err := validateAndPrepareSession(&session); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.OrderID]; exists {
		return ErrAlreadyExists
	}
	m.sessions[session.OrderID] = session
	return nil
}

// GetSessionByOrderID looks up a session by external order id.
func (m *MemoryStore) GetSessionByOrderID(_ context.Context, orderID string) (PaymentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[orderID]
	if !ok {
		return PaymentSession{}, ErrNotFound
	}
	return session, nil
}

// UpdateSessionInvoice stores the provider invoice reference.
func (m *MemoryStore) UpdateSessionInvoice(_ context.Context, orderID, invoiceID, paymentURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[orderID]
	if !ok {
		return ErrNotFound
	}
	session.ProviderInvoiceID = invoiceID
	session.PaymentURL = paymentURL
	session.UpdatedAt = time.Now().UTC()
	m.sessions[orderID] = session
	return nil
}

// TransitionSession is a compare-and-swap on session status.
func (m *MemoryStore) TransitionSession(_ context.Context, orderID string, from []SessionStatus, to SessionStatus, providerTxID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[orderID]
	if !ok {
		return false, ErrNotFound
	}
	if !containsStatus(from, session.Status) {
		return false, nil
	}
	session.Status = to
	if providerTxID != "" {
		session.ProviderTxID = providerTxID
	}
	session.UpdatedAt = time.Now().UTC()
	m.sessions[orderID] = session
	return true, nil
}

// ExpireStaleSessions moves old pending sessions to expired.
func (m *MemoryStore) ExpireStaleSessions(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	count := int64(0)
	for id, session := range m.sessions {
		if session.Status == SessionPending && session.CreatedAt.Before(olderThan) {
			session.Status = SessionExpired
			session.UpdatedAt = now
			m.sessions[id] = session
			count++
		}
	}
	return count, nil
}

// InsertOrderIfAbsent creates the order unless its id is taken.
func (m *MemoryStore) InsertOrderIfAbsent(_ context.Context, order Order) (Order, bool, error) {
	if err := validateAndPrepareOrder(&order); err != nil {
		return Order{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.orders[order.ID]; ok {
		return existing, false, nil
	}
	m.orders[order.ID] = order
	return order, true, nil
}

// GetOrder retrieves an order by id.
func (m *MemoryStore) GetOrder(_ context.Context, orderID string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return order, nil
}

// ListOrders returns orders newest first.
func (m *MemoryStore) ListOrders(_ context.Context, filter OrderFilter) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Order
	for _, order := range m.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := normalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateOrderStatus is a compare-and-swap on order status.
func (m *MemoryStore) UpdateOrderStatus(_ context.Context, orderID string, from []OrderStatus, to OrderStatus) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	if !containsStatus(from, order.Status) {
		return order, ErrStatusConflict
	}
	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	m.orders[orderID] = order
	return order, nil
}

// SaveNotification stores a notification.
func (m *MemoryStore) SaveNotification(_ context.Context, n Notification) error {
	if err := validateAndPrepareNotification(&n); err != nil {
		return err
	}
	n.Data = maps.Clone(n.Data)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.notifications[n.ID]; exists {
		return ErrAlreadyExists
	}
	m.notifications[n.ID] = n
	return nil
}

// ListNotifications returns matching notifications newest first.
func (m *MemoryStore) ListNotifications(_ context.Context, filter NotificationFilter) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Notification
	for _, n := range m.notifications {
		if n.UserID != filter.UserID {
			continue
		}
		if filter.UnreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := normalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotificationRead flags a notification as read for its recipient.
func (m *MemoryStore) MarkNotificationRead(_ context.Context, notificationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[notificationID]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	m.notifications[notificationID] = n
	return nil
}

// ClaimEvent records a provider event as processing unless it is already owned.
func (m *MemoryStore) ClaimEvent(_ context.Context, ev WebhookEvent, staleBefore time.Time) (WebhookEvent, bool, error) {
	if err := validateAndPrepareEvent(&ev); err != nil {
		return WebhookEvent{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey{ev.Provider, ev.EventID}
	existing, ok := m.events[key]
	if !ok {
		m.events[key] = ev
		return ev, true, nil
	}
	if !existing.claimable(staleBefore) {
		return existing, false, nil
	}
	existing.Status = EventProcessing
	existing.Attempts++
	existing.Error = ""
	existing.Outcome = ""
	existing.UpdatedAt = ev.UpdatedAt
	if existing.OrderID == "" {
		existing.OrderID = ev.OrderID
	}
	m.events[key] = existing
	return existing, true, nil
}

// FinishEvent records the final status of a claimed event.
func (m *MemoryStore) FinishEvent(_ context.Context, provider, eventID string, status EventStatus, outcome, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey{provider, eventID}
	ev, ok := m.events[key]
	if !ok {
		return ErrNotFound
	}
	ev.Status = status
	ev.Outcome = outcome
	ev.Error = errMsg
	ev.UpdatedAt = time.Now().UTC()
	m.events[key] = ev
	return nil
}

// GetEvent retrieves an idempotency record.
func (m *MemoryStore) GetEvent(_ context.Context, provider, eventID string) (WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[eventKey{provider, eventID}]
	if !ok {
		return WebhookEvent{}, ErrNotFound
	}
	return ev, nil
}

// Counts reports how many records of each kind are stored.
func (m *MemoryStore) Counts() (sessions, orders, notifications, events int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), len(m.orders), len(m.notifications), len(m.events)
}
