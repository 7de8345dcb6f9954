package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RankForge/server/internal/config"
	"github.com/RankForge/server/internal/metrics"
	"github.com/RankForge/server/internal/money"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const backendPostgres = "postgres"

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = pq.ErrorCode("23505")

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db      *sql.DB
	ownsDB  bool // we opened the pool and must close it
	metrics *metrics.Metrics

	sessionsTable      string
	ordersTable        string
	notificationsTable string
	eventsTable        string
}

// NewPostgresStore opens a connection pool and creates the schema if needed.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := newPostgresStore(db, true)
	if err := store.createPostgresTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB creates a store on a shared connection pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := newPostgresStore(db, false)
	if err := store.createPostgresTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func newPostgresStore(db *sql.DB, owns bool) *PostgresStore {
	return &PostgresStore{
		db:                 db,
		ownsDB:             owns,
		sessionsTable:      "payment_sessions",
		ordersTable:        "orders",
		notificationsTable: "notifications",
		eventsTable:        "webhook_events",
	}
}

// WithMetrics enables query timing.
func (s *PostgresStore) WithMetrics(m *metrics.Metrics) *PostgresStore {
	s.metrics = m
	return s
}

func (s *PostgresStore) createPostgresTables() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL DEFAULT '',
			amount NUMERIC(20, 8) NOT NULL,
			currency TEXT NOT NULL,
			game TEXT NOT NULL DEFAULT '',
			service TEXT NOT NULL DEFAULT '',
			customer_name TEXT NOT NULL DEFAULT '',
			customer_email TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			provider_invoice_id TEXT NOT NULL DEFAULT '',
			provider_tx_id TEXT NOT NULL DEFAULT '',
			payment_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			customer_name TEXT NOT NULL DEFAULT '',
			customer_email TEXT NOT NULL DEFAULT '',
			game TEXT NOT NULL DEFAULT '',
			service TEXT NOT NULL DEFAULT '',
			price NUMERIC(20, 8) NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			payment_id TEXT NOT NULL DEFAULT '',
			payment_method TEXT NOT NULL DEFAULT '',
			synthesized BOOLEAN NOT NULL DEFAULT FALSE,
			paid_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			data JSONB,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			provider TEXT NOT NULL,
			event_id TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 1,
			received_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (provider, event_id)
		);

		CREATE INDEX IF NOT EXISTS idx_payment_sessions_pending ON %s(created_at) WHERE status = 'pending';
		CREATE INDEX IF NOT EXISTS idx_orders_user_created ON %s(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON %s(status);
		CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON %s(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_webhook_events_order ON %s(order_id);
	`,
		s.sessionsTable,
		s.ordersTable,
		s.notificationsTable,
		s.eventsTable,
		s.sessionsTable,
		s.ordersTable, s.ordersTable,
		s.notificationsTable,
		s.eventsTable,
	)

	_, err := s.db.Exec(schema)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// CreateSession inserts a new pending session.
func (s *PostgresStore) CreateSession(ctx context.Context, session PaymentSession) error {
	if err := validateAndPrepareSession(&session); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "create_session", backendPostgres)()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, order_id, user_id, amount, currency, game, service, customer_name,
			customer_email, status, provider, provider_invoice_id, provider_tx_id, payment_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, s.sessionsTable)

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.OrderID, session.UserID, session.Amount.Amount, session.Amount.Currency,
		session.Game, session.Service, session.CustomerName, session.CustomerEmail,
		string(session.Status), session.Provider, session.ProviderInvoiceID, session.ProviderTxID,
		session.PaymentURL, session.CreatedAt.UTC(), session.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

const sessionColumns = `id, order_id, user_id, amount, currency, game, service, customer_name,
	customer_email, status, provider, provider_invoice_id, provider_tx_id, payment_url, created_at, updated_at`

func scanSession(row rowScanner) (PaymentSession, error) {
	var (
		session  PaymentSession
		amount   decimal.Decimal
		currency string
		status   string
	)
	err := row.Scan(&session.ID, &session.OrderID, &session.UserID, &amount, &currency,
		&session.Game, &session.Service, &session.CustomerName, &session.CustomerEmail,
		&status, &session.Provider, &session.ProviderInvoiceID, &session.ProviderTxID,
		&session.PaymentURL, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return PaymentSession{}, err
	}
	session.Amount = money.Money{Amount: amount, Currency: currency}
	session.Status = SessionStatus(status)
	return session, nil
}

// GetSessionByOrderID looks up a session by external order id.
func (s *PostgresStore) GetSessionByOrderID(ctx context.Context, orderID string) (PaymentSession, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "get_session", backendPostgres)()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE order_id = $1`, sessionColumns, s.sessionsTable)
	session, err := scanSession(s.db.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentSession{}, ErrNotFound
	}
	if err != nil {
		return PaymentSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// UpdateSessionInvoice stores the provider invoice reference.
func (s *PostgresStore) UpdateSessionInvoice(ctx context.Context, orderID, invoiceID, paymentURL string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET provider_invoice_id = $2, payment_url = $3, updated_at = $4
		WHERE order_id = $1
	`, s.sessionsTable)

	result, err := s.db.ExecContext(ctx, query, orderID, invoiceID, paymentURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update session invoice: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionSession is a conditional UPDATE on status; concurrent callers race on
// the row lock and only one sees RowsAffected = 1.
func (s *PostgresStore) TransitionSession(ctx context.Context, orderID string, from []SessionStatus, to SessionStatus, providerTxID string) (bool, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "transition_session", backendPostgres)()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2,
		    provider_tx_id = CASE WHEN $3 = '' THEN provider_tx_id ELSE $3 END,
		    updated_at = $4
		WHERE order_id = $1 AND status = ANY($5)
	`, s.sessionsTable)

	result, err := s.db.ExecContext(ctx, query,
		orderID, string(to), providerTxID, time.Now().UTC(), pq.Array(sessionStatusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	// Distinguish "wrong status" from "missing".
	if _, err := s.GetSessionByOrderID(ctx, orderID); err != nil {
		return false, err
	}
	return false, nil
}

// ExpireStaleSessions moves old pending sessions to expired.
func (s *PostgresStore) ExpireStaleSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "expire_sessions", backendPostgres)()

	query := fmt.Sprintf(`
		UPDATE %s SET status = $1, updated_at = $2
		WHERE status = $3 AND created_at < $4
	`, s.sessionsTable)

	result, err := s.db.ExecContext(ctx, query,
		string(SessionExpired), time.Now().UTC(), string(SessionPending), olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

const orderColumns = `id, user_id, customer_name, customer_email, game, service, price, currency,
	status, payment_id, payment_method, synthesized, paid_at, created_at, updated_at`

func scanOrder(row rowScanner) (Order, error) {
	var (
		order    Order
		price    decimal.Decimal
		currency string
		status   string
	)
	err := row.Scan(&order.ID, &order.UserID, &order.CustomerName, &order.CustomerEmail,
		&order.Game, &order.Service, &price, &currency, &status, &order.PaymentID,
		&order.PaymentMethod, &order.Synthesized, &order.PaidAt, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	order.Price = money.Money{Amount: price, Currency: currency}
	order.Status = OrderStatus(status)
	return order, nil
}

// InsertOrderIfAbsent relies on the primary key: ON CONFLICT DO NOTHING leaves
// RowsAffected at 0 for every caller but the first.
func (s *PostgresStore) InsertOrderIfAbsent(ctx context.Context, order Order) (Order, bool, error) {
	if err := validateAndPrepareOrder(&order); err != nil {
		return Order{}, false, err
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "insert_order", backendPostgres)()

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`, s.ordersTable, orderColumns)

	result, err := s.db.ExecContext(ctx, query,
		order.ID, order.UserID, order.CustomerName, order.CustomerEmail, order.Game, order.Service,
		order.Price.Amount, order.Price.Currency, string(order.Status), order.PaymentID,
		order.PaymentMethod, order.Synthesized, order.PaidAt.UTC(), order.CreatedAt.UTC(), order.UpdatedAt.UTC())
	if err != nil {
		return Order{}, false, fmt.Errorf("insert order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return Order{}, false, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 1 {
		return order, true, nil
	}

	existing, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		return Order{}, false, err
	}
	return existing, false, nil
}

// GetOrder retrieves an order by id.
func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (Order, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "get_order", backendPostgres)()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, orderColumns, s.ordersTable)
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ListOrders returns orders newest first.
func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "list_orders", backendPostgres)()

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, orderColumns, s.ordersTable)

	rows, err := s.db.QueryContext(ctx, query, filter.UserID, string(filter.Status), normalizeLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

// UpdateOrderStatus is a conditional UPDATE ... RETURNING on status.
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID string, from []OrderStatus, to OrderStatus) (Order, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "update_order_status", backendPostgres)()

	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING %s
	`, s.ordersTable, orderColumns)

	order, err := scanOrder(s.db.QueryRowContext(ctx, query,
		orderID, string(to), time.Now().UTC(), pq.Array(orderStatusStrings(from))))
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Order{}, fmt.Errorf("update order status: %w", err)
	}

	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	return current, ErrStatusConflict
}

// SaveNotification stores a notification.
func (s *PostgresStore) SaveNotification(ctx context.Context, n Notification) error {
	if err := validateAndPrepareNotification(&n); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "save_notification", backendPostgres)()

	dataJSON, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, type, title, message, data, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.notificationsTable)

	_, err = s.db.ExecContext(ctx, query,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, dataJSON, n.Read, n.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// ListNotifications returns matching notifications newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "list_notifications", backendPostgres)()

	query := fmt.Sprintf(`
		SELECT id, user_id, type, title, message, data, read, created_at
		FROM %s
		WHERE user_id = $1 AND (NOT $2 OR read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3
	`, s.notificationsTable)

	rows, err := s.db.QueryContext(ctx, query, filter.UserID, filter.UnreadOnly, normalizeLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n        Notification
			typ      string
			dataJSON []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &dataJSON, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = NotificationType(typ)
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
				return nil, fmt.Errorf("unmarshal notification data: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags a notification as read for its recipient.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET read = TRUE WHERE id = $1 AND user_id = $2`, s.notificationsTable)
	result, err := s.db.ExecContext(ctx, query, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimEvent inserts the idempotency row, or takes over a failed or stale one.
// The ON CONFLICT ... WHERE clause makes the takeover a single atomic CAS: when
// the existing row is not claimable no row is returned.
func (s *PostgresStore) ClaimEvent(ctx context.Context, ev WebhookEvent, staleBefore time.Time) (WebhookEvent, bool, error) {
	if err := validateAndPrepareEvent(&ev); err != nil {
		return WebhookEvent{}, false, err
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "claim_event", backendPostgres)()

	var stale any
	if !staleBefore.IsZero() {
		stale = staleBefore.UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (provider, event_id, order_id, status, outcome, error, attempts, received_at, updated_at)
		VALUES ($1, $2, $3, $4, '', '', 1, $5, $6)
		ON CONFLICT (provider, event_id) DO UPDATE
		SET status     = EXCLUDED.status,
		    attempts   = %[1]s.attempts + 1,
		    outcome    = '',
		    error      = '',
		    order_id   = CASE WHEN %[1]s.order_id = '' THEN EXCLUDED.order_id ELSE %[1]s.order_id END,
		    updated_at = EXCLUDED.updated_at
		WHERE %[1]s.status = 'failed'
		   OR (%[1]s.status = 'processing' AND $7::timestamptz IS NOT NULL AND %[1]s.updated_at < $7::timestamptz)
		RETURNING provider, event_id, order_id, status, outcome, error, attempts, received_at, updated_at
	`, s.eventsTable)

	claimed, err := scanEvent(s.db.QueryRowContext(ctx, query,
		ev.Provider, ev.EventID, ev.OrderID, string(EventProcessing), ev.ReceivedAt.UTC(), ev.UpdatedAt.UTC(), stale))
	if err == nil {
		return claimed, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return WebhookEvent{}, false, fmt.Errorf("claim event: %w", err)
	}

	existing, err := s.GetEvent(ctx, ev.Provider, ev.EventID)
	if err != nil {
		return WebhookEvent{}, false, err
	}
	return existing, false, nil
}

func scanEvent(row rowScanner) (WebhookEvent, error) {
	var (
		ev     WebhookEvent
		status string
	)
	err := row.Scan(&ev.Provider, &ev.EventID, &ev.OrderID, &status, &ev.Outcome, &ev.Error,
		&ev.Attempts, &ev.ReceivedAt, &ev.UpdatedAt)
	if err != nil {
		return WebhookEvent{}, err
	}
	ev.Status = EventStatus(status)
	return ev, nil
}

// FinishEvent records the final status of a claimed event.
func (s *PostgresStore) FinishEvent(ctx context.Context, provider, eventID string, status EventStatus, outcome, errMsg string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "finish_event", backendPostgres)()

	query := fmt.Sprintf(`
		UPDATE %s SET status = $3, outcome = $4, error = $5, updated_at = $6
		WHERE provider = $1 AND event_id = $2
	`, s.eventsTable)

	result, err := s.db.ExecContext(ctx, query, provider, eventID, string(status), outcome, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEvent retrieves an idempotency record.
func (s *PostgresStore) GetEvent(ctx context.Context, provider, eventID string) (WebhookEvent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT provider, event_id, order_id, status, outcome, error, attempts, received_at, updated_at
		FROM %s WHERE provider = $1 AND event_id = $2
	`, s.eventsTable)

	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, provider, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return WebhookEvent{}, ErrNotFound
	}
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// Close closes the database connection if this store opened it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
