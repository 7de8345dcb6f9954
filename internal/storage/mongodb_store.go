package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RankForge/server/internal/metrics"
	"github.com/RankForge/server/internal/money"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const backendMongo = "mongodb"

// MongoDBStore implements Store using MongoDB.
type MongoDBStore struct {
	client        *mongo.Client
	sessions      *mongo.Collection
	orders        *mongo.Collection
	notifications *mongo.Collection
	events        *mongo.Collection
	metrics       *metrics.Metrics
}

// NewMongoDBStore connects, pings and ensures indexes.
func NewMongoDBStore(connectionString, database string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	store := &MongoDBStore{
		client:        client,
		sessions:      db.Collection("payment_sessions"),
		orders:        db.Collection("orders"),
		notifications: db.Collection("notifications"),
		events:        db.Collection("webhook_events"),
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// WithMetrics enables query timing.
func (s *MongoDBStore) WithMetrics(m *metrics.Metrics) *MongoDBStore {
	s.metrics = m
	return s
}

// createIndexes creates the secondary indexes. Sessions and orders are keyed by
// order id in _id, which is unique already.
func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}

	_, err = s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}

	_, err = s.notifications.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}

	_, err = s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "order_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create webhook event indexes: %w", err)
	}
	return nil
}

type mongoSession struct {
	OrderID           string    `bson:"_id"`
	ID                string    `bson:"id"`
	UserID            string    `bson:"user_id"`
	Amount            string    `bson:"amount"`
	Currency          string    `bson:"currency"`
	Game              string    `bson:"game"`
	Service           string    `bson:"service"`
	CustomerName      string    `bson:"customer_name"`
	CustomerEmail     string    `bson:"customer_email"`
	Status            string    `bson:"status"`
	Provider          string    `bson:"provider"`
	ProviderInvoiceID string    `bson:"provider_invoice_id"`
	ProviderTxID      string    `bson:"provider_tx_id"`
	PaymentURL        string    `bson:"payment_url"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

func toMongoSession(s PaymentSession) mongoSession {
	return mongoSession{
		OrderID:           s.OrderID,
		ID:                s.ID,
		UserID:            s.UserID,
		Amount:            s.Amount.Amount.String(),
		Currency:          s.Amount.Currency,
		Game:              s.Game,
		Service:           s.Service,
		CustomerName:      s.CustomerName,
		CustomerEmail:     s.CustomerEmail,
		Status:            string(s.Status),
		Provider:          s.Provider,
		ProviderInvoiceID: s.ProviderInvoiceID,
		ProviderTxID:      s.ProviderTxID,
		PaymentURL:        s.PaymentURL,
		CreatedAt:         s.CreatedAt.UTC(),
		UpdatedAt:         s.UpdatedAt.UTC(),
	}
}

func (d mongoSession) toSession() (PaymentSession, error) {
	amount, err := money.Parse(d.Amount, d.Currency)
	if err != nil {
		return PaymentSession{}, fmt.Errorf("session %s amount: %w", d.OrderID, err)
	}
	return PaymentSession{
		ID:                d.ID,
		OrderID:           d.OrderID,
		UserID:            d.UserID,
		Amount:            amount,
		Game:              d.Game,
		Service:           d.Service,
		CustomerName:      d.CustomerName,
		CustomerEmail:     d.CustomerEmail,
		Status:            SessionStatus(d.Status),
		Provider:          d.Provider,
		ProviderInvoiceID: d.ProviderInvoiceID,
		ProviderTxID:      d.ProviderTxID,
		PaymentURL:        d.PaymentURL,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}, nil
}

// CreateSession inserts a new pending session.
func (s *MongoDBStore) CreateSession(ctx context.Context, session PaymentSession) error {
	if err := validateAndPrepareSession(&session); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "create_session", backendMongo)()

	_, err := s.sessions.InsertOne(ctx, toMongoSession(session))
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

// GetSessionByOrderID looks up a session by external order id.
func (s *MongoDBStore) GetSessionByOrderID(ctx context.Context, orderID string) (PaymentSession, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "get_session", backendMongo)()

	var doc mongoSession
	err := s.sessions.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentSession{}, ErrNotFound
	}
	if err != nil {
		return PaymentSession{}, fmt.Errorf("get session: %w", err)
	}
	return doc.toSession()
}

// UpdateSessionInvoice stores the provider invoice reference.
func (s *MongoDBStore) UpdateSessionInvoice(ctx context.Context, orderID, invoiceID, paymentURL string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.sessions.UpdateOne(ctx, bson.M{"_id": orderID}, bson.M{"$set": bson.M{
		"provider_invoice_id": invoiceID,
		"payment_url":         paymentURL,
		"updated_at":          time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("update session invoice: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionSession filters on the current status so the update is a CAS.
func (s *MongoDBStore) TransitionSession(ctx context.Context, orderID string, from []SessionStatus, to SessionStatus, providerTxID string) (bool, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "transition_session", backendMongo)()

	set := bson.M{"status": string(to), "updated_at": time.Now().UTC()}
	if providerTxID != "" {
		set["provider_tx_id"] = providerTxID
	}
	filter := bson.M{"_id": orderID, "status": bson.M{"$in": sessionStatusStrings(from)}}

	result, err := s.sessions.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	if result.ModifiedCount == 1 {
		return true, nil
	}

	count, err := s.sessions.CountDocuments(ctx, bson.M{"_id": orderID})
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// ExpireStaleSessions moves old pending sessions to expired.
func (s *MongoDBStore) ExpireStaleSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "expire_sessions", backendMongo)()

	filter := bson.M{
		"status":     string(SessionPending),
		"created_at": bson.M{"$lt": olderThan.UTC()},
	}
	update := bson.M{"$set": bson.M{"status": string(SessionExpired), "updated_at": time.Now().UTC()}}

	result, err := s.sessions.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return result.ModifiedCount, nil
}

type mongoOrder struct {
	ID            string    `bson:"_id"`
	UserID        string    `bson:"user_id"`
	CustomerName  string    `bson:"customer_name"`
	CustomerEmail string    `bson:"customer_email"`
	Game          string    `bson:"game"`
	Service       string    `bson:"service"`
	Price         string    `bson:"price"`
	Currency      string    `bson:"currency"`
	Status        string    `bson:"status"`
	PaymentID     string    `bson:"payment_id"`
	PaymentMethod string    `bson:"payment_method"`
	Synthesized   bool      `bson:"synthesized"`
	PaidAt        time.Time `bson:"paid_at"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func toMongoOrder(o Order) mongoOrder {
	return mongoOrder{
		ID:            o.ID,
		UserID:        o.UserID,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Game:          o.Game,
		Service:       o.Service,
		Price:         o.Price.Amount.String(),
		Currency:      o.Price.Currency,
		Status:        string(o.Status),
		PaymentID:     o.PaymentID,
		PaymentMethod: o.PaymentMethod,
		Synthesized:   o.Synthesized,
		PaidAt:        o.PaidAt.UTC(),
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.UpdatedAt.UTC(),
	}
}

func (d mongoOrder) toOrder() (Order, error) {
	price, err := money.Parse(d.Price, d.Currency)
	if err != nil {
		return Order{}, fmt.Errorf("order %s price: %w", d.ID, err)
	}
	return Order{
		ID:            d.ID,
		UserID:        d.UserID,
		CustomerName:  d.CustomerName,
		CustomerEmail: d.CustomerEmail,
		Game:          d.Game,
		Service:       d.Service,
		Price:         price,
		Status:        OrderStatus(d.Status),
		PaymentID:     d.PaymentID,
		PaymentMethod: d.PaymentMethod,
		Synthesized:   d.Synthesized,
		PaidAt:        d.PaidAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

// InsertOrderIfAbsent upserts with $setOnInsert; UpsertedCount = 0 means the
// order already existed.
func (s *MongoDBStore) InsertOrderIfAbsent(ctx context.Context, order Order) (Order, bool, error) {
	if err := validateAndPrepareOrder(&order); err != nil {
		return Order{}, false, err
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "insert_order", backendMongo)()

	doc := toMongoOrder(order)
	result, err := s.orders.UpdateOne(ctx,
		bson.M{"_id": order.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return Order{}, false, fmt.Errorf("insert order: %w", err)
	}
	if err == nil && result.UpsertedCount == 1 {
		return order, true, nil
	}

	existing, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		return Order{}, false, err
	}
	return existing, false, nil
}

// GetOrder retrieves an order by id.
func (s *MongoDBStore) GetOrder(ctx context.Context, orderID string) (Order, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "get_order", backendMongo)()

	var doc mongoOrder
	err := s.orders.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	return doc.toOrder()
}

// ListOrders returns orders newest first.
func (s *MongoDBStore) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "list_orders", backendMongo)()

	query := bson.M{}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(normalizeLimit(filter.Limit)))

	cursor, err := s.orders.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoOrder
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	out := make([]Order, 0, len(docs))
	for _, d := range docs {
		order, err := d.toOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

// UpdateOrderStatus is FindOneAndUpdate filtered on the current status.
func (s *MongoDBStore) UpdateOrderStatus(ctx context.Context, orderID string, from []OrderStatus, to OrderStatus) (Order, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "update_order_status", backendMongo)()

	filter := bson.M{"_id": orderID, "status": bson.M{"$in": orderStatusStrings(from)}}
	update := bson.M{"$set": bson.M{"status": string(to), "updated_at": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoOrder
	err := s.orders.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toOrder()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return Order{}, fmt.Errorf("update order status: %w", err)
	}

	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	return current, ErrStatusConflict
}

type mongoNotification struct {
	ID        string         `bson:"_id"`
	UserID    string         `bson:"user_id"`
	Type      string         `bson:"type"`
	Title     string         `bson:"title"`
	Message   string         `bson:"message"`
	Data      map[string]any `bson:"data"`
	Read      bool           `bson:"read"`
	CreatedAt time.Time      `bson:"created_at"`
}

// SaveNotification stores a notification.
func (s *MongoDBStore) SaveNotification(ctx context.Context, n Notification) error {
	if err := validateAndPrepareNotification(&n); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "save_notification", backendMongo)()

	_, err := s.notifications.InsertOne(ctx, mongoNotification{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt.UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

// ListNotifications returns matching notifications newest first.
func (s *MongoDBStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "list_notifications", backendMongo)()

	query := bson.M{"user_id": filter.UserID}
	if filter.UnreadOnly {
		query["read"] = false
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(normalizeLimit(filter.Limit)))

	cursor, err := s.notifications.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoNotification
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	out := make([]Notification, 0, len(docs))
	for _, d := range docs {
		out = append(out, Notification{
			ID:        d.ID,
			UserID:    d.UserID,
			Type:      NotificationType(d.Type),
			Title:     d.Title,
			Message:   d.Message,
			Data:      d.Data,
			Read:      d.Read,
			CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}

// MarkNotificationRead flags a notification as read for its recipient.
func (s *MongoDBStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.notifications.UpdateOne(ctx,
		bson.M{"_id": notificationID, "user_id": userID},
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoEvent struct {
	Provider   string    `bson:"provider"`
	EventID    string    `bson:"event_id"`
	OrderID    string    `bson:"order_id"`
	Status     string    `bson:"status"`
	Outcome    string    `bson:"outcome"`
	Error      string    `bson:"error"`
	Attempts   int       `bson:"attempts"`
	ReceivedAt time.Time `bson:"received_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (d mongoEvent) toEvent() WebhookEvent {
	return WebhookEvent{
		Provider:   d.Provider,
		EventID:    d.EventID,
		OrderID:    d.OrderID,
		Status:     EventStatus(d.Status),
		Outcome:    d.Outcome,
		Error:      d.Error,
		Attempts:   d.Attempts,
		ReceivedAt: d.ReceivedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// ClaimEvent first tries to take over a claimable record, then falls back to an
// insert-only upsert. The unique (provider, event_id) index turns a concurrent
// second insert into a duplicate key error, which is reported as not claimed.
func (s *MongoDBStore) ClaimEvent(ctx context.Context, ev WebhookEvent, staleBefore time.Time) (WebhookEvent, bool, error) {
	if err := validateAndPrepareEvent(&ev); err != nil {
		return WebhookEvent{}, false, err
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "claim_event", backendMongo)()

	claimableStates := []bson.M{{"status": string(EventFailed)}}
	if !staleBefore.IsZero() {
		claimableStates = append(claimableStates, bson.M{
			"status":     string(EventProcessing),
			"updated_at": bson.M{"$lt": staleBefore.UTC()},
		})
	}
	takeover := bson.M{
		"provider": ev.Provider,
		"event_id": ev.EventID,
		"$or":      claimableStates,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     string(EventProcessing),
			"outcome":    "",
			"error":      "",
			"updated_at": ev.UpdatedAt,
		},
		"$inc": bson.M{"attempts": 1},
	}

	var doc mongoEvent
	err := s.events.FindOneAndUpdate(ctx, takeover, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.toEvent(), true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return WebhookEvent{}, false, fmt.Errorf("claim event: %w", err)
	}

	insert := bson.M{"$setOnInsert": mongoEvent{
		Provider:   ev.Provider,
		EventID:    ev.EventID,
		OrderID:    ev.OrderID,
		Status:     string(EventProcessing),
		Attempts:   1,
		ReceivedAt: ev.ReceivedAt,
		UpdatedAt:  ev.UpdatedAt,
	}}
	result, err := s.events.UpdateOne(ctx,
		bson.M{"provider": ev.Provider, "event_id": ev.EventID},
		insert,
		options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return WebhookEvent{}, false, fmt.Errorf("claim event: %w", err)
	}
	if err == nil && result.UpsertedCount == 1 {
		return ev, true, nil
	}

	existing, err := s.GetEvent(ctx, ev.Provider, ev.EventID)
	if err != nil {
		return WebhookEvent{}, false, err
	}
	return existing, false, nil
}

// FinishEvent records the final status of a claimed event.
func (s *MongoDBStore) FinishEvent(ctx context.Context, provider, eventID string, status EventStatus, outcome, errMsg string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "finish_event", backendMongo)()

	result, err := s.events.UpdateOne(ctx,
		bson.M{"provider": provider, "event_id": eventID},
		bson.M{"$set": bson.M{
			"status":     string(status),
			"outcome":    outcome,
			"error":      errMsg,
			"updated_at": time.Now().UTC(),
		}})
	if err != nil {
		return fmt.Errorf("finish event: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEvent retrieves an idempotency record.
func (s *MongoDBStore) GetEvent(ctx context.Context, provider, eventID string) (WebhookEvent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc mongoEvent
	err := s.events.FindOne(ctx, bson.M{"provider": provider, "event_id": eventID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return WebhookEvent{}, ErrNotFound
	}
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("get event: %w", err)
	}
	return doc.toEvent(), nil
}

// Close disconnects the client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
