// Package notify composes order notifications, records them durably and
// attempts realtime delivery through an ordered list of channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RankForge/server/internal/eventlog"
	"github.com/RankForge/server/internal/metrics"
	"github.com/RankForge/server/internal/realtime"
	"github.com/RankForge/server/internal/storage"
)

// ErrDurableWriteFailed is returned when neither the log nor the store took the notification.
var ErrDurableWriteFailed = errors.New("notify: durable write failed")

const (
	ChannelRealtime = "realtime"
	ChannelLogOnly  = "log-only"

	// DefaultChannelTimeout bounds each channel attempt.
	DefaultChannelTimeout = 3 * time.Second
)

// Result reports how a notification was delivered.
type Result struct {
	NotificationID string
	Delivered      bool
	Channel        string // ChannelRealtime or ChannelLogOnly
	Via            string // name of the channel that delivered, "log" otherwise
}

// Dispatcher implements notify(kind, payload, targetUserID).
type Dispatcher struct {
	log      *eventlog.Log
	userLog  *eventlog.Log
	store    storage.NotificationStore
	channels []Channel
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Config configures a Dispatcher.
type Config struct {
	ChannelTimeout time.Duration
	// UserLog records notifications addressed to a user. The log passed to
	// NewDispatcher only ever holds admin notifications.
	UserLog *eventlog.Log
}

// NewDispatcher wires the durable sinks and channels. log or store may be nil
// but not both; metricsCollector may be nil.
func NewDispatcher(cfg Config, log *eventlog.Log, store storage.NotificationStore, channels []Channel, logger zerolog.Logger, metricsCollector *metrics.Metrics) *Dispatcher {
	timeout := cfg.ChannelTimeout
	if timeout <= 0 {
		timeout = DefaultChannelTimeout
	}
	return &Dispatcher{
		log:      log,
		userLog:  cfg.UserLog,
		store:    store,
		channels: channels,
		timeout:  timeout,
		logger:   logger,
		metrics:  metricsCollector,
		now:      time.Now,
	}
}

// Notify records the notification and then tries each channel in order.
// Channel failures are logged and never returned; only a failed durable write is.
func (d *Dispatcher) Notify(ctx context.Context, kind storage.NotificationType, payload Payload, targetUserID string) (Result, error) {
	if payload.Timestamp == "" {
		payload.Timestamp = d.now().UTC().Format(time.RFC3339)
	}
	title, message := titleAndMessage(kind, payload)
	n := storage.Notification{
		ID:        uuid.NewString(),
		UserID:    targetUserID,
		Type:      kind,
		Title:     title,
		Message:   message,
		Data:      payload.Map(),
		CreatedAt: d.now().UTC(),
	}

	log := d.logger.With().
		Str("notification_id", n.ID).
		Str("kind", string(kind)).
		Str("order_id", payload.OrderID).
		Logger()

	if err := d.persist(ctx, n); err != nil {
		log.Error().Err(err).Msg("notify.durable_write_failed")
		return Result{NotificationID: n.ID}, err
	}

	msg := Message{
		Event:        eventFor(kind, targetUserID),
		Group:        groupFor(targetUserID),
		TargetUserID: targetUserID,
		Data:         wireData(n),
	}

	for _, ch := range d.channels {
		err := d.attempt(ctx, ch, msg)
		if err == nil {
			log.Info().Str("channel", ch.Name()).Msg("notify.delivered")
			d.observe(kind, ch.Name())
			return Result{NotificationID: n.ID, Delivered: true, Channel: ChannelRealtime, Via: ch.Name()}, nil
		}
		if d.metrics != nil {
			d.metrics.ObserveChannelFailure(ch.Name(), err)
		}
		event := log.Warn()
		if errors.Is(err, ErrNoReceivers) {
			event = log.Info()
		}
		event.Err(err).Str("channel", ch.Name()).Msg("notify.channel_failed")
	}

	log.Info().Msg("notify.log_only")
	d.observe(kind, ChannelLogOnly)
	return Result{NotificationID: n.ID, Delivered: false, Channel: ChannelLogOnly, Via: "log"}, nil
}

// attempt runs one channel under its own timeout. A panicking channel counts
// as a failed one.
func (d *Dispatcher) attempt(ctx context.Context, ch Channel, msg Message) (err error) {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: channel %s panicked: %v", ErrDeliveryFailed, ch.Name(), r)
		}
	}()
	return ch.Send(cctx, msg)
}

// persist writes the log line for the notification's audience and the inbox
// row. One success is enough.
func (d *Dispatcher) persist(ctx context.Context, n storage.Notification) error {
	var logErr, storeErr error
	sink := d.log
	if n.UserID != "" {
		sink = d.userLog
	}
	if sink != nil {
		logErr = sink.Append("notification.created", map[string]any{
			"notification_id": n.ID,
			"type":            string(n.Type),
			"user_id":         n.UserID,
			"title":           n.Title,
			"message":         n.Message,
			"data":            n.Data,
		})
	} else {
		logErr = errors.New("no notification log configured")
	}
	if logErr != nil && d.metrics != nil {
		d.metrics.ObserveDurableWriteFailure("log")
	}

	if d.store != nil {
		storeErr = d.store.SaveNotification(ctx, n)
	} else {
		storeErr = errors.New("no notification store configured")
	}
	if storeErr != nil && d.store != nil {
		if d.metrics != nil {
			d.metrics.ObserveDurableWriteFailure("store")
		}
		d.logger.Warn().Err(storeErr).Str("notification_id", n.ID).Msg("notify.store_write_failed")
	}

	if logErr != nil && storeErr != nil {
		return fmt.Errorf("%w: %w", ErrDurableWriteFailed, errors.Join(logErr, storeErr))
	}
	return nil
}

func (d *Dispatcher) observe(kind storage.NotificationType, channel string) {
	if d.metrics != nil {
		d.metrics.ObserveNotification(string(kind), channel)
	}
}

func eventFor(kind storage.NotificationType, targetUserID string) string {
	if kind == storage.NotificationNewOrder && targetUserID == "" {
		return "new-order"
	}
	return "new-notification"
}

func groupFor(targetUserID string) string {
	if targetUserID == "" {
		return realtime.GroupAdmin
	}
	return realtime.UserGroup(targetUserID)
}

// wireData is what dashboards receive: the payload plus the inbox fields.
func wireData(n storage.Notification) map[string]any {
	out := make(map[string]any, len(n.Data)+4)
	for k, v := range n.Data {
		out[k] = v
	}
	out["notificationId"] = n.ID
	out["type"] = string(n.Type)
	out["title"] = n.Title
	out["message"] = n.Message
	return out
}
