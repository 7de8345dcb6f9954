package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RankForge/server/internal/circuitbreaker"
	"github.com/RankForge/server/internal/httputil"
	"github.com/RankForge/server/internal/realtime"
)

var (
	// ErrDeliveryFailed marks a channel that could not deliver. It never
	// escapes Dispatcher.Notify.
	ErrDeliveryFailed = errors.New("notify: delivery failed")
	// ErrNoReceivers means the channel worked but nobody was listening.
	ErrNoReceivers = fmt.Errorf("%w: no receivers connected", ErrDeliveryFailed)
)

// Message is one notification addressed to a realtime group.
type Message struct {
	Event        string // "new-order" or "new-notification"
	Group        string
	TargetUserID string
	Data         map[string]any
}

// Audience is "admin" or "user", the type field of the ingest API.
func (m Message) Audience() string {
	if m.TargetUserID == "" {
		return "admin"
	}
	return "user"
}

// Channel is one delivery strategy. Send must respect ctx.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// BroadcastChannel emits on the in-process hub.
type BroadcastChannel struct {
	Broadcaster realtime.Broadcaster
}

func (c *BroadcastChannel) Name() string { return "realtime" }

func (c *BroadcastChannel) Send(ctx context.Context, msg Message) error {
	if c.Broadcaster == nil {
		return fmt.Errorf("%w: realtime hub not configured", ErrDeliveryFailed)
	}
	n, err := c.Broadcaster.Broadcast(ctx, msg.Group, msg.Event, msg.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	if n == 0 {
		return ErrNoReceivers
	}
	return nil
}

// SendRequest is the body of POST /api/notifications/send.
type SendRequest struct {
	Type   string         `json:"type"` // admin | user
	Event  string         `json:"event"`
	Data   map[string]any `json:"data"`
	UserID string         `json:"userId,omitempty"`
}

// SendResponse is its answer.
type SendResponse struct {
	Delivered bool `json:"delivered"`
	Receivers int  `json:"receivers"`
}

// HTTPChannel posts to a notification ingest endpoint, typically the realtime
// gateway instance that holds the dashboard sockets.
type HTTPChannel struct {
	URL      string
	APIKey   string
	Client   *http.Client
	Breakers *circuitbreaker.Manager
}

// NewHTTPChannel builds an HTTPChannel with a pooled client.
func NewHTTPChannel(url, apiKey string, timeout time.Duration, breakers *circuitbreaker.Manager) *HTTPChannel {
	return &HTTPChannel{
		URL:      url,
		APIKey:   apiKey,
		Client:   httputil.NewClient(timeout),
		Breakers: breakers,
	}
}

func (c *HTTPChannel) Name() string { return "http_fallback" }

func (c *HTTPChannel) Send(ctx context.Context, msg Message) error {
	body := SendRequest{
		Type:   msg.Audience(),
		Event:  msg.Event,
		Data:   msg.Data,
		UserID: msg.TargetUserID,
	}
	headers := map[string]string{}
	if c.APIKey != "" {
		headers["X-API-Key"] = c.APIKey
	}

	resp, err := circuitbreaker.Do(c.Breakers, circuitbreaker.ServiceNotificationAPI, func() (SendResponse, error) {
		var out SendResponse
		err := httputil.PostJSON(ctx, c.Client, c.URL, headers, body, &out)
		return out, err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	if !resp.Delivered {
		return ErrNoReceivers
	}
	return nil
}
