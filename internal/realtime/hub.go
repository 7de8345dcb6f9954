// Package realtime fans events out to connected dashboard clients over WebSockets.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RankForge/server/internal/metrics"
	"github.com/rs/zerolog"
)

// GroupAdmin is the group every administrator connection joins.
const GroupAdmin = "admin"

// UserGroup names the group of one user's connections.
func UserGroup(userID string) string {
	return "user:" + userID
}

// ErrHubClosed is returned by Broadcast after Close.
var ErrHubClosed = errors.New("realtime: hub closed")

// Broadcaster delivers an event to every connection in a group and reports how
// many connections accepted it. Zero receivers is not an error.
type Broadcaster interface {
	Broadcast(ctx context.Context, group, event string, payload any) (int, error)
}

// Envelope is the frame written to clients.
type Envelope struct {
	Event  string    `json:"event"`
	Data   any       `json:"data"`
	SentAt time.Time `json:"sentAt"`
}

// Config tunes per-connection buffering and keepalive.
type Config struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

// Hub is the in-process connection registry.
type Hub struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	groups map[string]map[*client]struct{}
	closed bool
}

// NewHub creates an empty hub. metricsCollector may be nil.
func NewHub(cfg Config, logger zerolog.Logger, metricsCollector *metrics.Metrics) *Hub {
	return &Hub{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
		groups:  make(map[string]map[*client]struct{}),
	}
}

// Broadcast implements Broadcaster. It never blocks on a client: a connection
// whose buffer is full is dropped.
func (h *Hub) Broadcast(ctx context.Context, group, event string, payload any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	frame, err := json.Marshal(Envelope{Event: event, Data: payload, SentAt: h.now().UTC()})
	if err != nil {
		return 0, fmt.Errorf("realtime: encode %s: %w", event, err)
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0, ErrHubClosed
	}
	members := make([]*client, 0, len(h.groups[group]))
	for c := range h.groups[group] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, c := range members {
		if c.enqueue(frame) {
			delivered++
			continue
		}
		dropped++
		h.logger.Warn().
			Str("group", group).
			Str("connection_id", c.id).
			Msg("realtime.client_dropped")
		h.unregister(c)
	}

	if h.metrics != nil {
		h.metrics.ObserveBroadcast(event, dropped)
	}
	return delivered, nil
}

// Connected returns the number of connections in group.
func (h *Hub) Connected(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Close disconnects every client. Later broadcasts fail with ErrHubClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var all []*client
	seen := make(map[*client]struct{})
	for _, members := range h.groups {
		for c := range members {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				all = append(all, c)
			}
		}
	}
	h.groups = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.close()
		if h.metrics != nil {
			h.metrics.RealtimeConnected(c.identity.Role, -1)
		}
	}
	return nil
}

func (h *Hub) register(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	for _, g := range c.groups {
		members, ok := h.groups[g]
		if !ok {
			members = make(map[*client]struct{})
			h.groups[g] = members
		}
		members[c] = struct{}{}
	}
	if h.metrics != nil {
		h.metrics.RealtimeConnected(c.identity.Role, 1)
	}
	return nil
}

// unregister removes c from all groups and closes it. Safe to call twice.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	removed := false
	for _, g := range c.groups {
		members := h.groups[g]
		if _, ok := members[c]; ok {
			delete(members, c)
			removed = true
		}
		if len(members) == 0 {
			delete(h.groups, g)
		}
	}
	h.mu.Unlock()

	c.close()
	if removed && h.metrics != nil {
		h.metrics.RealtimeConnected(c.identity.Role, -1)
	}
}
