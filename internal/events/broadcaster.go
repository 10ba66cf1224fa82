// Package events fans mutations out to interested subscribers. Delivery
// is fire-and-forget; nothing in the dispatch core depends on a
// subscriber seeing an event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Common event names published by the core.
const (
	EventTicket   = "ticket"
	EventCampaign = "campaign"
	EventSchedule = "schedule"
)

// Actions carried by ticket events. ActionDelete is emitted before
// ActionUpdate on status changes so subscribers evict the stale entry
// before receiving the canonical replacement.
const (
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Broadcaster publishes an event into a tenant namespace.
type Broadcaster interface {
	Publish(ctx context.Context, companyID int64, event string, payload any) error
}

// ChannelName builds the tenant-scoped topic for an event.
func ChannelName(companyID int64, event string) string {
	return fmt.Sprintf("company-%d-%s", companyID, event)
}

// redisBroadcaster publishes events over redis pub/sub.
type redisBroadcaster struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBroadcaster creates a pub/sub backed broadcaster.
func NewRedisBroadcaster(client *redis.Client, logger *zap.Logger) Broadcaster {
	return &redisBroadcaster{client: client, logger: logger}
}

func (b *redisBroadcaster) Publish(ctx context.Context, companyID int64, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if err := b.client.Publish(ctx, ChannelName(companyID, event), body).Err(); err != nil {
		b.logger.Warn("broadcast publish failed",
			zap.Int64("companyId", companyID),
			zap.String("event", event),
			zap.Error(err))
		return err
	}
	return nil
}

// Handler consumes one published event.
type Handler func(ctx context.Context, companyID int64, event string, payload any)

// InMemoryBroadcaster fans out synchronously to in-process subscribers.
type InMemoryBroadcaster struct {
	mu        sync.RWMutex
	listeners map[string][]Handler
}

// NewInMemoryBroadcaster creates a synchronous local broadcaster.
func NewInMemoryBroadcaster() *InMemoryBroadcaster {
	return &InMemoryBroadcaster{listeners: make(map[string][]Handler)}
}

// Subscribe registers a handler for the given event name.
func (b *InMemoryBroadcaster) Subscribe(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], handler)
}

// Publish invokes handlers for the event; subscriber errors never
// propagate.
func (b *InMemoryBroadcaster) Publish(ctx context.Context, companyID int64, event string, payload any) error {
	b.mu.RLock()
	handlers := append([]Handler{}, b.listeners[event]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, companyID, event, payload)
	}
	return nil
}
