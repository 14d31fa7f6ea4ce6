// File: internal/infra/redis/event_dedupe.go
package redis

import (
	"context"
	"time"

	"esim-reseller/internal/domain/ports/adapter"
)

var _ adapter.EventDeduper = (*EventDeduper)(nil)

// EventDeduper remembers processed webhook event ids in Redis.
type EventDeduper struct {
	client RedisClient
}

func NewEventDeduper(client RedisClient) *EventDeduper {
	return &EventDeduper{client: client}
}

func eventKey(id string) string { return "webhook_event:" + id }

func (d *EventDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	return d.client.Exists(ctx, eventKey(eventID))
}

// Mark uses SETNX so the first writer's timestamp sticks.
func (d *EventDeduper) Mark(ctx context.Context, eventID string, ttl time.Duration) error {
	_, err := d.client.SetNX(ctx, eventKey(eventID), time.Now().Unix(), ttl)
	return err
}

// NoopDeduper never reports a duplicate. Used when Redis is not configured.
type NoopDeduper struct{}

var _ adapter.EventDeduper = NoopDeduper{}

func (NoopDeduper) Seen(context.Context, string) (bool, error) {
	return false, nil
}

func (NoopDeduper) Mark(context.Context, string, time.Duration) error {
	return nil
}
