package adapter

import (
	"context"
	"time"

	"esim-reseller/internal/domain/model"
)

// OrderEventPublisher fans order end states out to downstream consumers
// (customer notifications, support tooling).
type OrderEventPublisher interface {
	Publish(ctx context.Context, ev model.OrderEvent) error
	Close() error
}

// EventDeduper remembers processed webhook event ids. It only saves work;
// correctness never depends on it.
type EventDeduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string, ttl time.Duration) error
}
