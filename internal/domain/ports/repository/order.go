package repository

import (
	"context"
	"time"

	"esim-reseller/internal/domain/model"
)

// -----------------------------
// Orders
// -----------------------------

// OrderRepository persists orders. The order row is mutated only through
// Create and the conditional updates below.
type OrderRepository interface {
	Create(ctx context.Context, qx Tx, o *model.Order) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.Order, error)
	// ListByUser and ListAll return orders newest first.
	ListByUser(ctx context.Context, qx Tx, userID string, offset, limit int) ([]*model.Order, error)
	ListAll(ctx context.Context, qx Tx, offset, limit int) ([]*model.Order, error)

	// Transition sets status to next and applies patch only if the stored
	// status still equals expected. It reports false when another writer
	// got there first.
	Transition(ctx context.Context, qx Tx, id string, expected, next model.OrderStatus, patch model.OrderPatch) (bool, error)
	// ReclaimProcessing claims an order stuck in PROCESSING whose last
	// update is older than staleBefore. At most one caller wins.
	ReclaimProcessing(ctx context.Context, qx Tx, id string, staleBefore time.Time) (bool, error)

	ListAwaitingPaymentOlderThan(ctx context.Context, qx Tx, before time.Time, limit int) ([]*model.Order, error)
}

// -----------------------------
// Catalog mirror
// -----------------------------

// PackageTemplateRepository reads the local mirror of carrier package templates.
type PackageTemplateRepository interface {
	FindByID(ctx context.Context, qx Tx, id string) (*model.PackageTemplate, error)
}

// PackageTemplateWriter loads templates into the mirror. Only the sync
// tooling and the dev seeder write.
type PackageTemplateWriter interface {
	Upsert(ctx context.Context, qx Tx, t *model.PackageTemplate) error
}
