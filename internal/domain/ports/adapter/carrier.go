package adapter

import (
	"context"

	"esim-reseller/internal/domain/model"
)

// CarrierClient wraps the carrier backend's provisioning API. Every call is
// a non-idempotent network operation: implementations never retry, and a
// timed out call has unknown effect on the carrier side.
type CarrierClient interface {
	// GetSubscriber resolves hints to a subscriber or domain.ErrSubscriberNotFound.
	GetSubscriber(ctx context.Context, hints model.SubscriberHints) (*model.Subscriber, error)
	// AllocateAndProvision assigns the package to the subscriber named by
	// hints, or to a newly allocated subscriber when hints are empty.
	AllocateAndProvision(ctx context.Context, packageTemplateID string, hints model.SubscriberHints, cfg model.PackageConfig) (*model.ProvisionResult, error)
	// TopUp adds the package to an existing subscriber.
	TopUp(ctx context.Context, subscriberID int64, packageTemplateID string, cfg model.PackageConfig) (*model.ProvisionResult, error)
	// Ping issues a read-only call. A well-formed "not found" answer counts
	// as reachable.
	Ping(ctx context.Context) error
}
