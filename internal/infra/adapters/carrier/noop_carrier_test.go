//go:build !integration

package carrier

import (
	"context"
	"errors"
	"testing"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
)

func TestNoopCarrier(t *testing.T) {
	ctx := context.Background()

	t.Run("should allocate complete results", func(t *testing.T) {
		c := NewNoopCarrier()

		res, err := c.AllocateAndProvision(ctx, "234593", model.SubscriberHints{}, model.PackageConfig{})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		res.UserSimName = "eSIM_1"
		if !res.Complete() {
			t.Errorf("expected a complete result, got %+v", res)
		}
		if _, err := c.GetSubscriber(ctx, model.SubscriberHints{ICCID: res.ICCID}); err != nil {
			t.Errorf("allocated subscriber not resolvable: %v", err)
		}
	})

	t.Run("should refuse top-up for a terminated subscriber", func(t *testing.T) {
		c := NewNoopCarrier()
		c.Seed(model.Subscriber{ID: 9, Status: model.SubscriberStatusTerminated})

		_, err := c.TopUp(ctx, 9, "234593", model.PackageConfig{})

		if !errors.Is(err, domain.ErrProvisioningFailure) {
			t.Fatalf("expected ErrProvisioningFailure, got %v", err)
		}
	})

	t.Run("should report unknown subscribers", func(t *testing.T) {
		c := NewNoopCarrier()
		if _, err := c.TopUp(ctx, 404, "234593", model.PackageConfig{}); !errors.Is(err, domain.ErrSubscriberNotFound) {
			t.Fatalf("expected ErrSubscriberNotFound, got %v", err)
		}
	})
}
