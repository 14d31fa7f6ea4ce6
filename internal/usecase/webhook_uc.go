// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/adapter"
	"esim-reseller/internal/infra/logging"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

type WebhookUseCase interface {
	// Ingest verifies the signature over the raw payload before anything
	// else. duplicate is true when the event id was already handled.
	Ingest(ctx context.Context, payload []byte, signature string) (ev *model.WebhookEvent, duplicate bool, err error)
	// Handle routes a verified event into the order state machine.
	Handle(ctx context.Context, ev *model.WebhookEvent) error
}

const defaultDedupeTTL = 24 * time.Hour

type webhookUC struct {
	gateway adapter.PaymentGateway
	orders  OrderUseCase
	dedupe  adapter.EventDeduper
	ttl     time.Duration
	log     *zerolog.Logger
}

func NewWebhookUseCase(gateway adapter.PaymentGateway, orders OrderUseCase, dedupe adapter.EventDeduper, logger *zerolog.Logger) *webhookUC {
	return &webhookUC{gateway: gateway, orders: orders, dedupe: dedupe, ttl: defaultDedupeTTL, log: logger}
}

func (u *webhookUC) Ingest(ctx context.Context, payload []byte, signature string) (*model.WebhookEvent, bool, error) {
	defer logging.TraceDuration(u.log, "WebhookUC.Ingest")()

	ev, err := u.gateway.VerifyWebhookSignature(payload, signature)
	if err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Int("payload_bytes", len(payload)).Msg("webhook rejected")
		return nil, false, err
	}
	if u.dedupe != nil && ev.ID != "" {
		seen, err := u.dedupe.Seen(ctx, ev.ID)
		if err != nil {
			// dedupe is best effort; the order CAS still guards the state
			logging.With(ctx, u.log).Warn().Err(err).Str("event_id", ev.ID).Msg("dedupe lookup failed")
		} else if seen {
			return ev, true, nil
		}
	}
	return ev, false, nil
}

func (u *webhookUC) Handle(ctx context.Context, ev *model.WebhookEvent) error {
	defer logging.TraceDuration(u.log, "WebhookUC.Handle")()
	if ev == nil {
		return domain.ErrInvalidArgument
	}
	ctx = logging.WithOrderID(ctx, ev.Intent.Metadata.OrderID)
	log := logging.With(ctx, u.log).With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	var err error
	switch ev.Type {
	case model.EventPaymentSucceeded:
		_, err = u.orders.OnPaymentWebhook(ctx, ev)
	case model.EventPaymentFailed:
		err = u.mirror(ctx, ev, model.PaymentStatusFailed)
	case model.EventPaymentCanceled:
		err = u.mirror(ctx, ev, model.PaymentStatusCanceled)
	case model.EventPaymentProcessing:
		err = u.mirror(ctx, ev, model.PaymentStatusProcessing)
	default:
		log.Debug().Msg("ignoring webhook event type")
	}

	switch {
	case err == nil:
		log.Info().Msg("webhook handled")
	case isPermanent(err):
		// Redelivery cannot fix these; remember the event anyway.
		log.Warn().Err(err).Msg("webhook event not applicable")
	default:
		log.Error().Err(err).Msg("webhook handling failed")
		return err
	}
	u.markSeen(ctx, ev.ID)
	return nil
}

func (u *webhookUC) mirror(ctx context.Context, ev *model.WebhookEvent, status model.PaymentStatus) error {
	intent := ev.Intent
	intent.Status = status
	_, err := u.orders.MirrorPaymentStatus(ctx, &intent)
	return err
}

func (u *webhookUC) markSeen(ctx context.Context, eventID string) {
	if u.dedupe == nil || eventID == "" {
		return
	}
	if err := u.dedupe.Mark(ctx, eventID, u.ttl); err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Str("event_id", eventID).Msg("dedupe mark failed")
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrInvalidStateTransition) ||
		errors.Is(err, domain.ErrPaymentNotConfirmed)
}
