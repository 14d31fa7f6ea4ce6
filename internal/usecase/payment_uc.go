// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/adapter"
	"esim-reseller/internal/infra/logging"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// CreateIntent opens a processor intent for the caller's PENDING order and
	// moves the order to AWAITING_PAYMENT.
	CreateIntent(ctx context.Context, userID, orderID string, amount decimal.Decimal, currency string) (*model.PaymentIntent, *model.Order, error)
	// Confirm is the client driven confirm path.
	Confirm(ctx context.Context, userID, intentID string) (*model.Order, error)
}

type paymentUC struct {
	orders  OrderUseCase
	gateway adapter.PaymentGateway
	log     *zerolog.Logger
}

func NewPaymentUseCase(orders OrderUseCase, gateway adapter.PaymentGateway, logger *zerolog.Logger) *paymentUC {
	return &paymentUC{orders: orders, gateway: gateway, log: logger}
}

func (u *paymentUC) CreateIntent(ctx context.Context, userID, orderID string, amount decimal.Decimal, currency string) (*model.PaymentIntent, *model.Order, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.CreateIntent")()

	o, err := u.orders.GetForUser(ctx, userID, orderID)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(currency) == "" {
		currency = o.Currency
	}
	cur, err := model.NormalizeCurrency(currency)
	if err != nil {
		return nil, nil, err
	}
	if !model.RoundAmount(amount, cur).Equal(o.Amount) || cur != o.Currency {
		return nil, nil, domain.ErrInvalidArgument
	}

	switch o.Status {
	case model.OrderStatusPending:
	case model.OrderStatusAwaitingPayment:
		// client retry: hand back the intent already attached
		intent, err := u.gateway.GetIntent(ctx, o.PaymentIntentID)
		if err != nil {
			return nil, nil, err
		}
		return intent, o, nil
	default:
		return nil, nil, domain.ErrInvalidStateTransition
	}

	meta := model.IntentMetadata{OrderID: o.ID, UserID: o.UserID, PackageTemplateID: o.PackageTemplateID}
	intent, err := u.gateway.CreateIntent(ctx, o.Amount, o.Currency, meta, o.ID)
	if err != nil {
		return nil, nil, err
	}

	attached, err := u.orders.AttachIntent(ctx, o.ID, intent.ID)
	if errors.Is(err, domain.ErrInvalidStateTransition) {
		cur, gerr := u.orders.Get(ctx, o.ID)
		if gerr == nil && cur.PaymentIntentID == intent.ID {
			// A concurrent request with the same idempotency key got there first.
			return intent, cur, nil
		}
		if gerr == nil {
			u.releaseIntent(ctx, o.ID, intent.ID)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	logging.With(logging.WithOrderID(ctx, o.ID), u.log).Info().
		Str("intent_id", intent.ID).
		Str("provider", u.gateway.Name()).
		Msg("payment intent attached")
	return intent, attached, nil
}

// releaseIntent cancels an intent that never got attached (the order was
// cancelled or edited meanwhile), so it cannot be paid.
func (u *paymentUC) releaseIntent(ctx context.Context, orderID, intentID string) {
	log := logging.With(logging.WithOrderID(ctx, orderID), u.log)
	if _, err := u.gateway.CancelIntent(context.WithoutCancel(ctx), intentID); err != nil {
		log.Error().Err(err).Str("intent_id", intentID).Msg("failed to cancel unattached intent")
		return
	}
	log.Warn().Str("intent_id", intentID).Msg("cancelled unattached intent")
}

func (u *paymentUC) Confirm(ctx context.Context, userID, intentID string) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Confirm")()
	if strings.TrimSpace(intentID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	intent, err := u.gateway.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Metadata.UserID != userID {
		return nil, domain.ErrOwnership
	}
	if _, err := u.orders.GetForUser(ctx, userID, intent.Metadata.OrderID); err != nil {
		return nil, err
	}
	return u.orders.ConfirmIntent(ctx, intent)
}
