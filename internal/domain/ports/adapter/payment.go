package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	"esim-reseller/internal/domain/model"
)

// PaymentGateway is the hex port for the payment processor.
type PaymentGateway interface {
	Name() string

	// CreateIntent opens a payment intent. idempotencyKey makes retries of
	// the same logical request return the same intent.
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, meta model.IntentMetadata, idempotencyKey string) (*model.PaymentIntent, error)
	// GetIntent returns the processor's current view of the intent. This is
	// the only source of truth for "did the charge succeed".
	GetIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error)
	// CancelIntent makes the intent unpayable. Cancelling an intent that
	// already succeeded fails; callers re-read it to find out.
	CancelIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error)
	// VerifyWebhookSignature checks the signature over the raw payload
	// before parsing it. Returns domain.ErrAuthenticity on mismatch.
	VerifyWebhookSignature(payload []byte, signatureHeader string) (*model.WebhookEvent, error)
}
