// File: internal/infra/adapters/payment/stripe_gateway.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"

	"esim-reseller/internal/config"
	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/adapter"
	"esim-reseller/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// Intent metadata keys, shared with the storefront.
const (
	metaOrderID    = "orderId"
	metaUserID     = "userId"
	metaTemplateID = "packageTemplateId"
)

// StripeGateway implements adapter.PaymentGateway with the stripe-go
// client. Each gateway owns its backend, so tests can point it at a
// local server.
type StripeGateway struct {
	intents       paymentintent.Client
	webhookSecret string
	tolerance     time.Duration
}

func NewStripeGateway(cfg config.StripeConfig, logger *zerolog.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret empty")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = stripe.APIURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid stripe base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.MaxNetworkRetries
	if retries < 0 {
		retries = 0
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(base),
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(retries),
		LeveledLogger:     newStripeLogger(logger),
	})
	return &StripeGateway{
		intents:       paymentintent.Client{B: backend, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.Tolerance,
	}, nil
}

func (s *StripeGateway) Name() string { return "stripe" }

// CreateIntent calls POST /v1/payment_intents. The idempotency key makes
// a retried create return the intent of the first attempt.
func (s *StripeGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, meta model.IntentMetadata, idempotencyKey string) (pi *model.PaymentIntent, err error) {
	started := time.Now()
	defer func() { metrics.ObservePaymentCall(s.Name(), "create_intent", started, err) }()

	if !amount.IsPositive() || len(currency) != 3 {
		return nil, domain.ErrInvalidArgument
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(amount, currency)),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}
	params.AddMetadata(metaOrderID, meta.OrderID)
	params.AddMetadata(metaUserID, meta.UserID)
	params.AddMetadata(metaTemplateID, meta.PackageTemplateID)

	out, err := s.intents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return intentToModel(out), nil
}

// GetIntent calls GET /v1/payment_intents/{id}.
func (s *StripeGateway) GetIntent(ctx context.Context, intentID string) (pi *model.PaymentIntent, err error) {
	started := time.Now()
	defer func() { metrics.ObservePaymentCall(s.Name(), "get_intent", started, err) }()

	if strings.TrimSpace(intentID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	out, err := s.intents.Get(intentID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return intentToModel(out), nil
}

// CancelIntent calls POST /v1/payment_intents/{id}/cancel. Stripe refuses
// to cancel an intent that already succeeded or was already canceled.
func (s *StripeGateway) CancelIntent(ctx context.Context, intentID string) (pi *model.PaymentIntent, err error) {
	started := time.Now()
	defer func() { metrics.ObservePaymentCall(s.Name(), "cancel_intent", started, err) }()

	if strings.TrimSpace(intentID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	out, err := s.intents.Cancel(intentID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return intentToModel(out), nil
}

func (s *StripeGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) (*model.WebhookEvent, error) {
	return verifyAndParse(s.webhookSecret, payload, signatureHeader, s.tolerance)
}

// mapStripeError folds SDK errors onto the domain errors.
func mapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	switch {
	case se.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, se.Msg)
	case se.HTTPStatusCode == http.StatusBadRequest && se.Type == stripe.ErrorTypeInvalidRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, se.Msg)
	default:
		return fmt.Errorf("%w: stripe http %d: %s", domain.ErrGateway, se.HTTPStatusCode, se.Msg)
	}
}

func intentToModel(i *stripe.PaymentIntent) *model.PaymentIntent {
	cur := strings.ToUpper(string(i.Currency))
	return &model.PaymentIntent{
		ID:           i.ID,
		ClientSecret: i.ClientSecret,
		Status:       mapIntentStatus(i.Status),
		Amount:       FromMinorUnits(i.Amount, cur),
		Currency:     cur,
		Metadata: model.IntentMetadata{
			OrderID:           i.Metadata[metaOrderID],
			UserID:            i.Metadata[metaUserID],
			PackageTemplateID: i.Metadata[metaTemplateID],
		},
	}
}

// mapIntentStatus folds Stripe's intent statuses onto the order mirror.
// Every requires_* state is still waiting on the customer.
func mapIntentStatus(s stripe.PaymentIntentStatus) model.PaymentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return model.PaymentStatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return model.PaymentStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return model.PaymentStatusCanceled
	default:
		return model.PaymentStatusPending
	}
}

// ToMinorUnits converts 25.99 USD to 2599 and 1001 JPY to 1001.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(model.MinorExponent(currency)).Round(0).IntPart()
}

func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -model.MinorExponent(currency))
}

// stripeLogger routes SDK logs through zerolog. Request lines are demoted
// to debug; the SDK logs every call at info.
type stripeLogger struct {
	log zerolog.Logger
}

func newStripeLogger(logger *zerolog.Logger) stripe.LeveledLoggerInterface {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "stripe").Logger()
	}
	return &stripeLogger{log: l}
}

func (l *stripeLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l *stripeLogger) Infof(format string, v ...interface{})  { l.log.Debug().Msgf(format, v...) }
func (l *stripeLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l *stripeLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }
