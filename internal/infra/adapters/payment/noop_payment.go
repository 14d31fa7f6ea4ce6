package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

const noopWebhookSecret = "whsec_noop"

// NoopPaymentGateway is an in-memory gateway for dev mode and tests. With
// autoSucceed every intent reads back as succeeded, so the confirm flow
// completes without a real processor.
type NoopPaymentGateway struct {
	mu          sync.Mutex
	seq         int64
	intents     map[string]*model.PaymentIntent
	byKey       map[string]string // idempotency key -> intent id
	secret      string
	autoSucceed bool
}

func NewNoopPaymentGateway(webhookSecret string, autoSucceed bool) *NoopPaymentGateway {
	if webhookSecret == "" {
		webhookSecret = noopWebhookSecret
	}
	return &NoopPaymentGateway{
		intents:     make(map[string]*model.PaymentIntent),
		byKey:       make(map[string]string),
		secret:      webhookSecret,
		autoSucceed: autoSucceed,
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next() string {
	g.seq++
	return fmt.Sprintf("pi_noop_%d", g.seq)
}

func (g *NoopPaymentGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, meta model.IntentMetadata, idempotencyKey string) (*model.PaymentIntent, error) {
	if !amount.IsPositive() || len(currency) != 3 {
		return nil, domain.ErrInvalidArgument
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.byKey[idempotencyKey]; ok && idempotencyKey != "" {
		return g.copyOf(id), nil
	}
	id := g.next()
	g.intents[id] = &model.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       model.PaymentStatusPending,
		Amount:       amount,
		Currency:     strings.ToUpper(currency),
		Metadata:     meta,
	}
	if idempotencyKey != "" {
		g.byKey[idempotencyKey] = id
	}
	return g.copyOf(id), nil
}

func (g *NoopPaymentGateway) GetIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.intents[intentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if g.autoSucceed && pi.Status == model.PaymentStatusPending {
		pi.Status = model.PaymentStatusSucceeded
	}
	return g.copyOf(intentID), nil
}

// SetStatus moves an intent as the customer or processor would.
func (g *NoopPaymentGateway) SetStatus(intentID string, status model.PaymentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.intents[intentID]
	if !ok {
		return domain.ErrNotFound
	}
	pi.Status = status
	return nil
}

// CancelIntent follows the processor: succeeded or canceled intents
// cannot be cancelled.
func (g *NoopPaymentGateway) CancelIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.intents[intentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if pi.Status == model.PaymentStatusSucceeded || pi.Status == model.PaymentStatusCanceled {
		return nil, fmt.Errorf("intent %s is %s: %w", intentID, pi.Status, domain.ErrInvalidArgument)
	}
	pi.Status = model.PaymentStatusCanceled
	return g.copyOf(intentID), nil
}

func (g *NoopPaymentGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) (*model.WebhookEvent, error) {
	return verifyAndParse(g.secret, payload, signatureHeader, DefaultWebhookTolerance)
}

// SignedEvent builds a signed webhook for the stored intent, shaped like
// the processor's payload.
func (g *NoopPaymentGateway) SignedEvent(eventID, eventType, intentID string) (payload []byte, signature string, err error) {
	g.mu.Lock()
	pi, ok := g.intents[intentID]
	var obj map[string]any
	if ok {
		obj = map[string]any{
			"id":            pi.ID,
			"object":        "payment_intent",
			"amount":        ToMinorUnits(pi.Amount, pi.Currency),
			"currency":      strings.ToLower(pi.Currency),
			"status":        string(pi.Status),
			"client_secret": pi.ClientSecret,
			"metadata": map[string]string{
				metaOrderID:    pi.Metadata.OrderID,
				metaUserID:     pi.Metadata.UserID,
				metaTemplateID: pi.Metadata.PackageTemplateID,
			},
		}
	}
	g.mu.Unlock()
	if !ok {
		return nil, "", domain.ErrNotFound
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, "", err
	}
	payload, err = json.Marshal(stripe.Event{
		ID:         eventID,
		Object:     "event",
		Type:       stripe.EventType(eventType),
		Created:    time.Now().Unix(),
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: raw},
	})
	if err != nil {
		return nil, "", err
	}
	return payload, SignPayload(g.secret, payload, time.Now()), nil
}

func (g *NoopPaymentGateway) copyOf(id string) *model.PaymentIntent {
	cp := *g.intents[id]
	return &cp
}
