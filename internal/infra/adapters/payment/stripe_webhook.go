package payment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
)

const DefaultWebhookTolerance = webhook.DefaultTolerance

// SignPayload produces a Stripe-Signature header value for payload.
func SignPayload(secret string, payload []byte, ts time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}

// verifyAndParse never looks at the payload contents before the
// signature has been checked. Any v1 entry may match, which lets the
// secret be rolled. Events rendered with another API version are accepted;
// only the intent fields below are read.
func verifyAndParse(secret string, payload []byte, header string, tolerance time.Duration) (*model.WebhookEvent, error) {
	if secret == "" || header == "" {
		return nil, domain.ErrAuthenticity
	}
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	ev, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthenticity, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: malformed event", domain.ErrAuthenticity)
	}
	out := &model.WebhookEvent{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Created: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: malformed event object: %v", domain.ErrAuthenticity, err)
	}
	if pi.Object == "" || pi.Object == "payment_intent" {
		out.Intent = *intentToModel(&pi)
	}
	return out, nil
}
