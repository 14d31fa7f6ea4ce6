package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus mirrors the processor-side intent status on the order.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCanceled   PaymentStatus = "canceled"
)

// IntentMetadata is attached to every intent so confirm and webhook calls
// can be correlated back to the order without a lookup table.
type IntentMetadata struct {
	OrderID           string
	UserID            string
	PackageTemplateID string
}

// PaymentIntent is the processor's authoritative view of a charge.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       PaymentStatus
	Amount       decimal.Decimal
	Currency     string
	Metadata     IntentMetadata
}

func (p *PaymentIntent) Succeeded() bool { return p != nil && p.Status == PaymentStatusSucceeded }

const (
	EventPaymentSucceeded  = "payment_intent.succeeded"
	EventPaymentFailed     = "payment_intent.payment_failed"
	EventPaymentCanceled   = "payment_intent.canceled"
	EventPaymentProcessing = "payment_intent.processing"
)

// WebhookEvent is a verified processor notification.
type WebhookEvent struct {
	ID      string
	Type    string
	Created time.Time
	Intent  PaymentIntent
}

// OrderEvent is published when an order reaches an end state.
type OrderEvent struct {
	Type        string      `json:"type"`
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      string      `json:"user_id"`
	OrderType   OrderType   `json:"order_type"`
	Status      OrderStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

func NewOrderEvent(o *Order) OrderEvent {
	return OrderEvent{
		Type:        "order." + strings.ToLower(string(o.Status)),
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		OrderType:   o.Type,
		Status:      o.Status,
		Error:       o.ErrorMessage,
		OccurredAt:  time.Now().UTC(),
	}
}
