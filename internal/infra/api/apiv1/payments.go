package apiv1

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/infra/api"
	"esim-reseller/internal/infra/logging"
	"esim-reseller/internal/infra/metrics"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBytes = 256 << 10
)

func (s *Server) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		api.WriteError(w, http.StatusBadRequest, "orderId is required")
		return
	}
	intent, o, err := s.payments.CreateIntent(r.Context(), caller(r).UserID, req.OrderID, req.Amount, req.Currency)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, createIntentResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Order:           toOrderResponse(o),
	})
}

func (s *Server) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PaymentIntentID) == "" {
		api.WriteError(w, http.StatusBadRequest, "paymentIntentId is required")
		return
	}
	o, err := s.payments.Confirm(r.Context(), caller(r).UserID, req.PaymentIntentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, confirmPaymentResponse{
		Success:       o.Status == model.OrderStatusCompleted,
		PaymentStatus: o.PaymentStatus,
		Order:         toOrderResponse(o),
	})
}

// PaymentWebhook verifies the event on the request path and hands the state
// machine work to the pool. Trust comes from the signature alone.
func (s *Server) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(payload) > maxWebhookBytes {
		metrics.IncWebhookEvent("rejected")
		api.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	ev, duplicate, err := s.webhooks.Ingest(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrAuthenticity) {
			metrics.IncWebhookEvent("rejected")
		} else {
			metrics.IncWebhookEvent("error")
		}
		s.fail(w, r, err)
		return
	}
	if duplicate {
		metrics.IncWebhookEvent("duplicate")
		api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	metrics.IncWebhookEvent("verified")

	traceID := logging.TraceID(r.Context())
	task := func(ctx context.Context) error {
		err := s.webhooks.Handle(logging.WithTraceID(ctx, traceID), ev)
		if err != nil {
			metrics.IncWebhookEvent("error")
			return err
		}
		metrics.IncWebhookEvent("handled")
		return nil
	}

	if s.pool == nil || s.pool.Submit(task) != nil {
		// saturated or no pool: handle inline, detached from client disconnects
		if err := task(context.WithoutCancel(r.Context())); err != nil {
			logging.With(r.Context(), s.log).Error().Err(err).Str("event_id", ev.ID).Msg("webhook handling failed")
			api.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
