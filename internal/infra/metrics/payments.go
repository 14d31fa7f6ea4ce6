package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		paymentGatewayCalls,
		paymentGatewayDuration,
		webhookEventsTotal,
	)
}

var (
	paymentGatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_calls_total",
			Help: "Calls to the payment processor by operation and result.",
		},
		[]string{"provider", "op", "result"}, // op: create_intent|get_intent, result: ok|error
	)

	paymentGatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_duration_seconds",
			Help:    "Latency of payment processor calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"provider", "op"},
	)

	// result: verified|rejected|duplicate|handled|error
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Inbound payment webhooks by result.",
		},
		[]string{"result"},
	)
)

func ObservePaymentCall(provider, op string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	paymentGatewayCalls.WithLabelValues(norm(provider), op, result).Inc()
	paymentGatewayDuration.WithLabelValues(norm(provider), op).Observe(time.Since(started).Seconds())
}

func IncWebhookEvent(result string) {
	webhookEventsTotal.WithLabelValues(norm(result)).Inc()
}
