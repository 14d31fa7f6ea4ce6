package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const reconcileBatch = 200

// AwaitingPaymentReconciler is the part of the order use case the
// reconciler drives.
type AwaitingPaymentReconciler interface {
	ReconcileAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// OrderReconciler periodically re-runs the payment confirm path for orders
// stuck in AWAITING_PAYMENT, covering webhooks that never arrived. It never
// touches orders that already reached the carrier.
type OrderReconciler struct {
	uc         AwaitingPaymentReconciler
	interval   time.Duration
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewOrderReconciler(uc AwaitingPaymentReconciler, interval, staleAfter time.Duration, logger *zerolog.Logger) *OrderReconciler {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	compLog := logger.With().Str("component", "OrderReconciler").Logger()
	return &OrderReconciler{uc: uc, interval: interval, staleAfter: staleAfter, log: &compLog}
}

// Enabled is false when no interval is configured.
func (w *OrderReconciler) Enabled() bool { return w.interval > 0 }

func (w *OrderReconciler) Run(ctx context.Context) error {
	if !w.Enabled() {
		return nil
	}
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("Starting order reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping order reconciler")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *OrderReconciler) tick(ctx context.Context) {
	n, err := w.uc.ReconcileAwaitingPayment(ctx, time.Now().Add(-w.staleAfter), reconcileBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("reconcile awaiting payment failed")
		return
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("orders reconciled")
	}
}
