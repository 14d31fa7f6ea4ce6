//go:build !integration

package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockReconciler struct {
	calls  int32
	cutoff atomic.Value
	err    error
}

func (m *mockReconciler) ReconcileAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	atomic.AddInt32(&m.calls, 1)
	m.cutoff.Store(olderThan)
	return 1, m.err
}

func TestOrderReconciler(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("should do nothing when no interval is set", func(t *testing.T) {
		m := &mockReconciler{}
		r := NewOrderReconciler(m, 0, time.Minute, &logger)

		if err := r.Run(context.Background()); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		if m.calls != 0 {
			t.Error("a disabled reconciler must not run")
		}
	})

	t.Run("should reconcile orders older than the stale cutoff on every tick", func(t *testing.T) {
		// --- Arrange ---
		m := &mockReconciler{}
		r := NewOrderReconciler(m, 10*time.Millisecond, 15*time.Minute, &logger)
		ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
		defer cancel()

		// --- Act ---
		err := r.Run(ctx)

		// --- Assert ---
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected the context error, got %v", err)
		}
		if atomic.LoadInt32(&m.calls) < 2 {
			t.Fatalf("expected several ticks, got %d", m.calls)
		}
		cutoff := m.cutoff.Load().(time.Time)
		if age := time.Since(cutoff); age < 15*time.Minute || age > 16*time.Minute {
			t.Errorf("unexpected cutoff age %v", age)
		}
	})

	t.Run("should keep running after a failed tick", func(t *testing.T) {
		m := &mockReconciler{err: errors.New("db down")}
		r := NewOrderReconciler(m, 10*time.Millisecond, time.Minute, &logger)
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Millisecond)
		defer cancel()

		_ = r.Run(ctx)

		if atomic.LoadInt32(&m.calls) < 2 {
			t.Fatalf("expected ticks to continue after an error, got %d", m.calls)
		}
	})
}
