//go:build !integration

package apiv1_test

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/infra/worker"
	"esim-reseller/internal/usecase"
)

var errNotMocked = errors.New("not mocked")

// mockOrderUC implements usecase.OrderUseCase with optional function fields.
type mockOrderUC struct {
	CreateFunc       func(ctx context.Context, userID string, in usecase.CreateOrderInput) (*model.Order, error)
	CreateTopupFunc  func(ctx context.Context, userID string, in usecase.CreateOrderInput) (*model.Order, error)
	GetFunc          func(ctx context.Context, id string) (*model.Order, error)
	GetForUserFunc   func(ctx context.Context, userID, id string) (*model.Order, error)
	ListFunc         func(ctx context.Context, userID string, all bool, offset, limit int) ([]*model.Order, error)
	UpdateFunc       func(ctx context.Context, id string, in usecase.UpdateOrderInput) (*model.Order, error)
	CancelFunc       func(ctx context.Context, userID string, isAdmin bool, id string) (*model.Order, error)
	ProcessOrderFunc func(ctx context.Context, id string) (*model.Order, error)
	ProcessTopupFunc func(ctx context.Context, id string) (*model.Order, error)
	CheckCarrierFunc func(ctx context.Context) (time.Duration, error)
}

func (m *mockOrderUC) Create(ctx context.Context, userID string, in usecase.CreateOrderInput) (*model.Order, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, in)
	}
	return nil, errNotMocked
}

func (m *mockOrderUC) CreateTopup(ctx context.Context, userID string, in usecase.CreateOrderInput) (*model.Order, error) {
	if m.CreateTopupFunc != nil {
		return m.CreateTopupFunc(ctx, userID, in)
	}
	return nil, errNotMocked
}

func (m *mockOrderUC) Get(ctx context.Context, id string) (*model.Order, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, errNotMocked
}

func (m *mockOrderUC) GetForUser(ctx context.Context, userID, id string) (*model.Order, error) {
	if m.GetForUserFunc != nil {
		return m.GetForUserFunc(ctx, userID, id)
	}
	return nil, errNotMocked
}

func (m *mockOrderUC) List(ctx context.Context, userID string, all bool, offset, limit int) ([]*model.Order, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID, all, offset, limit)
	}
	return nil, errNotMocked
}

func (m *mockOrderUC) Update(ctx context.Context, id string, in usecase.UpdateOrderInput) (*model.Order, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, in)
	}
	return nil, errNotMocked
}

func (m *mockOrderUC) AttachIntent(ctx context.Context, orderID, intentID string) (*model.Order, error) {
	return nil, errNotMocked
}

func (m *mockOrderUC) ConfirmAndProcess(ctx context.Context, orderID string) (*model.Order, error) {
	return nil, errNotMocked
}

func (m *mockOrderUC) ConfirmIntent(ctx context.Context, intent *model.PaymentIntent) (*model.Order, error) {
	return nil, errNotMocked
}

func (m *mockOrderUC) OnPaymentWebhook(ctx context.Context, ev *model.WebhookEvent) (*model.Order, error) {
	return nil, errNotMocked
}

func (m *mockOrderUC) MirrorPaymentStatus(ctx context.Context, intent *model.PaymentIntent) (*model.Order, error) {
	return nil, errNotMocked
}

func (m *mockOrderUC) Cancel(ctx context.Context, userID string, isAdmin bool, id string) (*model.Order, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, userID, isAdmin, id)
	}
	return nil, errNotMocked
}

func (m *mockOrderUC) ProcessOrder(ctx context.Context, id string) (*model.Order, error) {
	if m.ProcessOrderFunc != nil {
		return m.ProcessOrderFunc(ctx, id)
	}
	return nil, errNotMocked
}

func (m *mockOrderUC) ProcessTopup(ctx context.Context, id string) (*model.Order, error) {
	if m.ProcessTopupFunc != nil {
		return m.ProcessTopupFunc(ctx, id)
	}
	return nil, errNotMocked
}

func (m *mockOrderUC) ReconcileAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	return 0, errNotMocked
}

func (m *mockOrderUC) CheckCarrier(ctx context.Context) (time.Duration, error) {
	if m.CheckCarrierFunc != nil {
		return m.CheckCarrierFunc(ctx)
	}
	return 0, errNotMocked
}

type mockPaymentUC struct {
	CreateIntentFunc func(ctx context.Context, userID, orderID string, amount decimal.Decimal, currency string) (*model.PaymentIntent, *model.Order, error)
	ConfirmFunc      func(ctx context.Context, userID, intentID string) (*model.Order, error)
}

func (m *mockPaymentUC) CreateIntent(ctx context.Context, userID, orderID string, amount decimal.Decimal, currency string) (*model.PaymentIntent, *model.Order, error) {
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, userID, orderID, amount, currency)
	}
	return nil, nil, errNotMocked
}

func (m *mockPaymentUC) Confirm(ctx context.Context, userID, intentID string) (*model.Order, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, userID, intentID)
	}
	return nil, errNotMocked
}

type mockWebhookUC struct {
	IngestFunc func(ctx context.Context, payload []byte, signature string) (*model.WebhookEvent, bool, error)
	HandleFunc func(ctx context.Context, ev *model.WebhookEvent) error
}

func (m *mockWebhookUC) Ingest(ctx context.Context, payload []byte, signature string) (*model.WebhookEvent, bool, error) {
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, payload, signature)
	}
	return nil, false, errNotMocked
}

func (m *mockWebhookUC) Handle(ctx context.Context, ev *model.WebhookEvent) error {
	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, ev)
	}
	return errNotMocked
}

// mockPool records submitted tasks instead of running them.
type mockPool struct {
	tasks []worker.Task
	err   error
}

func (p *mockPool) Submit(task worker.Task) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}
