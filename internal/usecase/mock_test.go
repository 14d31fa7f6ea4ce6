//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/adapter"
	"esim-reseller/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func ptr[T any](v T) *T { return &v }

// =============================
// Repositories
// =============================

// ---- Mock OrderRepository ----

// MockOrderRepo is an in-memory store whose Transition is a real
// compare-and-swap under a mutex, so concurrent tests exercise the same
// single-winner semantics as the SQL backends.
type MockOrderRepo struct {
	mu   sync.Mutex
	data map[string]*model.Order

	CreateFunc     func(ctx context.Context, tx repository.Tx, o *model.Order) error
	TransitionFunc func(ctx context.Context, tx repository.Tx, id string, expected, next model.OrderStatus, patch model.OrderPatch) (bool, error)

	Transitions []string // "FROM->TO" for every applied transition
}

var _ repository.OrderRepository = (*MockOrderRepo)(nil)

func NewMockOrderRepo() *MockOrderRepo {
	return &MockOrderRepo{data: map[string]*model.Order{}}
}

// Seed stores o as-is, bypassing validation.
func (r *MockOrderRepo) Seed(o *model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.data[o.ID] = &cp
}

func (r *MockOrderRepo) Create(ctx context.Context, tx repository.Tx, o *model.Order) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, o)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[o.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *o
	r.data[o.ID] = &cp
	return nil
}

func (r *MockOrderRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MockOrderRepo) list(filter func(*model.Order) bool, less func(a, b *model.Order) bool, offset, limit int) []*model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Order
	for _, o := range r.data {
		if filter(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// newestFirst matches ORDER BY created_at DESC in the SQL stores.
func newestFirst(a, b *model.Order) bool { return a.CreatedAt.After(b.CreatedAt) }

// leastRecentlyUpdated matches ORDER BY updated_at ASC in the SQL stores.
func leastRecentlyUpdated(a, b *model.Order) bool { return a.UpdatedAt.Before(b.UpdatedAt) }

func (r *MockOrderRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, offset, limit int) ([]*model.Order, error) {
	return r.list(func(o *model.Order) bool { return o.UserID == userID }, newestFirst, offset, limit), nil
}

func (r *MockOrderRepo) ListAll(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.Order, error) {
	return r.list(func(*model.Order) bool { return true }, newestFirst, offset, limit), nil
}

func (r *MockOrderRepo) Transition(ctx context.Context, tx repository.Tx, id string, expected, next model.OrderStatus, patch model.OrderPatch) (bool, error) {
	if r.TransitionFunc != nil {
		return r.TransitionFunc(ctx, tx, id, expected, next, patch)
	}
	if !model.CanTransition(expected, next) {
		return false, domain.ErrInvalidStateTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.data[id]
	if !ok || o.Status != expected {
		return false, nil
	}
	o.Apply(next, patch)
	o.UpdatedAt = time.Now()
	r.Transitions = append(r.Transitions, string(expected)+"->"+string(next))
	return true, nil
}

func (r *MockOrderRepo) ReclaimProcessing(ctx context.Context, tx repository.Tx, id string, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.data[id]
	if !ok || o.Status != model.OrderStatusProcessing || !o.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	o.UpdatedAt = time.Now()
	return true, nil
}

func (r *MockOrderRepo) ListAwaitingPaymentOlderThan(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.Order, error) {
	return r.list(func(o *model.Order) bool {
		return o.Status == model.OrderStatusAwaitingPayment && o.UpdatedAt.Before(before)
	}, leastRecentlyUpdated, 0, limit), nil
}

// SetUpdatedAt backdates an order for staleness tests.
func (r *MockOrderRepo) SetUpdatedAt(id string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[id].UpdatedAt = t
}

// ---- Mock PackageTemplateRepository ----

type MockTemplateRepo struct {
	mu   sync.Mutex
	data map[string]*model.PackageTemplate
}

var _ repository.PackageTemplateRepository = (*MockTemplateRepo)(nil)

func NewMockTemplateRepo(ts ...*model.PackageTemplate) *MockTemplateRepo {
	r := &MockTemplateRepo{data: map[string]*model.PackageTemplate{}}
	for _, t := range ts {
		r.data[t.ID] = t
	}
	return r
}

func (r *MockTemplateRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PackageTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	mu      sync.Mutex
	intents map[string]*model.PaymentIntent

	CreateIntentFunc func(ctx context.Context, amount decimal.Decimal, currency string, meta model.IntentMetadata, key string) (*model.PaymentIntent, error)
	GetIntentFunc    func(ctx context.Context, id string) (*model.PaymentIntent, error)
	CancelIntentFunc func(ctx context.Context, id string) (*model.PaymentIntent, error)
	VerifyFunc       func(payload []byte, header string) (*model.WebhookEvent, error)

	GetIntentCalls    atomic.Int32
	CancelIntentCalls atomic.Int32
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func NewMockPaymentGateway() *MockPaymentGateway {
	return &MockPaymentGateway{intents: map[string]*model.PaymentIntent{}}
}

func (m *MockPaymentGateway) Name() string { return "mockpay" }

func (m *MockPaymentGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, meta model.IntentMetadata, key string) (*model.PaymentIntent, error) {
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, amount, currency, meta, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range m.intents {
		if in.Metadata.OrderID == key {
			cp := *in
			return &cp, nil
		}
	}
	in := &model.PaymentIntent{
		ID:           "pi_" + uuid.NewString()[:8],
		ClientSecret: "secret_" + key,
		Status:       model.PaymentStatusPending,
		Amount:       amount,
		Currency:     currency,
		Metadata:     meta,
	}
	m.intents[in.ID] = in
	cp := *in
	return &cp, nil
}

func (m *MockPaymentGateway) GetIntent(ctx context.Context, id string) (*model.PaymentIntent, error) {
	m.GetIntentCalls.Add(1)
	if m.GetIntentFunc != nil {
		return m.GetIntentFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

// CancelIntent behaves like the processor: only unpaid intents can be cancelled.
func (m *MockPaymentGateway) CancelIntent(ctx context.Context, id string) (*model.PaymentIntent, error) {
	m.CancelIntentCalls.Add(1)
	if m.CancelIntentFunc != nil {
		return m.CancelIntentFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if in.Status == model.PaymentStatusSucceeded || in.Status == model.PaymentStatusCanceled {
		return nil, domain.ErrInvalidArgument
	}
	in.Status = model.PaymentStatusCanceled
	cp := *in
	return &cp, nil
}

func (m *MockPaymentGateway) VerifyWebhookSignature(payload []byte, header string) (*model.WebhookEvent, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(payload, header)
	}
	return nil, domain.ErrAuthenticity
}

// SetStatus simulates the processor moving an intent.
func (m *MockPaymentGateway) SetStatus(id string, s model.PaymentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[id].Status = s
}

// PutIntent registers an intent directly.
func (m *MockPaymentGateway) PutIntent(in *model.PaymentIntent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.intents[in.ID] = &cp
}

// ---- Mock CarrierClient ----

type MockCarrier struct {
	GetSubscriberFunc func(ctx context.Context, hints model.SubscriberHints) (*model.Subscriber, error)
	AllocateFunc      func(ctx context.Context, templateID string, hints model.SubscriberHints, cfg model.PackageConfig) (*model.ProvisionResult, error)
	TopUpFunc         func(ctx context.Context, subscriberID int64, templateID string, cfg model.PackageConfig) (*model.ProvisionResult, error)
	PingFunc          func(ctx context.Context) error

	AllocateCalls atomic.Int32
	TopUpCalls    atomic.Int32
}

var _ adapter.CarrierClient = (*MockCarrier)(nil)

func completeResult(subscriberID int64) *model.ProvisionResult {
	return &model.ProvisionResult{
		SubscriberID:   subscriberID,
		SubsPackageID:  subscriberID*10 + 1,
		EsimID:         subscriberID*100 + 7,
		IMSI:           "214070000000" + strconv.FormatInt(subscriberID, 10),
		ICCID:          "8934070000000000" + strconv.FormatInt(subscriberID, 10),
		MSISDN:         "3460000" + strconv.FormatInt(subscriberID, 10),
		SmdpServer:     "smdp.example.net",
		ActivationCode: "LPA:1$smdp.example.net$ACT-" + strconv.FormatInt(subscriberID, 10),
		URLQrCode:      "https://qr.example.net/" + strconv.FormatInt(subscriberID, 10) + ".png",
	}
}

func (m *MockCarrier) GetSubscriber(ctx context.Context, hints model.SubscriberHints) (*model.Subscriber, error) {
	if m.GetSubscriberFunc != nil {
		return m.GetSubscriberFunc(ctx, hints)
	}
	return nil, domain.ErrSubscriberNotFound
}

func (m *MockCarrier) AllocateAndProvision(ctx context.Context, templateID string, hints model.SubscriberHints, cfg model.PackageConfig) (*model.ProvisionResult, error) {
	m.AllocateCalls.Add(1)
	if m.AllocateFunc != nil {
		return m.AllocateFunc(ctx, templateID, hints, cfg)
	}
	return completeResult(4242), nil
}

func (m *MockCarrier) TopUp(ctx context.Context, subscriberID int64, templateID string, cfg model.PackageConfig) (*model.ProvisionResult, error) {
	m.TopUpCalls.Add(1)
	if m.TopUpFunc != nil {
		return m.TopUpFunc(ctx, subscriberID, templateID, cfg)
	}
	return completeResult(subscriberID), nil
}

func (m *MockCarrier) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// ---- Mock OrderEventPublisher ----

type MockPublisher struct {
	mu     sync.Mutex
	Events []model.OrderEvent
	Err    error
}

var _ adapter.OrderEventPublisher = (*MockPublisher)(nil)

func (p *MockPublisher) Publish(ctx context.Context, ev model.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, ev)
	return p.Err
}

func (p *MockPublisher) Close() error { return nil }

func (p *MockPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.Events))
	for _, e := range p.Events {
		out = append(out, e.Type)
	}
	return out
}

// ---- Mock EventDeduper ----

type MockDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	Err  error
}

var _ adapter.EventDeduper = (*MockDeduper)(nil)

func NewMockDeduper() *MockDeduper { return &MockDeduper{seen: map[string]bool{}} }

func (d *MockDeduper) Seen(ctx context.Context, id string) (bool, error) {
	if d.Err != nil {
		return false, d.Err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *MockDeduper) Mark(ctx context.Context, id string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = true
	return nil
}
