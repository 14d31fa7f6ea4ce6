//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/usecase"
)

const (
	testUser     = "user-1"
	testTemplate = "234593"
)

type orderUCTestDeps struct {
	orders    *MockOrderRepo
	templates *MockTemplateRepo
	gateway   *MockPaymentGateway
	carrier   *MockCarrier
	events    *MockPublisher
	uc        usecase.OrderUseCase
}

func newOrderUCDeps(carrierTimeout time.Duration) *orderUCTestDeps {
	d := &orderUCTestDeps{
		orders: NewMockOrderRepo(),
		templates: NewMockTemplateRepo(
			&model.PackageTemplate{ID: testTemplate, Name: "Europe 10GB", Price: decimal.RequireFromString("25.99"), Currency: "USD", Active: true},
			&model.PackageTemplate{ID: "retired", Name: "Old plan", Active: false},
		),
		gateway: NewMockPaymentGateway(),
		carrier: &MockCarrier{},
		events:  &MockPublisher{},
	}
	d.uc = usecase.NewOrderUseCase(d.orders, d.templates, d.gateway, d.carrier, d.events, usecase.OrderConfig{
		CarrierTimeout:       carrierTimeout,
		ProcessingStaleAfter: time.Minute,
		SimNamePrefix:        "Sparks",
	}, newTestLogger())
	return d
}

func oneTimeInput() usecase.CreateOrderInput {
	return usecase.CreateOrderInput{
		PackageTemplateID: testTemplate,
		Type:              model.OrderTypeOneTime,
		Amount:            decimal.RequireFromString("25.99"),
		Currency:          "USD",
	}
}

// awaitingPayment creates an order and attaches a fresh intent to it.
func awaitingPayment(t *testing.T, d *orderUCTestDeps) *model.Order {
	t.Helper()
	ctx := context.Background()
	o, err := d.uc.Create(ctx, testUser, oneTimeInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	in, err := d.gateway.CreateIntent(ctx, o.Amount, o.Currency, model.IntentMetadata{OrderID: o.ID, UserID: o.UserID, PackageTemplateID: o.PackageTemplateID}, o.ID)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	o, err = d.uc.AttachIntent(ctx, o.ID, in.ID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	return o
}

func TestOrderUseCase_HappyPath(t *testing.T) {
	ctx := context.Background()

	t.Run("should walk a one-time order from PENDING to COMPLETED", func(t *testing.T) {
		// --- Arrange ---
		d := newOrderUCDeps(time.Second)

		// --- Act & Assert: create ---
		o, err := d.uc.Create(ctx, testUser, oneTimeInput())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if o.Status != model.OrderStatusPending {
			t.Fatalf("expected PENDING, got %s", o.Status)
		}
		if !strings.HasPrefix(o.OrderNumber, "ORD-") {
			t.Errorf("unexpected order number %q", o.OrderNumber)
		}

		// --- attach ---
		in, _ := d.gateway.CreateIntent(ctx, o.Amount, o.Currency, model.IntentMetadata{OrderID: o.ID, UserID: testUser}, o.ID)
		o, err = d.uc.AttachIntent(ctx, o.ID, in.ID)
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		if o.Status != model.OrderStatusAwaitingPayment || o.PaymentIntentID != in.ID {
			t.Fatalf("expected AWAITING_PAYMENT with intent, got %s/%q", o.Status, o.PaymentIntentID)
		}

		// --- processor reports success, confirm ---
		d.gateway.SetStatus(in.ID, model.PaymentStatusSucceeded)
		o, err = d.uc.ConfirmAndProcess(ctx, o.ID)

		// --- Assert ---
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if o.Status != model.OrderStatusCompleted {
			t.Fatalf("expected COMPLETED, got %s (%s)", o.Status, o.ErrorMessage)
		}
		if o.EsimID == nil || o.URLQrCode == "" || !o.HasProvisioningOutput() {
			t.Errorf("expected provisioning outputs, got %+v", o)
		}
		if o.UserSimName != "Sparks_4242" {
			t.Errorf("expected default sim name, got %q", o.UserSimName)
		}
		stored, _ := d.orders.FindByID(ctx, nil, o.ID)
		if stored.Status != model.OrderStatusCompleted || !stored.HasProvisioningOutput() {
			t.Errorf("stored order not completed: %+v", stored)
		}
		want := []string{"PENDING->AWAITING_PAYMENT", "AWAITING_PAYMENT->PROCESSING", "PROCESSING->COMPLETED"}
		if fmt.Sprint(d.orders.Transitions) != fmt.Sprint(want) {
			t.Errorf("expected transitions %v, got %v", want, d.orders.Transitions)
		}
		if types := d.events.Types(); len(types) != 1 || types[0] != "order.completed" {
			t.Errorf("expected one order.completed event, got %v", types)
		}
	})

	t.Run("should provision even when the caller went away", func(t *testing.T) {
		// --- Arrange ---
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		d.gateway.SetStatus(o.PaymentIntentID, model.PaymentStatusSucceeded)
		d.carrier.AllocateFunc = func(ctx context.Context, _ string, _ model.SubscriberHints, _ model.PackageConfig) (*model.ProvisionResult, error) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return completeResult(7), nil
		}
		cctx, cancel := context.WithCancel(ctx)

		// --- Act ---
		cancel()
		got, err := d.uc.ConfirmAndProcess(cctx, o.ID)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.OrderStatusCompleted {
			t.Errorf("expected COMPLETED, got %s (%s)", got.Status, got.ErrorMessage)
		}
	})
}

func TestOrderUseCase_Confirm(t *testing.T) {
	ctx := context.Background()

	t.Run("should leave the order untouched when payment has not succeeded", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)

		_, err := d.uc.ConfirmAndProcess(ctx, o.ID)

		if !errors.Is(err, domain.ErrPaymentNotConfirmed) {
			t.Fatalf("expected ErrPaymentNotConfirmed, got %v", err)
		}
		stored, _ := d.orders.FindByID(ctx, nil, o.ID)
		if stored.Status != model.OrderStatusAwaitingPayment || stored.PaymentStatus != model.PaymentStatusPending {
			t.Errorf("order was modified: %s/%s", stored.Status, stored.PaymentStatus)
		}
		if d.carrier.AllocateCalls.Load() != 0 {
			t.Error("carrier must not be called")
		}
	})

	t.Run("should reject an intent whose amount differs from the order", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		d.gateway.PutIntent(&model.PaymentIntent{
			ID: o.PaymentIntentID, Status: model.PaymentStatusSucceeded,
			Amount: decimal.RequireFromString("1.00"), Currency: "USD",
			Metadata: model.IntentMetadata{OrderID: o.ID, UserID: testUser},
		})

		_, err := d.uc.ConfirmAndProcess(ctx, o.ID)

		if !errors.Is(err, domain.ErrPaymentNotConfirmed) {
			t.Fatalf("expected ErrPaymentNotConfirmed, got %v", err)
		}
	})

	t.Run("should reject confirm on a PENDING order", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o, _ := d.uc.Create(ctx, testUser, oneTimeInput())

		_, err := d.uc.ConfirmAndProcess(ctx, o.ID)

		if !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("should return a completed order as-is without asking the processor", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		d.gateway.SetStatus(o.PaymentIntentID, model.PaymentStatusSucceeded)
		if _, err := d.uc.ConfirmAndProcess(ctx, o.ID); err != nil {
			t.Fatalf("first confirm: %v", err)
		}
		calls := d.gateway.GetIntentCalls.Load()

		got, err := d.uc.ConfirmAndProcess(ctx, o.ID)

		if err != nil || got.Status != model.OrderStatusCompleted {
			t.Fatalf("expected COMPLETED/nil, got %v/%v", got, err)
		}
		if d.gateway.GetIntentCalls.Load() != calls {
			t.Error("expected no further GetIntent call")
		}
		if d.carrier.AllocateCalls.Load() != 1 {
			t.Errorf("expected one carrier call, got %d", d.carrier.AllocateCalls.Load())
		}
	})

	t.Run("should mirror a failed payment without leaving AWAITING_PAYMENT", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)

		got, err := d.uc.MirrorPaymentStatus(ctx, &model.PaymentIntent{
			ID: o.PaymentIntentID, Status: model.PaymentStatusFailed,
			Metadata: model.IntentMetadata{OrderID: o.ID},
		})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.OrderStatusAwaitingPayment || got.PaymentStatus != model.PaymentStatusFailed {
			t.Errorf("expected AWAITING_PAYMENT/failed, got %s/%s", got.Status, got.PaymentStatus)
		}
	})
}

func TestOrderUseCase_ConcurrentConfirmAndWebhook(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	d := newOrderUCDeps(time.Second)
	o := awaitingPayment(t, d)
	d.gateway.SetStatus(o.PaymentIntentID, model.PaymentStatusSucceeded)
	d.carrier.AllocateFunc = func(ctx context.Context, _ string, _ model.SubscriberHints, _ model.PackageConfig) (*model.ProvisionResult, error) {
		time.Sleep(20 * time.Millisecond)
		return completeResult(11), nil
	}
	ev := &model.WebhookEvent{ID: "evt_1", Type: model.EventPaymentSucceeded, Intent: model.PaymentIntent{ID: o.PaymentIntentID}}

	// --- Act ---
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = d.uc.ConfirmAndProcess(ctx, o.ID)
			} else {
				_, err = d.uc.OnPaymentWebhook(ctx, ev)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	// --- Assert ---
	for err := range errs {
		if err != nil {
			t.Errorf("expected lost races to be no-ops, got %v", err)
		}
	}
	if n := d.carrier.AllocateCalls.Load(); n != 1 {
		t.Fatalf("expected exactly one carrier call, got %d", n)
	}
	stored, _ := d.orders.FindByID(ctx, nil, o.ID)
	if stored.Status != model.OrderStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", stored.Status)
	}
}

func TestOrderUseCase_ProvisioningFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("should mark FAILED on timeout and let an admin re-attempt", func(t *testing.T) {
		// --- Arrange ---
		d := newOrderUCDeps(50 * time.Millisecond)
		o := awaitingPayment(t, d)
		d.gateway.SetStatus(o.PaymentIntentID, model.PaymentStatusSucceeded)
		d.carrier.AllocateFunc = func(ctx context.Context, _ string, _ model.SubscriberHints, _ model.PackageConfig) (*model.ProvisionResult, error) {
			<-ctx.Done()
			return nil, fmt.Errorf("affectPackageToSubscriber: %w", domain.ErrCarrierTimeout)
		}

		// --- Act ---
		got, err := d.uc.ConfirmAndProcess(ctx, o.ID)

		// --- Assert ---
		if err != nil {
			t.Fatalf("provisioning failures are recorded, not returned: %v", err)
		}
		if got.Status != model.OrderStatusFailed {
			t.Fatalf("expected FAILED, got %s", got.Status)
		}
		if !strings.Contains(got.ErrorMessage, "outcome unknown") {
			t.Errorf("expected timeout message, got %q", got.ErrorMessage)
		}
		if got.PaymentStatus != model.PaymentStatusSucceeded {
			t.Errorf("payment must stay succeeded, got %s", got.PaymentStatus)
		}
		if got.HasProvisioningOutput() {
			t.Error("FAILED order must not carry provisioning outputs")
		}

		// --- Act: operator retry ---
		d.carrier.AllocateFunc = nil
		got, err = d.uc.ProcessOrder(ctx, o.ID)

		// --- Assert ---
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if got.Status != model.OrderStatusCompleted || got.ErrorMessage != "" {
			t.Errorf("expected COMPLETED with cleared error, got %s/%q", got.Status, got.ErrorMessage)
		}
		if n := d.carrier.AllocateCalls.Load(); n != 2 {
			t.Errorf("expected two carrier calls, got %d", n)
		}
		if types := d.events.Types(); fmt.Sprint(types) != "[order.failed order.completed]" {
			t.Errorf("unexpected events %v", types)
		}
	})

	t.Run("should treat an incomplete carrier result as a failure", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		d.gateway.SetStatus(o.PaymentIntentID, model.PaymentStatusSucceeded)
		d.carrier.AllocateFunc = func(ctx context.Context, _ string, _ model.SubscriberHints, _ model.PackageConfig) (*model.ProvisionResult, error) {
			r := completeResult(3)
			r.URLQrCode = ""
			return r, nil
		}

		got, err := d.uc.ConfirmAndProcess(ctx, o.ID)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.OrderStatusFailed || got.HasProvisioningOutput() {
			t.Errorf("expected FAILED without outputs, got %s", got.Status)
		}
	})

	t.Run("should only re-dispatch a PROCESSING order once it is stale", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		ok, _ := d.orders.Transition(ctx, nil, o.ID, model.OrderStatusAwaitingPayment, model.OrderStatusProcessing,
			model.OrderPatch{PaymentStatus: ptr(model.PaymentStatusSucceeded)})
		if !ok {
			t.Fatal("setup transition failed")
		}

		_, err := d.uc.ProcessOrder(ctx, o.ID)
		if !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition for fresh PROCESSING, got %v", err)
		}

		d.orders.SetUpdatedAt(o.ID, time.Now().Add(-time.Hour))
		got, err := d.uc.ProcessOrder(ctx, o.ID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.OrderStatusCompleted {
			t.Errorf("expected COMPLETED, got %s", got.Status)
		}
	})

	t.Run("should not re-dispatch a top-up the carrier already applied", func(t *testing.T) {
		// --- Arrange ---
		d := newOrderUCDeps(time.Second)
		d.carrier.GetSubscriberFunc = func(ctx context.Context, h model.SubscriberHints) (*model.Subscriber, error) {
			return &model.Subscriber{ID: *h.SubscriberID, Status: model.SubscriberStatusActive}, nil
		}
		d.carrier.TopUpFunc = func(ctx context.Context, subscriberID int64, _ string, _ model.PackageConfig) (*model.ProvisionResult, error) {
			return &model.ProvisionResult{SubscriberID: subscriberID, SubsPackageID: 9100},
				fmt.Errorf("%w: subscriber %d re-read: bad gateway", domain.ErrCarrierCommitted, subscriberID)
		}
		in := oneTimeInput()
		in.Hints = model.SubscriberHints{SubscriberID: ptr(int64(77))}
		o, err := d.uc.CreateTopup(ctx, testUser, in)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		pi, _ := d.gateway.CreateIntent(ctx, o.Amount, o.Currency, model.IntentMetadata{OrderID: o.ID, UserID: testUser}, o.ID)
		if _, err := d.uc.AttachIntent(ctx, o.ID, pi.ID); err != nil {
			t.Fatalf("attach: %v", err)
		}
		d.gateway.SetStatus(pi.ID, model.PaymentStatusSucceeded)

		// --- Act ---
		got, err := d.uc.ProcessTopup(ctx, o.ID)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.OrderStatusFailed || got.HasProvisioningOutput() {
			t.Fatalf("expected FAILED without outputs, got %s", got.Status)
		}
		if !strings.Contains(got.ErrorMessage, "do not re-dispatch") || !strings.Contains(got.ErrorMessage, "subs_package_id=9100") {
			t.Errorf("expected the committed marker, got %q", got.ErrorMessage)
		}

		// --- Act: operator retry ---
		_, err = d.uc.ProcessTopup(ctx, o.ID)

		// --- Assert ---
		if !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
		if n := d.carrier.TopUpCalls.Load(); n != 1 {
			t.Errorf("expected exactly one top-up call, got %d", n)
		}
	})

	t.Run("should reject ProcessTopup for a one-time order", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)

		_, err := d.uc.ProcessTopup(ctx, o.ID)

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestOrderUseCase_Create(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		mutate  func(*usecase.CreateOrderInput)
		wantErr error
	}{
		{"unknown template", func(in *usecase.CreateOrderInput) { in.PackageTemplateID = "nope" }, domain.ErrNotFound},
		{"inactive template", func(in *usecase.CreateOrderInput) { in.PackageTemplateID = "retired" }, domain.ErrNotFound},
		{"zero amount", func(in *usecase.CreateOrderInput) { in.Amount = decimal.Zero }, domain.ErrInvalidArgument},
		{"bad currency", func(in *usecase.CreateOrderInput) { in.Currency = "dollars" }, domain.ErrInvalidArgument},
		{"bad type", func(in *usecase.CreateOrderInput) { in.Type = "MONTHLY" }, domain.ErrInvalidArgument},
		{"validity out of range", func(in *usecase.CreateOrderInput) { in.Config.ValidityPeriod = ptr(400) }, domain.ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run("should reject "+tc.name, func(t *testing.T) {
			d := newOrderUCDeps(time.Second)
			in := oneTimeInput()
			tc.mutate(&in)

			_, err := d.uc.Create(ctx, testUser, in)

			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	t.Run("should default and normalize the currency", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		in := oneTimeInput()
		in.Currency = ""

		o, err := d.uc.Create(ctx, testUser, in)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if o.Currency != "USD" {
			t.Errorf("expected USD, got %q", o.Currency)
		}
	})
}

func TestOrderUseCase_ZeroDecimalCurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("should round a JPY amount to whole yen on create", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		in := oneTimeInput()
		in.Amount = decimal.RequireFromString("1000.50")
		in.Currency = "jpy"

		o, err := d.uc.Create(ctx, testUser, in)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !o.Amount.Equal(decimal.NewFromInt(1001)) || o.Currency != "JPY" {
			t.Errorf("expected 1001 JPY, got %s %s", o.Amount, o.Currency)
		}
	})

	t.Run("should round on update and when the currency changes", func(t *testing.T) {
		// --- Arrange ---
		d := newOrderUCDeps(time.Second)
		o, _ := d.uc.Create(ctx, testUser, oneTimeInput())
		jpy := "JPY"
		amt := decimal.RequireFromString("2500.4")

		// --- Act ---
		switched, err := d.uc.Update(ctx, o.ID, usecase.UpdateOrderInput{Currency: &jpy})
		if err != nil {
			t.Fatalf("switch currency: %v", err)
		}
		edited, err := d.uc.Update(ctx, o.ID, usecase.UpdateOrderInput{Amount: &amt})

		// --- Assert ---
		if err != nil {
			t.Fatalf("update amount: %v", err)
		}
		if !switched.Amount.Equal(decimal.NewFromInt(26)) {
			t.Errorf("expected 25.99 to round to 26 JPY, got %s", switched.Amount)
		}
		if !edited.Amount.Equal(decimal.NewFromInt(2500)) || edited.Currency != "JPY" {
			t.Errorf("expected 2500 JPY, got %s %s", edited.Amount, edited.Currency)
		}
	})

	t.Run("should reject an update that rounds to zero", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		in := oneTimeInput()
		in.Amount = decimal.NewFromInt(500)
		in.Currency = "JPY"
		o, _ := d.uc.Create(ctx, testUser, in)
		amt := decimal.RequireFromString("0.3")

		_, err := d.uc.Update(ctx, o.ID, usecase.UpdateOrderInput{Amount: &amt})

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should confirm a JPY order against the processor amount", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		in := oneTimeInput()
		in.Amount = decimal.RequireFromString("1000.50")
		in.Currency = "JPY"
		o, _ := d.uc.Create(ctx, testUser, in)
		pi, _ := d.gateway.CreateIntent(ctx, decimal.NewFromInt(1001), "JPY", model.IntentMetadata{OrderID: o.ID, UserID: testUser}, o.ID)
		if _, err := d.uc.AttachIntent(ctx, o.ID, pi.ID); err != nil {
			t.Fatalf("attach: %v", err)
		}
		d.gateway.SetStatus(pi.ID, model.PaymentStatusSucceeded)

		got, err := d.uc.ConfirmAndProcess(ctx, o.ID)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.OrderStatusCompleted {
			t.Errorf("expected COMPLETED, got %s (%s)", got.Status, got.ErrorMessage)
		}
	})
}

func TestOrderUseCase_CreateTopup(t *testing.T) {
	ctx := context.Background()

	topupInput := func(id int64) usecase.CreateOrderInput {
		in := oneTimeInput()
		in.Hints = model.SubscriberHints{SubscriberID: ptr(id)}
		return in
	}

	t.Run("should fail before any intent when the subscriber does not exist", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)

		_, err := d.uc.CreateTopup(ctx, testUser, topupInput(999))

		if !errors.Is(err, domain.ErrSubscriberNotFound) || !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrSubscriberNotFound, got %v", err)
		}
		if all, _ := d.orders.ListAll(ctx, nil, 0, 10); len(all) != 0 {
			t.Errorf("expected no persisted order, got %d", len(all))
		}
		if d.gateway.GetIntentCalls.Load() != 0 {
			t.Error("gateway must not be touched")
		}
	})

	t.Run("should reject a terminated subscriber", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		d.carrier.GetSubscriberFunc = func(ctx context.Context, h model.SubscriberHints) (*model.Subscriber, error) {
			return &model.Subscriber{ID: *h.SubscriberID, Status: model.SubscriberStatusTerminated}, nil
		}

		_, err := d.uc.CreateTopup(ctx, testUser, topupInput(5))

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should require a subscriber identifier", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)

		_, err := d.uc.CreateTopup(ctx, testUser, oneTimeInput())

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should top up the resolved subscriber", func(t *testing.T) {
		// --- Arrange ---
		d := newOrderUCDeps(time.Second)
		d.carrier.GetSubscriberFunc = func(ctx context.Context, h model.SubscriberHints) (*model.Subscriber, error) {
			return &model.Subscriber{ID: 77, ICCID: h.ICCID, Status: model.SubscriberStatusActive}, nil
		}
		in := oneTimeInput()
		in.Hints = model.SubscriberHints{ICCID: "8934070000000000077"}

		// --- Act ---
		o, err := d.uc.CreateTopup(ctx, testUser, in)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		in2, _ := d.gateway.CreateIntent(ctx, o.Amount, o.Currency, model.IntentMetadata{OrderID: o.ID, UserID: testUser}, o.ID)
		if _, err := d.uc.AttachIntent(ctx, o.ID, in2.ID); err != nil {
			t.Fatalf("attach: %v", err)
		}
		d.gateway.SetStatus(in2.ID, model.PaymentStatusSucceeded)
		got, err := d.uc.ProcessTopup(ctx, o.ID)

		// --- Assert ---
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if o.Type != model.OrderTypeTopUp || o.SubscriberID == nil || *o.SubscriberID != 77 {
			t.Errorf("expected TOPUP pinned to 77, got %s/%v", o.Type, o.SubscriberID)
		}
		if got.Status != model.OrderStatusCompleted {
			t.Errorf("expected COMPLETED, got %s (%s)", got.Status, got.ErrorMessage)
		}
		if d.carrier.TopUpCalls.Load() != 1 || d.carrier.AllocateCalls.Load() != 0 {
			t.Errorf("expected one TopUp call, got topup=%d allocate=%d", d.carrier.TopUpCalls.Load(), d.carrier.AllocateCalls.Load())
		}
	})
}

func TestOrderUseCase_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("should cancel a PENDING order", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o, _ := d.uc.Create(ctx, testUser, oneTimeInput())

		got, err := d.uc.Cancel(ctx, testUser, false, o.ID)

		if err != nil || got.Status != model.OrderStatusCancelled {
			t.Fatalf("expected CANCELLED, got %v/%v", got, err)
		}
		if types := d.events.Types(); len(types) != 1 || types[0] != "order.cancelled" {
			t.Errorf("expected order.cancelled event, got %v", types)
		}
	})

	t.Run("should cancel an AWAITING_PAYMENT order and mirror the payment", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)

		got, err := d.uc.Cancel(ctx, testUser, false, o.ID)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.OrderStatusCancelled || got.PaymentStatus != model.PaymentStatusCanceled {
			t.Errorf("expected CANCELLED/canceled, got %s/%s", got.Status, got.PaymentStatus)
		}
	})

	t.Run("should cancel the intent at the processor before the order", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)

		if _, err := d.uc.Cancel(ctx, testUser, false, o.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if n := d.gateway.CancelIntentCalls.Load(); n != 1 {
			t.Fatalf("expected one CancelIntent call, got %d", n)
		}
		pi, _ := d.gateway.GetIntent(ctx, o.PaymentIntentID)
		if pi.Status != model.PaymentStatusCanceled {
			t.Errorf("expected the intent canceled, got %s", pi.Status)
		}
	})

	t.Run("should treat an already canceled intent as success", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		d.gateway.SetStatus(o.PaymentIntentID, model.PaymentStatusCanceled)

		got, err := d.uc.Cancel(ctx, testUser, false, o.ID)

		if err != nil || got.Status != model.OrderStatusCancelled {
			t.Fatalf("expected CANCELLED, got %v/%v", got, err)
		}
	})

	t.Run("should refuse to cancel an order the processor already charged", func(t *testing.T) {
		// --- Arrange ---
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		d.gateway.SetStatus(o.PaymentIntentID, model.PaymentStatusSucceeded)

		// --- Act ---
		_, err := d.uc.Cancel(ctx, testUser, false, o.ID)

		// --- Assert ---
		if !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
		stored, _ := d.orders.FindByID(ctx, nil, o.ID)
		if stored.Status != model.OrderStatusAwaitingPayment {
			t.Errorf("order must stay AWAITING_PAYMENT, got %s", stored.Status)
		}
	})

	t.Run("should leave the order alone when the processor is unreachable", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		d.gateway.CancelIntentFunc = func(ctx context.Context, id string) (*model.PaymentIntent, error) {
			return nil, domain.ErrGateway
		}
		d.gateway.GetIntentFunc = func(ctx context.Context, id string) (*model.PaymentIntent, error) {
			return nil, domain.ErrGateway
		}

		_, err := d.uc.Cancel(ctx, testUser, false, o.ID)

		if !errors.Is(err, domain.ErrGateway) {
			t.Fatalf("expected ErrGateway, got %v", err)
		}
		stored, _ := d.orders.FindByID(ctx, nil, o.ID)
		if stored.Status != model.OrderStatusAwaitingPayment {
			t.Errorf("order must stay AWAITING_PAYMENT, got %s", stored.Status)
		}
	})

	t.Run("should flag a capture that lands after cancellation for refund", func(t *testing.T) {
		// --- Arrange ---
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		if _, err := d.uc.Cancel(ctx, testUser, false, o.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		d.gateway.SetStatus(o.PaymentIntentID, model.PaymentStatusSucceeded)
		ev := &model.WebhookEvent{ID: "evt_late", Type: model.EventPaymentSucceeded, Intent: model.PaymentIntent{ID: o.PaymentIntentID}}

		// --- Act ---
		got, err := d.uc.OnPaymentWebhook(ctx, ev)
		again, err2 := d.uc.ConfirmAndProcess(ctx, o.ID)

		// --- Assert ---
		if err != nil || err2 != nil {
			t.Fatalf("expected no error, got %v / %v", err, err2)
		}
		if got.Status != model.OrderStatusCancelled || got.PaymentStatus != model.PaymentStatusSucceeded {
			t.Errorf("expected CANCELLED/succeeded, got %s/%s", got.Status, got.PaymentStatus)
		}
		if !strings.Contains(got.ErrorMessage, "manual refund") || again.ErrorMessage != got.ErrorMessage {
			t.Errorf("expected a refund note, got %q / %q", got.ErrorMessage, again.ErrorMessage)
		}
		if d.carrier.AllocateCalls.Load() != 0 {
			t.Error("a cancelled order must never reach the carrier")
		}
	})

	t.Run("should refuse to cancel once provisioning started", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		d.gateway.SetStatus(o.PaymentIntentID, model.PaymentStatusSucceeded)
		if _, err := d.uc.ConfirmAndProcess(ctx, o.ID); err != nil {
			t.Fatalf("confirm: %v", err)
		}

		_, err := d.uc.Cancel(ctx, testUser, true, o.ID)

		if !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("should not let another user cancel", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o, _ := d.uc.Create(ctx, testUser, oneTimeInput())

		_, err := d.uc.Cancel(ctx, "intruder", false, o.ID)

		if !errors.Is(err, domain.ErrOwnership) {
			t.Fatalf("expected ErrOwnership, got %v", err)
		}
	})
}

func TestOrderUseCase_UpdateAndRead(t *testing.T) {
	ctx := context.Background()

	t.Run("should edit a PENDING order", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o, _ := d.uc.Create(ctx, testUser, oneTimeInput())
		amt := decimal.RequireFromString("19.5")

		got, err := d.uc.Update(ctx, o.ID, usecase.UpdateOrderInput{Amount: &amt, ValidityPeriod: ptr(30)})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !got.Amount.Equal(amt) || got.ValidityPeriod == nil || *got.ValidityPeriod != 30 {
			t.Errorf("unexpected order after update: %s/%v", got.Amount, got.ValidityPeriod)
		}
	})

	t.Run("should freeze the amount once an intent is attached", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)
		amt := decimal.RequireFromString("1")

		_, err := d.uc.Update(ctx, o.ID, usecase.UpdateOrderInput{Amount: &amt})

		if !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("should refuse a second attach", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		o := awaitingPayment(t, d)

		_, err := d.uc.AttachIntent(ctx, o.ID, "pi_other")

		if !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("should scope reads to the owner", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		mine, _ := d.uc.Create(ctx, testUser, oneTimeInput())
		if _, err := d.uc.Create(ctx, "user-2", oneTimeInput()); err != nil {
			t.Fatalf("create: %v", err)
		}

		if _, err := d.uc.GetForUser(ctx, "user-2", mine.ID); !errors.Is(err, domain.ErrOwnership) {
			t.Errorf("expected ErrOwnership, got %v", err)
		}
		own, _ := d.uc.List(ctx, testUser, false, 0, 0)
		all, _ := d.uc.List(ctx, testUser, true, 0, 0)
		if len(own) != 1 || len(all) != 2 {
			t.Errorf("expected 1 own and 2 total, got %d/%d", len(own), len(all))
		}
	})
}

func TestOrderUseCase_ReconcileAwaitingPayment(t *testing.T) {
	ctx := context.Background()
	d := newOrderUCDeps(time.Second)
	paid := awaitingPayment(t, d)
	unpaid := awaitingPayment(t, d)
	d.gateway.SetStatus(paid.PaymentIntentID, model.PaymentStatusSucceeded)
	d.orders.SetUpdatedAt(paid.ID, time.Now().Add(-time.Hour))
	d.orders.SetUpdatedAt(unpaid.ID, time.Now().Add(-time.Hour))

	n, err := d.uc.ReconcileAwaitingPayment(ctx, time.Now().Add(-30*time.Minute), 10)

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 advanced order, got %d", n)
	}
	stored, _ := d.orders.FindByID(ctx, nil, unpaid.ID)
	if stored.Status != model.OrderStatusAwaitingPayment {
		t.Errorf("unpaid order should stay AWAITING_PAYMENT, got %s", stored.Status)
	}
}

func TestOrderUseCase_ReconcileRotatesAbandonedOrders(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	d := newOrderUCDeps(time.Second)
	abandoned := awaitingPayment(t, d)
	paid := awaitingPayment(t, d)
	d.orders.SetUpdatedAt(abandoned.ID, time.Now().Add(-2*time.Hour))
	d.orders.SetUpdatedAt(paid.ID, time.Now().Add(-time.Hour))
	d.gateway.SetStatus(paid.PaymentIntentID, model.PaymentStatusSucceeded)
	cutoff := time.Now().Add(-30 * time.Minute)

	// --- Act: the oldest order is never paid ---
	first, err := d.uc.ReconcileAwaitingPayment(ctx, cutoff, 1)

	// --- Assert ---
	if err != nil || first != 0 {
		t.Fatalf("expected the abandoned order to be skipped, got %d/%v", first, err)
	}
	stored, _ := d.orders.FindByID(ctx, nil, abandoned.ID)
	if !stored.UpdatedAt.After(cutoff) {
		t.Fatalf("expected the abandoned order to move to the back of the queue, updated_at=%s", stored.UpdatedAt)
	}

	// --- Act: the next pass reaches the paid order ---
	second, err := d.uc.ReconcileAwaitingPayment(ctx, cutoff, 1)

	// --- Assert ---
	if err != nil || second != 1 {
		t.Fatalf("expected the paid order to advance, got %d/%v", second, err)
	}
	got, _ := d.orders.FindByID(ctx, nil, paid.ID)
	if got.Status != model.OrderStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
}

func TestOrderUseCase_CheckCarrier(t *testing.T) {
	ctx := context.Background()

	t.Run("should return the round trip of a healthy carrier", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		d.carrier.PingFunc = func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("expected the carrier timeout on the ping")
			}
			return nil
		}

		rtt, err := d.uc.CheckCarrier(ctx)

		if err != nil || rtt < 0 {
			t.Fatalf("expected a round trip, got %v/%v", rtt, err)
		}
	})

	t.Run("should surface a carrier failure", func(t *testing.T) {
		d := newOrderUCDeps(time.Second)
		d.carrier.PingFunc = func(ctx context.Context) error { return domain.ErrCarrierTimeout }

		_, err := d.uc.CheckCarrier(ctx)

		if !errors.Is(err, domain.ErrCarrierTimeout) {
			t.Fatalf("expected ErrCarrierTimeout, got %v", err)
		}
	})
}
