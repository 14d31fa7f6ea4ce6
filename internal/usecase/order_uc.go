// File: internal/usecase/order_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/adapter"
	"esim-reseller/internal/domain/ports/repository"
	"esim-reseller/internal/infra/logging"
)

// Compile-time check
var _ OrderUseCase = (*orderUC)(nil)

// OrderUseCase drives the order state machine. The only race arbiter is the
// store's conditional Transition: whoever moves AWAITING_PAYMENT ->
// PROCESSING dispatches provisioning, everyone else observes.
type OrderUseCase interface {
	Create(ctx context.Context, userID string, in CreateOrderInput) (*model.Order, error)
	CreateTopup(ctx context.Context, userID string, in CreateOrderInput) (*model.Order, error)
	Get(ctx context.Context, id string) (*model.Order, error)
	// GetForUser returns domain.ErrOwnership when the order belongs to someone else.
	GetForUser(ctx context.Context, userID, id string) (*model.Order, error)
	List(ctx context.Context, userID string, all bool, offset, limit int) ([]*model.Order, error)
	Update(ctx context.Context, id string, in UpdateOrderInput) (*model.Order, error)

	AttachIntent(ctx context.Context, orderID, intentID string) (*model.Order, error)
	ConfirmAndProcess(ctx context.Context, orderID string) (*model.Order, error)
	// ConfirmIntent runs the confirm path with an intent already fetched
	// from the processor.
	ConfirmIntent(ctx context.Context, intent *model.PaymentIntent) (*model.Order, error)
	OnPaymentWebhook(ctx context.Context, ev *model.WebhookEvent) (*model.Order, error)
	MirrorPaymentStatus(ctx context.Context, intent *model.PaymentIntent) (*model.Order, error)

	Cancel(ctx context.Context, userID string, isAdmin bool, id string) (*model.Order, error)
	ProcessOrder(ctx context.Context, id string) (*model.Order, error)
	ProcessTopup(ctx context.Context, id string) (*model.Order, error)
	ReconcileAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) (int, error)
	// CheckCarrier pings the carrier and returns the round trip.
	CheckCarrier(ctx context.Context) (time.Duration, error)
}

type CreateOrderInput struct {
	PackageTemplateID string
	Type              model.OrderType
	Amount            decimal.Decimal
	Currency          string
	Hints             model.SubscriberHints
	Config            model.PackageConfig
}

// UpdateOrderInput is an admin edit; nil fields are left as they are.
type UpdateOrderInput struct {
	Amount               *decimal.Decimal
	Currency             *string
	ValidityPeriod       *int
	ActivePeriodStart    *time.Time
	ActivePeriodEnd      *time.Time
	StartTimeUTC         *time.Time
	ActivationAtFirstUse *bool
}

type OrderConfig struct {
	CarrierTimeout       time.Duration
	ProcessingStaleAfter time.Duration
	SimNamePrefix        string
	DefaultCurrency      string
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxCancelRetries = 3

	timeoutErrorMessage = "carrier call timed out: provisioning outcome unknown, manual reconciliation required"
	// committedErrorMessage prefixes FAILED orders the carrier already
	// applied. process refuses to re-dispatch them.
	committedErrorMessage   = "carrier applied the package but the result could not be read back: complete manually, do not re-dispatch"
	lateCaptureErrorMessage = "payment captured after cancellation: manual refund required"
)

type orderUC struct {
	orders    repository.OrderRepository
	templates repository.PackageTemplateRepository
	gateway   adapter.PaymentGateway
	carrier   adapter.CarrierClient
	events    adapter.OrderEventPublisher
	cfg       OrderConfig
	log       *zerolog.Logger
	now       func() time.Time
}

func NewOrderUseCase(
	orders repository.OrderRepository,
	templates repository.PackageTemplateRepository,
	gateway adapter.PaymentGateway,
	carrier adapter.CarrierClient,
	events adapter.OrderEventPublisher,
	cfg OrderConfig,
	logger *zerolog.Logger,
) *orderUC {
	if cfg.CarrierTimeout <= 0 {
		cfg.CarrierTimeout = 30 * time.Second
	}
	if cfg.ProcessingStaleAfter <= 0 {
		cfg.ProcessingStaleAfter = 10 * time.Minute
	}
	if cfg.SimNamePrefix == "" {
		cfg.SimNamePrefix = "eSIM"
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = model.DefaultCurrency
	}
	return &orderUC{
		orders:    orders,
		templates: templates,
		gateway:   gateway,
		carrier:   carrier,
		events:    events,
		cfg:       cfg,
		log:       logger,
		now:       time.Now,
	}
}

// ---------------------------------------------------------------------------
// Create / read / edit
// ---------------------------------------------------------------------------

func (u *orderUC) Create(ctx context.Context, userID string, in CreateOrderInput) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.Create")()

	if err := validatePackageConfig(in.Config); err != nil {
		return nil, err
	}
	currency := in.Currency
	if strings.TrimSpace(currency) == "" {
		currency = u.cfg.DefaultCurrency
	}
	o, err := model.NewOrder(userID, in.PackageTemplateID, in.Type, in.Amount, currency)
	if err != nil {
		return nil, err
	}

	tpl, err := u.templates.FindByID(ctx, repository.NoTX, o.PackageTemplateID)
	if err != nil {
		return nil, err
	}
	if !tpl.Active {
		return nil, fmt.Errorf("package template %s is inactive: %w", tpl.ID, domain.ErrNotFound)
	}

	o.SubscriberID = in.Hints.SubscriberID
	o.IMSI = in.Hints.IMSI
	o.ICCID = in.Hints.ICCID
	o.MSISDN = in.Hints.MSISDN
	o.ActivationCode = in.Hints.ActivationCode
	o.ValidityPeriod = in.Config.ValidityPeriod
	o.ActivePeriodStart = in.Config.ActivePeriodStart
	o.ActivePeriodEnd = in.Config.ActivePeriodEnd
	o.StartTimeUTC = in.Config.StartTimeUTC
	o.ActivationAtFirstUse = in.Config.ActivationAtFirstUse

	if o.Type == model.OrderTypeTopUp {
		if err := u.resolveTopupTarget(ctx, o); err != nil {
			return nil, err
		}
	}

	if err := u.orders.Create(ctx, repository.NoTX, o); err != nil {
		return nil, err
	}
	logging.With(logging.WithOrderID(ctx, o.ID), u.log).Info().
		Str("order_number", o.OrderNumber).
		Str("type", string(o.Type)).
		Str("template_id", o.PackageTemplateID).
		Msg("order created")
	return o, nil
}

func (u *orderUC) CreateTopup(ctx context.Context, userID string, in CreateOrderInput) (*model.Order, error) {
	in.Type = model.OrderTypeTopUp
	return u.Create(ctx, userID, in)
}

// resolveTopupTarget pins the order to a live subscriber before any money moves.
func (u *orderUC) resolveTopupTarget(ctx context.Context, o *model.Order) error {
	hints := o.Hints()
	if hints.IsEmpty() {
		return fmt.Errorf("top-up requires a subscriber identifier: %w", domain.ErrInvalidArgument)
	}
	cctx, cancel := context.WithTimeout(ctx, u.cfg.CarrierTimeout)
	defer cancel()
	sub, err := u.carrier.GetSubscriber(cctx, hints)
	if err != nil {
		return err
	}
	if sub.IsTerminated() {
		return fmt.Errorf("subscriber %d is terminated: %w", sub.ID, domain.ErrInvalidArgument)
	}
	id := sub.ID
	o.SubscriberID = &id
	if o.IMSI == "" {
		o.IMSI = sub.IMSI
	}
	if o.ICCID == "" {
		o.ICCID = sub.ICCID
	}
	if o.MSISDN == "" {
		o.MSISDN = sub.MSISDN
	}
	if o.ActivationCode == "" {
		o.ActivationCode = sub.ActivationCode
	}
	return nil
}

func validatePackageConfig(c model.PackageConfig) error {
	if c.ValidityPeriod != nil && (*c.ValidityPeriod < 1 || *c.ValidityPeriod > 365) {
		return fmt.Errorf("validity period must be 1..365 days: %w", domain.ErrInvalidArgument)
	}
	if c.ActivePeriodStart != nil && c.ActivePeriodEnd != nil && !c.ActivePeriodEnd.After(*c.ActivePeriodStart) {
		return fmt.Errorf("active period end must be after start: %w", domain.ErrInvalidArgument)
	}
	return nil
}

func (u *orderUC) Get(ctx context.Context, id string) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.Get")()
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.orders.FindByID(ctx, repository.NoTX, id)
}

func (u *orderUC) GetForUser(ctx context.Context, userID, id string) (*model.Order, error) {
	o, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, domain.ErrOwnership
	}
	return o, nil
}

func (u *orderUC) List(ctx context.Context, userID string, all bool, offset, limit int) ([]*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.List")()
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if all {
		return u.orders.ListAll(ctx, repository.NoTX, offset, limit)
	}
	return u.orders.ListByUser(ctx, repository.NoTX, userID, offset, limit)
}

// Update edits a PENDING order. Once an intent is attached the commercial
// fields are frozen, so any other status is rejected.
func (u *orderUC) Update(ctx context.Context, id string, in UpdateOrderInput) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.Update")()

	o, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OrderStatusPending {
		return nil, domain.ErrInvalidStateTransition
	}

	patch := model.OrderPatch{
		ValidityPeriod:       in.ValidityPeriod,
		ActivePeriodStart:    in.ActivePeriodStart,
		ActivePeriodEnd:      in.ActivePeriodEnd,
		StartTimeUTC:         in.StartTimeUTC,
		ActivationAtFirstUse: in.ActivationAtFirstUse,
	}
	if in.Currency != nil {
		cur, err := model.NormalizeCurrency(*in.Currency)
		if err != nil {
			return nil, err
		}
		patch.Currency = &cur
	}
	if in.Amount != nil || patch.Currency != nil {
		amt, cur := o.Amount, o.Currency
		if in.Amount != nil {
			amt = *in.Amount
		}
		if patch.Currency != nil {
			cur = *patch.Currency
		}
		amt = model.RoundAmount(amt, cur)
		if !amt.IsPositive() {
			return nil, domain.ErrInvalidArgument
		}
		patch.Amount = &amt
	}
	merged := o.PackageConfig()
	if in.ValidityPeriod != nil {
		merged.ValidityPeriod = in.ValidityPeriod
	}
	if in.ActivePeriodStart != nil {
		merged.ActivePeriodStart = in.ActivePeriodStart
	}
	if in.ActivePeriodEnd != nil {
		merged.ActivePeriodEnd = in.ActivePeriodEnd
	}
	if err := validatePackageConfig(merged); err != nil {
		return nil, err
	}

	ok, err := u.orders.Transition(ctx, repository.NoTX, o.ID, model.OrderStatusPending, model.OrderStatusPending, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidStateTransition
	}
	o.Apply(model.OrderStatusPending, patch)
	return o, nil
}

// ---------------------------------------------------------------------------
// Payment driven transitions
// ---------------------------------------------------------------------------

func (u *orderUC) AttachIntent(ctx context.Context, orderID, intentID string) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.AttachIntent")()
	if strings.TrimSpace(intentID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	pending := model.PaymentStatusPending
	patch := model.OrderPatch{PaymentIntentID: &intentID, PaymentStatus: &pending}
	ok, err := u.orders.Transition(ctx, repository.NoTX, orderID, model.OrderStatusPending, model.OrderStatusAwaitingPayment, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidStateTransition
	}
	return u.orders.FindByID(ctx, repository.NoTX, orderID)
}

func (u *orderUC) ConfirmAndProcess(ctx context.Context, orderID string) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.ConfirmAndProcess")()
	o, err := u.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return u.confirmOrder(ctx, o)
}

func (u *orderUC) ConfirmIntent(ctx context.Context, intent *model.PaymentIntent) (*model.Order, error) {
	if intent == nil || intent.Metadata.OrderID == "" {
		return nil, fmt.Errorf("intent carries no order id: %w", domain.ErrInvalidArgument)
	}
	o, err := u.Get(ctx, intent.Metadata.OrderID)
	if err != nil {
		return nil, err
	}
	return u.confirmWithIntent(ctx, o, intent)
}

// OnPaymentWebhook never trusts the event body beyond the intent id: the
// intent is re-read from the processor before anything moves.
func (u *orderUC) OnPaymentWebhook(ctx context.Context, ev *model.WebhookEvent) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.OnPaymentWebhook")()
	if ev == nil || ev.Intent.ID == "" {
		return nil, domain.ErrInvalidArgument
	}
	intent, err := u.gateway.GetIntent(ctx, ev.Intent.ID)
	if err != nil {
		return nil, err
	}
	return u.ConfirmIntent(ctx, intent)
}

// confirmOrder fetches the authoritative intent for o and runs the confirm path.
func (u *orderUC) confirmOrder(ctx context.Context, o *model.Order) (*model.Order, error) {
	if o.Status == model.OrderStatusCancelled && o.PaymentIntentID != "" {
		intent, err := u.gateway.GetIntent(ctx, o.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		return u.confirmWithIntent(ctx, o, intent)
	}
	if done, err := settledOrRejected(o); done {
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	if o.PaymentIntentID == "" {
		return nil, domain.ErrPaymentNotConfirmed
	}
	intent, err := u.gateway.GetIntent(ctx, o.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	return u.confirmWithIntent(ctx, o, intent)
}

// settledOrRejected short-circuits orders that the confirm path must not
// touch. done=false means the order is AWAITING_PAYMENT.
func settledOrRejected(o *model.Order) (done bool, err error) {
	switch o.Status {
	case model.OrderStatusAwaitingPayment:
		return false, nil
	case model.OrderStatusProcessing, model.OrderStatusCompleted, model.OrderStatusFailed:
		return true, nil
	default:
		return true, domain.ErrInvalidStateTransition
	}
}

func (u *orderUC) confirmWithIntent(ctx context.Context, o *model.Order, intent *model.PaymentIntent) (*model.Order, error) {
	if o.Status == model.OrderStatusCancelled {
		return u.recordLateCapture(ctx, o, intent)
	}
	if done, err := settledOrRejected(o); done {
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	if intent.ID != o.PaymentIntentID || intent.Metadata.OrderID != o.ID {
		return nil, fmt.Errorf("intent %s does not belong to order %s: %w", intent.ID, o.ID, domain.ErrInvalidArgument)
	}
	if !intent.Amount.Equal(o.Amount) || !strings.EqualFold(intent.Currency, o.Currency) {
		return nil, fmt.Errorf("intent charges %s %s, order is %s %s: %w",
			intent.Amount, intent.Currency, o.Amount, o.Currency, domain.ErrPaymentNotConfirmed)
	}
	if !intent.Succeeded() {
		return nil, fmt.Errorf("intent status %s: %w", intent.Status, domain.ErrPaymentNotConfirmed)
	}

	succeeded := model.PaymentStatusSucceeded
	patch := model.OrderPatch{PaymentStatus: &succeeded}
	ok, err := u.orders.Transition(ctx, repository.NoTX, o.ID, model.OrderStatusAwaitingPayment, model.OrderStatusProcessing, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else won; they own provisioning.
		logging.With(logging.WithOrderID(ctx, o.ID), u.log).Debug().Msg("confirm lost the race, returning current order")
		return u.orders.FindByID(ctx, repository.NoTX, o.ID)
	}
	o.Apply(model.OrderStatusProcessing, patch)
	return u.dispatch(ctx, o), nil
}

// recordLateCapture flags a CANCELLED order whose intent was paid anyway.
// The order stays CANCELLED and is never provisioned; refunding is left to
// an operator.
func (u *orderUC) recordLateCapture(ctx context.Context, o *model.Order, intent *model.PaymentIntent) (*model.Order, error) {
	if intent.ID != o.PaymentIntentID || intent.Metadata.OrderID != o.ID || !intent.Succeeded() {
		return nil, domain.ErrInvalidStateTransition
	}
	if o.PaymentStatus == model.PaymentStatusSucceeded {
		return o, nil
	}
	succeeded := model.PaymentStatusSucceeded
	msg := lateCaptureErrorMessage
	patch := model.OrderPatch{PaymentStatus: &succeeded, ErrorMessage: &msg}
	ok, err := u.orders.Transition(ctx, repository.NoTX, o.ID, model.OrderStatusCancelled, model.OrderStatusCancelled, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return u.orders.FindByID(ctx, repository.NoTX, o.ID)
	}
	o.Apply(model.OrderStatusCancelled, patch)
	logging.With(logging.WithOrderID(ctx, o.ID), u.log).Error().
		Str("intent_id", intent.ID).
		Str("amount", intent.Amount.String()).
		Str("currency", intent.Currency).
		Msg("payment captured on a cancelled order, manual refund required")
	return o, nil
}

func (u *orderUC) MirrorPaymentStatus(ctx context.Context, intent *model.PaymentIntent) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.MirrorPaymentStatus")()
	if intent == nil || intent.Metadata.OrderID == "" {
		return nil, domain.ErrInvalidArgument
	}
	o, err := u.Get(ctx, intent.Metadata.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OrderStatusAwaitingPayment || o.PaymentIntentID != intent.ID || o.PaymentStatus == intent.Status {
		return o, nil
	}
	status := intent.Status
	patch := model.OrderPatch{PaymentStatus: &status}
	ok, err := u.orders.Transition(ctx, repository.NoTX, o.ID, model.OrderStatusAwaitingPayment, model.OrderStatusAwaitingPayment, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return u.orders.FindByID(ctx, repository.NoTX, o.ID)
	}
	o.Apply(model.OrderStatusAwaitingPayment, patch)
	return o, nil
}

// ---------------------------------------------------------------------------
// Provisioning dispatch
// ---------------------------------------------------------------------------

// dispatch calls the carrier exactly once for an order this caller moved to
// PROCESSING and records the outcome. It runs detached from the caller's
// cancellation: a client disconnect must not leave the order in PROCESSING.
func (u *orderUC) dispatch(ctx context.Context, o *model.Order) *model.Order {
	bg := context.WithoutCancel(ctx)
	log := logging.With(logging.WithOrderID(bg, o.ID), u.log)

	cctx, cancel := context.WithTimeout(bg, u.cfg.CarrierTimeout)
	res, err := u.provision(cctx, o)
	cancel()

	if err == nil && res == nil {
		err = fmt.Errorf("carrier returned no result: %w", domain.ErrProvisioningFailure)
	}
	if err == nil {
		if res.UserSimName == "" {
			res.UserSimName = fmt.Sprintf("%s_%d", u.cfg.SimNamePrefix, res.SubscriberID)
		}
		if !res.Complete() {
			err = fmt.Errorf("carrier returned an incomplete result: %w", domain.ErrProvisioningFailure)
		}
	}

	if err != nil {
		msg := err.Error()
		switch {
		case errors.Is(err, domain.ErrCarrierCommitted):
			msg = committedErrorMessage + ": " + err.Error()
			if res != nil && res.SubsPackageID != 0 {
				msg += fmt.Sprintf(" (subs_package_id=%d)", res.SubsPackageID)
			}
		case errors.Is(err, domain.ErrCarrierTimeout) || errors.Is(err, context.DeadlineExceeded):
			msg = timeoutErrorMessage
		}
		log.Error().Err(err).Msg("provisioning failed, order marked FAILED")
		return u.finish(bg, o, model.OrderStatusFailed, model.OrderPatch{ErrorMessage: &msg})
	}

	empty := ""
	log.Info().
		Int64("subscriber_id", res.SubscriberID).
		Int64("esim_id", res.EsimID).
		Str("iccid", logging.Redact(res.ICCID, false)).
		Msg("provisioning completed")
	return u.finish(bg, o, model.OrderStatusCompleted, model.OrderPatch{Provisioned: res, ErrorMessage: &empty})
}

func (u *orderUC) provision(ctx context.Context, o *model.Order) (*model.ProvisionResult, error) {
	switch o.Type {
	case model.OrderTypeTopUp:
		if o.SubscriberID == nil {
			return nil, domain.ErrSubscriberNotFound
		}
		return u.carrier.TopUp(ctx, *o.SubscriberID, o.PackageTemplateID, o.PackageConfig())
	default:
		return u.carrier.AllocateAndProvision(ctx, o.PackageTemplateID, o.Hints(), o.PackageConfig())
	}
}

// finish moves a PROCESSING order to its outcome. A false CAS here means an
// operator reclaimed the order; the stored row wins.
func (u *orderUC) finish(ctx context.Context, o *model.Order, next model.OrderStatus, patch model.OrderPatch) *model.Order {
	log := logging.With(logging.WithOrderID(ctx, o.ID), u.log)
	ok, err := u.orders.Transition(ctx, repository.NoTX, o.ID, model.OrderStatusProcessing, next, patch)
	if err != nil {
		log.Error().Err(err).Str("next", string(next)).Msg("failed to record provisioning outcome")
		return o
	}
	if !ok {
		log.Warn().Str("next", string(next)).Msg("order left PROCESSING before outcome was recorded")
		if cur, err := u.orders.FindByID(ctx, repository.NoTX, o.ID); err == nil {
			return cur
		}
		return o
	}
	o.Apply(next, patch)
	u.publish(ctx, o)
	return o
}

func (u *orderUC) publish(ctx context.Context, o *model.Order) {
	if u.events == nil {
		return
	}
	if err := u.events.Publish(ctx, model.NewOrderEvent(o)); err != nil {
		logging.With(logging.WithOrderID(ctx, o.ID), u.log).Warn().Err(err).Msg("publish order event failed")
	}
}

// ---------------------------------------------------------------------------
// Cancel / admin recovery
// ---------------------------------------------------------------------------

func (u *orderUC) Cancel(ctx context.Context, userID string, isAdmin bool, id string) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.Cancel")()

	for attempt := 0; attempt < maxCancelRetries; attempt++ {
		o, err := u.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !isAdmin && o.UserID != userID {
			return nil, domain.ErrOwnership
		}
		if !o.Status.Cancellable() {
			return nil, domain.ErrInvalidStateTransition
		}
		if o.Status == model.OrderStatusAwaitingPayment && o.PaymentIntentID != "" {
			if err := u.cancelIntent(ctx, o); err != nil {
				return nil, err
			}
		}
		var patch model.OrderPatch
		if o.PaymentIntentID != "" {
			canceled := model.PaymentStatusCanceled
			patch.PaymentStatus = &canceled
		}
		from := o.Status
		ok, err := u.orders.Transition(ctx, repository.NoTX, o.ID, from, model.OrderStatusCancelled, patch)
		if err != nil {
			return nil, err
		}
		if ok {
			o.Apply(model.OrderStatusCancelled, patch)
			u.publish(ctx, o)
			return o, nil
		}
		// The order moved (e.g. PENDING -> AWAITING_PAYMENT); re-read and retry.
	}
	return nil, domain.ErrInvalidStateTransition
}

// cancelIntent closes the processor side first so the customer can no
// longer pay the order being cancelled.
func (u *orderUC) cancelIntent(ctx context.Context, o *model.Order) error {
	pi, err := u.gateway.CancelIntent(ctx, o.PaymentIntentID)
	if err != nil {
		// Already canceled or already paid both fail the call; ask for the
		// current state instead.
		cur, gerr := u.gateway.GetIntent(ctx, o.PaymentIntentID)
		if gerr != nil {
			return err
		}
		pi = cur
	}
	switch pi.Status {
	case model.PaymentStatusCanceled:
		return nil
	case model.PaymentStatusSucceeded:
		return fmt.Errorf("payment for order %s already succeeded: %w", o.ID, domain.ErrInvalidStateTransition)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("intent %s is %s after cancel: %w", pi.ID, pi.Status, domain.ErrGateway)
}

func (u *orderUC) ProcessOrder(ctx context.Context, id string) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.ProcessOrder")()
	o, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.process(ctx, o)
}

func (u *orderUC) ProcessTopup(ctx context.Context, id string) (*model.Order, error) {
	defer logging.TraceDuration(u.log, "OrderUC.ProcessTopup")()
	o, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Type != model.OrderTypeTopUp {
		return nil, fmt.Errorf("order %s is not a top-up: %w", o.ID, domain.ErrInvalidArgument)
	}
	return u.process(ctx, o)
}

// process is the operator recovery entry point. It re-attempts from the
// current state and never issues a carrier call without first winning a
// conditional update.
func (u *orderUC) process(ctx context.Context, o *model.Order) (*model.Order, error) {
	log := logging.With(logging.WithOrderID(ctx, o.ID), u.log)
	switch o.Status {
	case model.OrderStatusAwaitingPayment:
		return u.confirmOrder(ctx, o)

	case model.OrderStatusFailed:
		if o.PaymentStatus != model.PaymentStatusSucceeded {
			return nil, domain.ErrPaymentNotConfirmed
		}
		if strings.HasPrefix(o.ErrorMessage, committedErrorMessage) {
			return nil, fmt.Errorf("order %s was already applied by the carrier: %w", o.ID, domain.ErrInvalidStateTransition)
		}
		empty := ""
		patch := model.OrderPatch{ErrorMessage: &empty}
		ok, err := u.orders.Transition(ctx, repository.NoTX, o.ID, model.OrderStatusFailed, model.OrderStatusProcessing, patch)
		if err != nil {
			return nil, err
		}
		if !ok {
			return u.orders.FindByID(ctx, repository.NoTX, o.ID)
		}
		log.Warn().Msg("operator re-dispatching failed order")
		o.Apply(model.OrderStatusProcessing, patch)
		return u.dispatch(ctx, o), nil

	case model.OrderStatusProcessing:
		staleBefore := u.now().Add(-u.cfg.ProcessingStaleAfter)
		ok, err := u.orders.ReclaimProcessing(ctx, repository.NoTX, o.ID, staleBefore)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("order %s is still provisioning: %w", o.ID, domain.ErrInvalidStateTransition)
		}
		log.Warn().Msg("operator reclaimed stale PROCESSING order")
		return u.dispatch(ctx, o), nil

	default:
		return nil, domain.ErrInvalidStateTransition
	}
}

// ReconcileAwaitingPayment re-runs the confirm path for orders whose
// webhook may have been lost. Returns how many orders advanced.
//
// The store hands out the least recently updated orders first. Every order
// that does not advance is touched, so abandoned carts rotate to the back
// of the queue instead of starving newer ones.
func (u *orderUC) ReconcileAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	defer logging.TraceDuration(u.log, "OrderUC.ReconcileAwaitingPayment")()
	items, err := u.orders.ListAwaitingPaymentOlderThan(ctx, repository.NoTX, olderThan, limit)
	if err != nil {
		return 0, err
	}
	advanced := 0
	for _, o := range items {
		if ctx.Err() != nil {
			return advanced, ctx.Err()
		}
		log := logging.With(logging.WithOrderID(ctx, o.ID), u.log)
		if o.PaymentIntentID == "" {
			u.touchAwaiting(ctx, o, o.PaymentStatus)
			continue
		}
		intent, err := u.gateway.GetIntent(ctx, o.PaymentIntentID)
		if err != nil {
			log.Warn().Err(err).Msg("reconcile intent lookup failed")
			if errors.Is(err, domain.ErrNotFound) {
				u.touchAwaiting(ctx, o, o.PaymentStatus)
			}
			continue
		}
		if !intent.Succeeded() {
			u.touchAwaiting(ctx, o, intent.Status)
			continue
		}
		res, err := u.confirmWithIntent(ctx, o, intent)
		if err != nil {
			log.Warn().Err(err).Msg("reconcile confirm failed")
			if !errors.Is(err, domain.ErrGateway) {
				u.touchAwaiting(ctx, o, intent.Status)
			}
			continue
		}
		if res.Status != model.OrderStatusAwaitingPayment {
			advanced++
		}
	}
	return advanced, nil
}

func (u *orderUC) CheckCarrier(ctx context.Context) (time.Duration, error) {
	defer logging.TraceDuration(u.log, "OrderUC.CheckCarrier")()
	cctx, cancel := context.WithTimeout(ctx, u.cfg.CarrierTimeout)
	defer cancel()
	started := u.now()
	if err := u.carrier.Ping(cctx); err != nil {
		u.log.Warn().Err(err).Msg("carrier ping failed")
		return 0, err
	}
	return u.now().Sub(started), nil
}

// touchAwaiting records the latest payment status through the self edge,
// which also moves updated_at forward.
func (u *orderUC) touchAwaiting(ctx context.Context, o *model.Order, status model.PaymentStatus) {
	patch := model.OrderPatch{PaymentStatus: &status}
	if _, err := u.orders.Transition(ctx, repository.NoTX, o.ID, model.OrderStatusAwaitingPayment, model.OrderStatusAwaitingPayment, patch); err != nil {
		logging.With(logging.WithOrderID(ctx, o.ID), u.log).Warn().Err(err).Msg("reconcile touch failed")
	}
}
