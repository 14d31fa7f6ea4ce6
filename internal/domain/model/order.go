package model

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"esim-reseller/internal/domain"
)

type OrderType string

const (
	OrderTypeOneTime OrderType = "ONE_TIME"
	OrderTypeTopUp   OrderType = "TOPUP"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeOneTime || t == OrderTypeTopUp
}

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderStatusProcessing      OrderStatus = "PROCESSING"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// transitions lists every allowed edge. Self edges carry field patches
// without advancing the lifecycle (admin edits in PENDING, payment status
// mirror updates in AWAITING_PAYMENT, a charge captured after cancellation
// in CANCELLED). FAILED -> PROCESSING is the operator recovery edge.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusPending, OrderStatusAwaitingPayment, OrderStatusCancelled},
	OrderStatusAwaitingPayment: {OrderStatusAwaitingPayment, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:      {OrderStatusCompleted, OrderStatusFailed},
	OrderStatusFailed:          {OrderStatusProcessing},
	OrderStatusCancelled:       {OrderStatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the order state machine.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAwaitingPayment, OrderStatusProcessing,
		OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// Cancellable is true while no provisioning has been dispatched.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusAwaitingPayment
}

const DefaultCurrency = "USD"

// Order is the durable record of one purchase or top-up attempt.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	PackageTemplateID string
	Type              OrderType
	Status            OrderStatus

	Amount          decimal.Decimal
	Currency        string
	PaymentIntentID string
	PaymentStatus   PaymentStatus

	// Subscriber identity. Optional on create; filled on completion.
	SubscriberID   *int64
	IMSI           string
	ICCID          string
	MSISDN         string
	ActivationCode string

	// Provisioning outputs, written only together with COMPLETED.
	SubsPackageID *int64
	EsimID        *int64
	SmdpServer    string
	URLQrCode     string
	UserSimName   string

	ValidityPeriod       *int
	ActivePeriodStart    *time.Time
	ActivePeriodEnd      *time.Time
	StartTimeUTC         *time.Time
	ActivationAtFirstUse bool

	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Hints returns the subscriber identifiers the order carries.
func (o *Order) Hints() SubscriberHints {
	return SubscriberHints{
		SubscriberID:   o.SubscriberID,
		IMSI:           o.IMSI,
		ICCID:          o.ICCID,
		MSISDN:         o.MSISDN,
		ActivationCode: o.ActivationCode,
	}
}

func (o *Order) PackageConfig() PackageConfig {
	return PackageConfig{
		ValidityPeriod:       o.ValidityPeriod,
		ActivePeriodStart:    o.ActivePeriodStart,
		ActivePeriodEnd:      o.ActivePeriodEnd,
		StartTimeUTC:         o.StartTimeUTC,
		ActivationAtFirstUse: o.ActivationAtFirstUse,
	}
}

// HasProvisioningOutput reports whether every carrier output field is set.
func (o *Order) HasProvisioningOutput() bool {
	return o.SubsPackageID != nil && o.EsimID != nil &&
		o.SmdpServer != "" && o.URLQrCode != "" && o.UserSimName != ""
}

func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

// Apply copies the set fields of p onto o. Stores use it to keep the
// returned value in sync with what they persisted.
func (o *Order) Apply(next OrderStatus, p OrderPatch) {
	o.Status = next
	if p.Amount != nil {
		o.Amount = *p.Amount
	}
	if p.Currency != nil {
		o.Currency = *p.Currency
	}
	if p.PaymentIntentID != nil {
		o.PaymentIntentID = *p.PaymentIntentID
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.ValidityPeriod != nil {
		v := *p.ValidityPeriod
		o.ValidityPeriod = &v
	}
	if p.ActivePeriodStart != nil {
		o.ActivePeriodStart = p.ActivePeriodStart
	}
	if p.ActivePeriodEnd != nil {
		o.ActivePeriodEnd = p.ActivePeriodEnd
	}
	if p.StartTimeUTC != nil {
		o.StartTimeUTC = p.StartTimeUTC
	}
	if p.ActivationAtFirstUse != nil {
		o.ActivationAtFirstUse = *p.ActivationAtFirstUse
	}
	if r := p.Provisioned; r != nil {
		o.SubscriberID = &r.SubscriberID
		o.SubsPackageID = &r.SubsPackageID
		o.EsimID = &r.EsimID
		o.IMSI = keep(o.IMSI, r.IMSI)
		o.ICCID = keep(o.ICCID, r.ICCID)
		o.MSISDN = keep(o.MSISDN, r.MSISDN)
		o.ActivationCode = keep(o.ActivationCode, r.ActivationCode)
		o.SmdpServer = r.SmdpServer
		o.URLQrCode = r.URLQrCode
		o.UserSimName = r.UserSimName
	}
	if p.ErrorMessage != nil {
		o.ErrorMessage = *p.ErrorMessage
	}
	o.UpdatedAt = time.Now()
}

// keep returns next unless it is empty.
func keep(cur, next string) string {
	if next == "" {
		return cur
	}
	return next
}

// OrderPatch holds the optional field writes applied in the same
// conditional update as a status transition. Nil means "keep".
type OrderPatch struct {
	Amount               *decimal.Decimal
	Currency             *string
	PaymentIntentID      *string
	PaymentStatus        *PaymentStatus
	ValidityPeriod       *int
	ActivePeriodStart    *time.Time
	ActivePeriodEnd      *time.Time
	StartTimeUTC         *time.Time
	ActivationAtFirstUse *bool
	Provisioned          *ProvisionResult
	ErrorMessage         *string
}

// NewOrder validates the draft and constructs a PENDING order.
func NewOrder(userID, packageTemplateID string, typ OrderType, amount decimal.Decimal, currency string) (*Order, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(packageTemplateID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !typ.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	cur, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	amount = RoundAmount(amount, cur)
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Order{
		ID:                uuid.NewString(),
		OrderNumber:       NewOrderNumber(now),
		UserID:            userID,
		PackageTemplateID: strings.TrimSpace(packageTemplateID),
		Type:              typ,
		Status:            OrderStatusPending,
		Amount:            amount,
		Currency:          cur,
		PaymentStatus:     PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// NormalizeCurrency upper-cases an ISO 4217 code, defaulting to USD.
func NormalizeCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return DefaultCurrency, nil
	}
	if len(c) != 3 {
		return "", domain.ErrInvalidArgument
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", domain.ErrInvalidArgument
		}
	}
	return c, nil
}

// zeroDecimalCurrencies are charged in whole units by the processor.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true, "KRW": true, "MGA": true,
	"PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorExponent is the number of decimal places the currency is charged in.
func MinorExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))] {
		return 0
	}
	return 2
}

// RoundAmount rounds to what the processor will actually charge, so a
// stored amount always equals the amount read back from an intent.
func RoundAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(MinorExponent(currency))
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewOrderNumber returns a display number that sorts by creation time.
func NewOrderNumber(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "ORD-" + ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
