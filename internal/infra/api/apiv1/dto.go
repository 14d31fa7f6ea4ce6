package apiv1

import (
	"time"

	"github.com/shopspring/decimal"

	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/usecase"
)

type createOrderRequest struct {
	PackageTemplateID string          `json:"packageTemplateId"`
	OrderType         model.OrderType `json:"orderType"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`

	SubscriberID   *int64 `json:"subscriberId,omitempty"`
	IMSI           string `json:"imsi,omitempty"`
	ICCID          string `json:"iccid,omitempty"`
	MSISDN         string `json:"msisdn,omitempty"`
	ActivationCode string `json:"activationCode,omitempty"`

	ValidityPeriod       *int       `json:"validityPeriod,omitempty"`
	ActivePeriodStart    *time.Time `json:"activePeriodStart,omitempty"`
	ActivePeriodEnd      *time.Time `json:"activePeriodEnd,omitempty"`
	StartTimeUTC         *time.Time `json:"startTimeUTC,omitempty"`
	ActivationAtFirstUse bool       `json:"activationAtFirstUse,omitempty"`
}

func (r createOrderRequest) toInput() usecase.CreateOrderInput {
	typ := r.OrderType
	if typ == "" {
		typ = model.OrderTypeOneTime
	}
	return usecase.CreateOrderInput{
		PackageTemplateID: r.PackageTemplateID,
		Type:              typ,
		Amount:            r.Amount,
		Currency:          r.Currency,
		Hints: model.SubscriberHints{
			SubscriberID:   r.SubscriberID,
			IMSI:           r.IMSI,
			ICCID:          r.ICCID,
			MSISDN:         r.MSISDN,
			ActivationCode: r.ActivationCode,
		},
		Config: model.PackageConfig{
			ValidityPeriod:       r.ValidityPeriod,
			ActivePeriodStart:    r.ActivePeriodStart,
			ActivePeriodEnd:      r.ActivePeriodEnd,
			StartTimeUTC:         r.StartTimeUTC,
			ActivationAtFirstUse: r.ActivationAtFirstUse,
		},
	}
}

type updateOrderRequest struct {
	Amount               *decimal.Decimal `json:"amount,omitempty"`
	Currency             *string          `json:"currency,omitempty"`
	ValidityPeriod       *int             `json:"validityPeriod,omitempty"`
	ActivePeriodStart    *time.Time       `json:"activePeriodStart,omitempty"`
	ActivePeriodEnd      *time.Time       `json:"activePeriodEnd,omitempty"`
	StartTimeUTC         *time.Time       `json:"startTimeUTC,omitempty"`
	ActivationAtFirstUse *bool            `json:"activationAtFirstUse,omitempty"`
}

func (r updateOrderRequest) toInput() usecase.UpdateOrderInput {
	return usecase.UpdateOrderInput{
		Amount:               r.Amount,
		Currency:             r.Currency,
		ValidityPeriod:       r.ValidityPeriod,
		ActivePeriodStart:    r.ActivePeriodStart,
		ActivePeriodEnd:      r.ActivePeriodEnd,
		StartTimeUTC:         r.StartTimeUTC,
		ActivationAtFirstUse: r.ActivationAtFirstUse,
	}
}

type createIntentRequest struct {
	OrderID  string          `json:"orderId"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

type createIntentResponse struct {
	ClientSecret    string          `json:"clientSecret"`
	PaymentIntentID string          `json:"paymentIntentId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Order           orderResponse   `json:"order"`
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

type confirmPaymentResponse struct {
	Success       bool                `json:"success"`
	PaymentStatus model.PaymentStatus `json:"paymentStatus"`
	Order         orderResponse       `json:"order"`
}

type listOrdersResponse struct {
	Items  []orderResponse `json:"items"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

// orderResponse is the single public shape of an order, for lists and
// detail alike.
type orderResponse struct {
	ID                string            `json:"id"`
	OrderNumber       string            `json:"orderNumber"`
	UserID            string            `json:"userId"`
	PackageTemplateID string            `json:"packageTemplateId"`
	OrderType         model.OrderType   `json:"orderType"`
	Status            model.OrderStatus `json:"status"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`

	PaymentIntentID string              `json:"paymentIntentId,omitempty"`
	PaymentStatus   model.PaymentStatus `json:"paymentStatus"`

	SubscriberID   *int64 `json:"subscriberId,omitempty"`
	IMSI           string `json:"imsi,omitempty"`
	ICCID          string `json:"iccid,omitempty"`
	MSISDN         string `json:"msisdn,omitempty"`
	ActivationCode string `json:"activationCode,omitempty"`

	SubsPackageID *int64 `json:"subsPackageId,omitempty"`
	EsimID        *int64 `json:"esimId,omitempty"`
	SmdpServer    string `json:"smdpServer,omitempty"`
	URLQrCode     string `json:"urlQrCode,omitempty"`
	UserSimName   string `json:"userSimName,omitempty"`

	ValidityPeriod       *int       `json:"validityPeriod,omitempty"`
	ActivePeriodStart    *time.Time `json:"activePeriodStart,omitempty"`
	ActivePeriodEnd      *time.Time `json:"activePeriodEnd,omitempty"`
	StartTimeUTC         *time.Time `json:"startTimeUTC,omitempty"`
	ActivationAtFirstUse bool       `json:"activationAtFirstUse"`

	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:                   o.ID,
		OrderNumber:          o.OrderNumber,
		UserID:               o.UserID,
		PackageTemplateID:    o.PackageTemplateID,
		OrderType:            o.Type,
		Status:               o.Status,
		Amount:               o.Amount,
		Currency:             o.Currency,
		PaymentIntentID:      o.PaymentIntentID,
		PaymentStatus:        o.PaymentStatus,
		SubscriberID:         o.SubscriberID,
		IMSI:                 o.IMSI,
		ICCID:                o.ICCID,
		MSISDN:               o.MSISDN,
		ActivationCode:       o.ActivationCode,
		SubsPackageID:        o.SubsPackageID,
		EsimID:               o.EsimID,
		SmdpServer:           o.SmdpServer,
		URLQrCode:            o.URLQrCode,
		UserSimName:          o.UserSimName,
		ValidityPeriod:       o.ValidityPeriod,
		ActivePeriodStart:    o.ActivePeriodStart,
		ActivePeriodEnd:      o.ActivePeriodEnd,
		StartTimeUTC:         o.StartTimeUTC,
		ActivationAtFirstUse: o.ActivationAtFirstUse,
		ErrorMessage:         o.ErrorMessage,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

func toOrderResponses(orders []*model.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

type carrierCheckResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
}
