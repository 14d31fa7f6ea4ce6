package apiv1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"esim-reseller/internal/infra/api"
)

// ListOrdersParams are the query parameters of GET /orders.
type ListOrdersParams struct {
	All    *bool `form:"all,omitempty" json:"all,omitempty"`
	Offset *int  `form:"offset,omitempty" json:"offset,omitempty"`
	Limit  *int  `form:"limit,omitempty" json:"limit,omitempty"`
}

// RegisterAPIV1 mounts every /api/v1 route on r. The webhook route is the
// only one outside the bearer token group.
func RegisterAPIV1(r chi.Router, srv *Server) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments/webhook", srv.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(srv.auth.Middleware(srv.log), api.RateLimit(srv.limiter, srv.perMin, srv.log))

			r.Post("/orders", srv.CreateOrder)
			r.Get("/orders", srv.bindListOrders)
			r.Post("/orders/topup", srv.CreateTopup)
			r.Get("/orders/{id}", srv.withOrderID(srv.GetOrder))
			r.Post("/orders/{id}/cancel", srv.withOrderID(srv.CancelOrder))

			r.Post("/payments/create-intent", srv.CreatePaymentIntent)
			r.Post("/payments/confirm", srv.ConfirmPayment)

			r.Group(func(r chi.Router) {
				r.Use(api.RequireAdmin)
				r.Patch("/orders/{id}", srv.withOrderID(srv.UpdateOrder))
				r.Post("/orders/{id}/process", srv.withOrderID(srv.ProcessOrder))
				r.Post("/orders/{id}/topup-process", srv.withOrderID(srv.ProcessTopup))
				r.Post("/orders/test-ocs", srv.TestCarrier)
			})
		})
	})
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

func paramError(w http.ResponseWriter, err error) {
	api.WriteError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) withOrderID(h func(w http.ResponseWriter, r *http.Request, id string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			paramError(w, &InvalidParamFormatError{ParamName: "id", Err: err})
			return
		}
		h(w, r, id)
	}
}

func (s *Server) bindListOrders(w http.ResponseWriter, r *http.Request) {
	var params ListOrdersParams
	q := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "all", q, &params.All); err != nil {
		paramError(w, &InvalidParamFormatError{ParamName: "all", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", q, &params.Offset); err != nil {
		paramError(w, &InvalidParamFormatError{ParamName: "offset", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &params.Limit); err != nil {
		paramError(w, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}
	s.ListOrders(w, r, params)
}
