package apiv1

import (
	"encoding/json"
	"net/http"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/infra/api"
	"esim-reseller/internal/infra/logging"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		api.WriteError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// caller is always set behind the auth middleware.
func caller(r *http.Request) api.Principal {
	p, _ := api.PrincipalFrom(r.Context())
	return p
}

func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.orders.Create(r.Context(), caller(r).UserID, req.toInput())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) CreateTopup(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.orders.CreateTopup(r.Context(), caller(r).UserID, req.toInput())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, toOrderResponse(o))
}

// ListOrders returns the caller's orders; admins may pass all=true.
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request, params ListOrdersParams) {
	p := caller(r)
	all := params.All != nil && *params.All
	if all && !p.IsAdmin() {
		s.fail(w, r, domain.ErrOwnership)
		return
	}
	var offset, limit int
	if params.Offset != nil {
		offset = *params.Offset
	}
	if params.Limit != nil {
		limit = *params.Limit
	}
	orders, err := s.orders.List(r.Context(), p.UserID, all, offset, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, listOrdersResponse{Items: toOrderResponses(orders), Offset: offset, Limit: limit})
}

// GetOrder uses the same shaping as ListOrders. Non-admins only see their own orders.
func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request, id string) {
	p := caller(r)
	var (
		o   *model.Order
		err error
	)
	if p.IsAdmin() {
		o, err = s.orders.Get(r.Context(), id)
	} else {
		o, err = s.orders.GetForUser(r.Context(), p.UserID, id)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) UpdateOrder(w http.ResponseWriter, r *http.Request, id string) {
	var req updateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.orders.Update(r.Context(), id, req.toInput())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request, id string) {
	p := caller(r)
	o, err := s.orders.Cancel(r.Context(), p.UserID, p.IsAdmin(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) ProcessOrder(w http.ResponseWriter, r *http.Request, id string) {
	o, err := s.orders.ProcessOrder(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) ProcessTopup(w http.ResponseWriter, r *http.Request, id string) {
	o, err := s.orders.ProcessTopup(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

// TestCarrier checks the carrier endpoint and credentials. A failed check
// is reported in the body with 502, so it is distinguishable from an
// outage of this service.
func (s *Server) TestCarrier(w http.ResponseWriter, r *http.Request) {
	rtt, err := s.orders.CheckCarrier(r.Context())
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("carrier check failed")
		api.WriteJSON(w, http.StatusBadGateway, carrierCheckResponse{Success: false, Message: err.Error()})
		return
	}
	api.WriteJSON(w, http.StatusOK, carrierCheckResponse{Success: true, Message: "carrier reachable", LatencyMs: rtt.Milliseconds()})
}
