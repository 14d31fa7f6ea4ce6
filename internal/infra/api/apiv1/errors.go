package apiv1

import (
	"errors"
	"net/http"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/infra/api"
	"esim-reseller/internal/infra/logging"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrAuthenticity):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOwnership):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		// covers ErrSubscriberNotFound
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		api.WriteError(w, code, "internal error")
		return
	}
	api.WriteError(w, code, err.Error())
}
