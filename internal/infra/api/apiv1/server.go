package apiv1

import (
	"github.com/rs/zerolog"

	"esim-reseller/internal/infra/api"
	"esim-reseller/internal/infra/worker"
	"esim-reseller/internal/usecase"
)

// TaskSubmitter detaches work from the request. worker.Pool satisfies it.
type TaskSubmitter interface {
	Submit(task worker.Task) error
}

type Deps struct {
	Orders   usecase.OrderUseCase
	Payments usecase.PaymentUseCase
	Webhooks usecase.WebhookUseCase
	Auth     *api.Authenticator

	// Optional. Without a pool webhooks are handled inline; without a
	// limiter no rate limit applies.
	Pool       TaskSubmitter
	Limiter    api.Limiter
	RatePerMin int
}

// Server implements the /api/v1 handlers.
type Server struct {
	orders   usecase.OrderUseCase
	payments usecase.PaymentUseCase
	webhooks usecase.WebhookUseCase
	auth     *api.Authenticator
	pool     TaskSubmitter
	limiter  api.Limiter
	perMin   int
	log      *zerolog.Logger
}

func NewServer(d Deps, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "apiv1").Logger()
	return &Server{
		orders:   d.Orders,
		payments: d.Payments,
		webhooks: d.Webhooks,
		auth:     d.Auth,
		pool:     d.Pool,
		limiter:  d.Limiter,
		perMin:   d.RatePerMin,
		log:      &l,
	}
}
