package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter returns the base router with the shared middleware chain,
// /health and /metrics. Versioned APIs are mounted on top of it.
func NewRouter(logger *zerolog.Logger, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(logger), Recover(logger))
	if requestTimeout > 0 {
		r.Use(Timeout(requestTimeout))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
