package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestsDuration) }

var httpRequestsDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status code.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "code"},
)

func ObserveHTTPRequest(method, route string, code int, started time.Time) {
	httpRequestsDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(time.Since(started).Seconds())
}
