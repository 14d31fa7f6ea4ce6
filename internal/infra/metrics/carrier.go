package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(carrierCallsLatency) }

var carrierCallsLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "carrier_calls_duration_seconds",
		Help:    "Carrier API call latency by method and result.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	},
	[]string{"method", "result"}, // result: ok|error|timeout
)

func ObserveCarrierCall(method, result string, started time.Time) {
	carrierCallsLatency.WithLabelValues(method, norm(result)).Observe(time.Since(started).Seconds())
}
