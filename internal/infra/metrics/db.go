package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns) }

var dbPoolConns = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_pool_connections",
		Help: "Connections held by the database pool, by state.",
	},
	[]string{"driver", "state"}, // state: total|idle|in_use
)

func SetDBPoolStats(driver string, total, idle, inUse int32) {
	dbPoolConns.WithLabelValues(norm(driver), "total").Set(float64(total))
	dbPoolConns.WithLabelValues(norm(driver), "idle").Set(float64(idle))
	dbPoolConns.WithLabelValues(norm(driver), "in_use").Set(float64(inUse))
}
