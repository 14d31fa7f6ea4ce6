package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		orderTransitionsTotal,
		orderLostRacesTotal,
		ordersCreatedTotal,
	)
}

var (
	orderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Applied order status transitions.",
		},
		[]string{"from", "to"},
	)

	// A lost race is a conditional update that matched no row because
	// another actor moved the order first.
	orderLostRacesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_lost_races_total",
			Help: "Conditional order updates that found the order already moved.",
		},
		[]string{"from", "to"},
	)

	ordersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created, by type.",
		},
		[]string{"type"},
	)
)

func IncOrderTransition(from, to string) {
	orderTransitionsTotal.WithLabelValues(norm(from), norm(to)).Inc()
}

func IncOrderLostRace(from, to string) {
	orderLostRacesTotal.WithLabelValues(norm(from), norm(to)).Inc()
}

func IncOrderCreated(typ string) {
	ordersCreatedTotal.WithLabelValues(norm(typ)).Inc()
}
