// Package metrics exposes prometheus collectors for the roadway stack.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PacketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadway_packets_total",
			Help: "Packets handled by direction",
		},
		[]string{"dir"},
	)

	PacketDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadway_packet_drops_total",
			Help: "Inbound packets dropped by reason",
		},
		[]string{"reason"},
	)

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadway_transactions_total",
			Help: "Transactions started by kind and side",
		},
		[]string{"kind", "side"},
	)

	TransactionOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadway_transaction_outcomes_total",
			Help: "Transaction terminal outcomes by kind",
		},
		[]string{"kind", "outcome"},
	)

	TransactionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roadway_transactions_live",
			Help: "Transactions currently in the table",
		},
	)

	PeersKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roadway_peers_known",
			Help: "Remote peers in the registry",
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to
// call from every stack constructor.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PacketsTotal,
			PacketDropsTotal,
			TransactionsTotal,
			TransactionOutcomesTotal,
			TransactionsLive,
			PeersKnown,
		)
	})
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
