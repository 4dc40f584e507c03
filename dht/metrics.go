package dht

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the per-node Prometheus collectors. Each DHT registers its
// own set, so several nodes can live in one process as long as they use
// different registerers.
type metrics struct {
	queriesSent     *prometheus.CounterVec
	queriesReceived *prometheus.CounterVec
	responses       prometheus.Counter
	timeouts        prometheus.Counter
	protocolErrors  prometheus.Counter
	dropped         *prometheus.CounterVec
	nodes           *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &metrics{
		queriesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mainline",
			Subsystem: "dht",
			Name:      "queries_sent_total",
			Help:      "Queries sent, by KRPC method.",
		}, []string{"method"}),
		queriesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mainline",
			Subsystem: "dht",
			Name:      "queries_received_total",
			Help:      "Queries received, by KRPC method.",
		}, []string{"method"}),
		responses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mainline",
			Subsystem: "dht",
			Name:      "responses_total",
			Help:      "Responses matched to an outstanding query.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mainline",
			Subsystem: "dht",
			Name:      "timeouts_total",
			Help:      "Queries that got no answer before their deadline.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mainline",
			Subsystem: "dht",
			Name:      "protocol_errors_total",
			Help:      "KRPC error messages received in reply to our queries.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mainline",
			Subsystem: "dht",
			Name:      "dropped_datagrams_total",
			Help:      "Inbound datagrams dropped, by reason.",
		}, []string{"reason"}),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mainline",
			Subsystem: "dht",
			Name:      "routing_table_nodes",
			Help:      "Nodes in the routing table, by status.",
		}, []string{"status"}),
	}

	for _, c := range []prometheus.Collector{
		m.queriesSent,
		m.queriesReceived,
		m.responses,
		m.timeouts,
		m.protocolErrors,
		m.dropped,
		m.nodes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observeStorage(good, total int) {
	m.nodes.WithLabelValues("good").Set(float64(good))
	m.nodes.WithLabelValues("all").Set(float64(total))
}
