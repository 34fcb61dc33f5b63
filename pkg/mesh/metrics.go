package mesh

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core's Prometheus instrumentation on an isolated
// registry, the same shape as the teacher's pkg/p2pnet/metrics.go: a
// constructor creates a fresh prometheus.Registry rather than registering
// against the global default, so a process can run several nodes without
// collector name collisions.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesForwardedTotal   *prometheus.CounterVec
	DuplicatesDroppedTotal   prometheus.Counter
	GossipSentTotal          prometheus.Counter
	GossipReceivedTotal      prometheus.Counter
	ConnectionsAdmittedTotal prometheus.Counter
	ConnectionsDroppedTotal  *prometheus.CounterVec
	RewiringEventsTotal      prometheus.Counter
	IslandProbesTotal        prometheus.Counter
	ReassemblyCompletedTotal prometheus.Counter
	ReassemblyExpiredTotal   prometheus.Counter
	ReassemblyFailedTotal    prometheus.Counter

	ConnectedPeersGauge prometheus.Gauge
	SeenMessagesGauge   prometheus.Gauge
	HopRecordsGauge     prometheus.Gauge
}

// NewMetrics builds a Metrics bound to a fresh, isolated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		MessagesForwardedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "messages_forwarded_total",
			Help:      "Messages forwarded to other peers, by payload kind.",
		}, []string{"kind"}),
		DuplicatesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "duplicates_dropped_total",
			Help:      "Inbound messages dropped because their messageId had already been seen.",
		}),
		GossipSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "gossip_sent_total",
			Help:      "Peer-list gossip messages sent to direct peers.",
		}),
		GossipReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "gossip_received_total",
			Help:      "Peer-list gossip messages received from direct peers.",
		}),
		ConnectionsAdmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "connections_admitted_total",
			Help:      "Successful connection admissions from discovery.",
		}),
		ConnectionsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "connections_dropped_total",
			Help:      "Connections dropped by the optimizer, by reason.",
		}, []string{"reason"}),
		RewiringEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "rewiring_events_total",
			Help:      "Triangle-breaking rewiring cycles that performed a swap.",
		}),
		IslandProbesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "island_probes_total",
			Help:      "Island-discovery cycles that sacrificed a redundant edge.",
		}),
		ReassemblyCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "reassembly_completed_total",
			Help:      "File transfers fully reassembled and written to disk.",
		}),
		ReassemblyExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "reassembly_expired_total",
			Help:      "Pending file transfers dropped after exceeding the idle TTL.",
		}),
		ReassemblyFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localmesh",
			Name:      "reassembly_failed_total",
			Help:      "File transfers that failed to write to disk.",
		}),
		ConnectedPeersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "localmesh",
			Name:      "connected_peers",
			Help:      "Current number of directly connected peers.",
		}),
		SeenMessagesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "localmesh",
			Name:      "seen_messages",
			Help:      "Current size of the de-duplication record.",
		}),
		HopRecordsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "localmesh",
			Name:      "hop_records",
			Help:      "Current number of tracked source-node hop observations.",
		}),
	}

	reg.MustRegister(
		m.MessagesForwardedTotal,
		m.DuplicatesDroppedTotal,
		m.GossipSentTotal,
		m.GossipReceivedTotal,
		m.ConnectionsAdmittedTotal,
		m.ConnectionsDroppedTotal,
		m.RewiringEventsTotal,
		m.IslandProbesTotal,
		m.ReassemblyCompletedTotal,
		m.ReassemblyExpiredTotal,
		m.ReassemblyFailedTotal,
		m.ConnectedPeersGauge,
		m.SeenMessagesGauge,
		m.HopRecordsGauge,
	)
	return m
}
