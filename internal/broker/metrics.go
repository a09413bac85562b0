package broker

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector the broker updates. A single
// instance is shared by every Broker method; callers construct it once and
// register it against promhttp.
type Metrics struct {
	Appends         *prometheus.CounterVec
	Reads           *prometheus.CounterVec
	Commits         *prometheus.CounterVec
	PrunedMessages  *prometheus.CounterVec
	LastRebalanceAt prometheus.Gauge
	LiveReceivers   *prometheus.GaugeVec
}

// NewMetrics builds and registers the broker's metrics against registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stopover_appends_total",
			Help: "Total number of messages appended, by stream.",
		}, []string{"stream"}),
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stopover_reads_total",
			Help: "Total number of successful message reads, by stream and receiver_group.",
		}, []string{"stream", "receiver_group"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stopover_commits_total",
			Help: "Total number of committed offsets, by stream and receiver_group.",
		}, []string{"stream", "receiver_group"}),
		PrunedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stopover_pruned_messages_total",
			Help: "Total number of messages deleted by the prune loop, by stream.",
		}, []string{"stream"}),
		LastRebalanceAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stopover_last_rebalance_timestamp_seconds",
			Help: "Unix timestamp of the last completed rebalance pass.",
		}),
		LiveReceivers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stopover_live_receivers",
			Help: "Number of receivers considered live, by receiver_group.",
		}, []string{"receiver_group"}),
	}

	registry.MustRegister(m.Appends, m.Reads, m.Commits, m.PrunedMessages, m.LastRebalanceAt, m.LiveReceivers)
	return m
}
