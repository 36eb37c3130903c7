package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors the teacher's HealthLogger gauge/counter set
// (core/system_health_logging.go), repurposed to the connection/traffic
// counters a sync Service needs instead of a blockchain node's.
type Metrics struct {
	registry       *prometheus.Registry
	peerCount      prometheus.Gauge
	fetchCounter   prometheus.Counter
	storeCounter   prometheus.Counter
	errorCounter   prometheus.Counter
}

// NewMetrics registers a fresh gauge/counter set against its own
// registry, so an embedder may mount it under any prefix it likes without
// colliding with the default global registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		peerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odinsync_connected_peers",
			Help: "Number of currently connected peers.",
		}),
		fetchCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odinsync_fetch_requests_total",
			Help: "Total fetch requests issued or served.",
		}),
		storeCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odinsync_store_requests_total",
			Help: "Total store requests issued or served.",
		}),
		errorCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odinsync_errors_total",
			Help: "Total handshake/storage/peer errors observed.",
		}),
	}
	reg.MustRegister(m.peerCount, m.fetchCounter, m.storeCounter, m.errorCounter)
	return m
}

// Registry exposes the underlying prometheus.Registry for an embedder to
// mount behind promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) peerConnected()    { m.peerCount.Inc() }
func (m *Metrics) peerDisconnected() { m.peerCount.Dec() }
func (m *Metrics) fetch()            { m.fetchCounter.Inc() }
func (m *Metrics) store()            { m.storeCounter.Inc() }
func (m *Metrics) errored()          { m.errorCounter.Inc() }
