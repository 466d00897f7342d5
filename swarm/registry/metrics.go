package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "peerchat_registry"

// Metrics holds the Prometheus metrics of a registry.
type Metrics struct {
	Registry *prometheus.Registry

	LivePeers     prometheus.Gauge
	Registrations prometheus.Counter
	Heartbeats    *prometheus.CounterVec
	Evictions     prometheus.Counter
	Blocks        prometheus.Counter
}

// NewMetrics creates metrics registered on reg. A fresh registry is used when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		LivePeers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_peers",
			Help:      "Number of live peers at the last listing",
		}),
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Total number of registrations",
		}),
		Heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total number of heartbeats by result",
		}, []string{"result"}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Total number of expired peers removed",
		}),
		Blocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Total number of advisory block reports",
		}),
	}
}
