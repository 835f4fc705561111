package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegistryProvider exposes dispatch statistics through a standard Prometheus
// registry. Components register gauge functions reading their own stats
// snapshots, so scraping never blocks dispatch.
type RegistryProvider struct {
	registry *prometheus.Registry
}

// NewRegistryProvider creates a metrics provider backed by a fresh
// Prometheus registry.
func NewRegistryProvider() *RegistryProvider {
	return &RegistryProvider{
		registry: prometheus.NewRegistry(),
	}
}

// Registry returns the underlying Prometheus registry.
func (p *RegistryProvider) Registry() *prometheus.Registry {
	return p.registry
}

// RegisterGauge registers a gauge whose value is read from fn at scrape time.
func (p *RegistryProvider) RegisterGauge(name, help string, fn func() float64) error {
	return p.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "taskevents",
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// RegisterCounter registers a counter whose value is read from fn at scrape
// time. fn must be monotonically non-decreasing.
func (p *RegistryProvider) RegisterCounter(name, help string, fn func() float64) error {
	return p.registry.Register(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "taskevents",
			Name:      name,
			Help:      help,
		},
		fn,
	))
}
