// Package prometheus exports cache events as Prometheus counters.
package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	reviewcache "github.com/dgduncan/go-review-cache"
)

// Metrics implements reviewcache.Metrics.
type Metrics struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	coalesced   *prometheus.CounterVec
	invalidated *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ reviewcache.Metrics = (*Metrics)(nil)

// New registers the cache counters on a private registry under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "reviewcache"
	}

	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      name,
				Help:      help,
			},
			[]string{"cache"},
		)
	}

	m := &Metrics{
		hits:        counter("hits_total", "Lookups served from a live entry"),
		misses:      counter("misses_total", "Lookups that issued a remote call"),
		coalesced:   counter("coalesced_total", "Callers that shared an in-flight remote call"),
		invalidated: counter("invalidated_entries_total", "Entries removed by invalidation"),
		registry:    prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.hits, m.misses, m.coalesced, m.invalidated)
	return m
}

func (m *Metrics) Hit(cache string)       { m.hits.WithLabelValues(cache).Inc() }
func (m *Metrics) Miss(cache string)      { m.misses.WithLabelValues(cache).Inc() }
func (m *Metrics) Coalesced(cache string) { m.coalesced.WithLabelValues(cache).Inc() }

func (m *Metrics) Invalidated(cache string, n int) {
	if n > 0 {
		m.invalidated.WithLabelValues(cache).Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
