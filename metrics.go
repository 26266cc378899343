package acdat

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "acdat"
	subsystem = "reader"
)

var (
	sectorsRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sectors_read_total",
			Help:      "The total number of physical sectors visited while assembling records.",
		},
	)

	nodesLoaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "nodes_loaded_total",
			Help:      "The total number of directory nodes parsed.",
		},
	)

	assetsDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "assets_decoded_total",
			Help:      "The total number of asset payloads decoded. Broken down by form.",
		},
		[]string{"form"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_hits_total",
			Help:      "The total number of cache hits. Broken down by cache.",
		},
		[]string{"cache"},
	)
)

var register sync.Once

// Registry holds the reader's collectors. It is nil until RegisterMetrics
// has been called.
var Registry *prometheus.Registry

// RegisterMetrics creates Registry and registers the reader's collectors.
// It is safe to call more than once; only the first call has an effect.
func RegisterMetrics() *prometheus.Registry {
	register.Do(func() {
		Registry = prometheus.NewRegistry()
		Registry.MustRegister(sectorsRead, nodesLoaded, assetsDecoded, cacheHits)
	})
	return Registry
}
