package store

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Container Stores
// =============================================================================

var (
	// storeOperations counts store calls.
	// Labels: backend (dir, badger), op (put, get, delete), status (ok, not_found, error)
	storeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stash",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Total container store operations",
	}, []string{"backend", "op", "status"})

	// storeBytes tracks the size of serialized containers moved through a store.
	// Labels: backend, op (put, get)
	storeBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stash",
		Subsystem: "store",
		Name:      "container_bytes",
		Help:      "Serialized container size in bytes",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
	}, []string{"backend", "op"})

	// cacheLookups counts decoded-container cache lookups.
	// Labels: result (hit, miss)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stash",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Total decoded container cache lookups",
	}, []string{"result"})

	// cacheEvictions counts containers evicted from the cache for capacity.
	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stash",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total decoded containers evicted from the cache",
	})
)

// recordOperation increments the operation counter for err's outcome.
func recordOperation(backend, op string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	storeOperations.WithLabelValues(backend, op, status).Inc()
}

func recordBytes(backend, op string, n int) {
	storeBytes.WithLabelValues(backend, op).Observe(float64(n))
}
