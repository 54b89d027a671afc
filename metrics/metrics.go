// Package metrics provides lightweight, lock-free request counters using
// atomic operations so they impose minimal overhead on hot paths, mirrored
// into Prometheus collectors for external scraping.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks aggregate statistics for the transaction core.
//
// All counters are accessed exclusively through atomic operations, which means:
//   - There is no mutex contention even under high request concurrency.
//   - The struct may be embedded or passed as a pointer without additional
//     synchronisation.
//   - Reads and writes are linearisable: a value read after a write always
//     reflects at least that write.
//
// Fields are uint64 and aligned to 64-bit boundaries to satisfy the
// requirements of sync/atomic on 32-bit platforms.
//
// Each Increment* call also updates a matching Prometheus counter registered
// in a private registry (not prometheus.DefaultRegisterer), so multiple
// Metrics instances in the same process -- one per test, for instance --
// never collide on a shared global registration.
type Metrics struct {
	// TotalRequests is the number of HTTP requests dispatched since startup.
	TotalRequests uint64

	// Success is the number of requests that received a non-error response.
	Success uint64

	// Failed is the number of requests that resulted in a transport error or
	// a non-2xx/3xx response (application-level definition of failure).
	Failed uint64

	// startTime records when the metrics instance was created so that
	// RequestsPerSecond can compute a meaningful rate.
	startTime time.Time

	registry *prometheus.Registry
	total    prometheus.Counter
	success  prometheus.Counter
	failed   prometheus.Counter
}

// NewMetrics creates a Metrics instance with the start time set to now and
// registers its Prometheus collectors into a fresh, private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		total: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yaakengine",
			Subsystem: "transaction",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests dispatched.",
		}),
		success: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yaakengine",
			Subsystem: "transaction",
			Name:      "requests_success_total",
			Help:      "Total number of HTTP requests that completed without error.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yaakengine",
			Subsystem: "transaction",
			Name:      "requests_failed_total",
			Help:      "Total number of HTTP requests that failed at the transport or application level.",
		}),
	}
	m.registry.MustRegister(m.total, m.success, m.failed)
	return m
}

// IncrementTotal atomically increments the total-requests counter.
func (m *Metrics) IncrementTotal() {
	atomic.AddUint64(&m.TotalRequests, 1)
	m.total.Inc()
}

// IncrementSuccess atomically increments the successful-requests counter.
func (m *Metrics) IncrementSuccess() {
	atomic.AddUint64(&m.Success, 1)
	m.success.Inc()
}

// IncrementFailed atomically increments the failed-requests counter.
func (m *Metrics) IncrementFailed() {
	atomic.AddUint64(&m.Failed, 1)
	m.failed.Inc()
}

// RequestsPerSecond returns the average request rate since the Metrics
// instance was created. Returns 0 only when no time at all has elapsed
// since creation, to avoid division by zero.
func (m *Metrics) RequestsPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.TotalRequests)) / elapsed
}

// Snapshot returns a point-in-time copy of the counters. Because three
// separate atomic loads are not performed under a single lock, the snapshot
// may be very slightly inconsistent at nanosecond granularity, which is
// acceptable for monitoring purposes.
func (m *Metrics) Snapshot() (total, success, failed uint64) {
	return atomic.LoadUint64(&m.TotalRequests),
		atomic.LoadUint64(&m.Success),
		atomic.LoadUint64(&m.Failed)
}

// Handler returns an http.Handler serving this Metrics instance's counters
// in the Prometheus exposition format, for mounting at e.g. /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
