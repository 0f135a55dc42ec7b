package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage operation metrics
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Cache gateway metrics
	CacheRequestTotal  *prometheus.CounterVec
	CacheHitTotal      *prometheus.CounterVec
	CacheFallbackTotal prometheus.Counter

	// Sync reconciler metrics
	SyncPushTotal    *prometheus.CounterVec
	SyncCycleTotal   *prometheus.CounterVec
	SyncCycleSeconds prometheus.Histogram
	PendingItems     *prometheus.GaugeVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "status"}),

		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		CacheRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Total number of requests routed through the cache gateway",
		}, []string{"strategy", "outcome"}),

		CacheHitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of requests served from a cache bucket",
		}, []string{"strategy"}),

		CacheFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_offline_fallback_total",
			Help: "Total number of requests that exhausted every cache fallback",
		}),

		SyncPushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_push_total",
			Help: "Total number of per-item sync pushes",
		}, []string{"kind", "status"}),

		SyncCycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_cycle_total",
			Help: "Total number of sync cycles",
		}, []string{"status"}),

		SyncCycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_cycle_duration_seconds",
			Help:    "Sync cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		PendingItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sync_pending_items",
			Help: "Locally-pending items awaiting sync",
		}, []string{"kind"}),
	}

	// Register metrics with the default registry
	registerMetrics(m)

	// Store as global instance
	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	// Try to register each metric, ignore if already registered
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.StorageOperationTotal)
	registerOrGet(m.StorageOperationDuration)
	registerOrGet(m.CacheRequestTotal)
	registerOrGet(m.CacheHitTotal)
	registerOrGet(m.CacheFallbackTotal)
	registerOrGet(m.SyncPushTotal)
	registerOrGet(m.SyncCycleTotal)
	registerOrGet(m.SyncCycleSeconds)
	registerOrGet(m.PendingItems)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		// If already registered, return the existing collector
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
