package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the cache engine
type Metrics struct {
	// Write/Read operation metrics
	WriteRequestsTotal    prometheus.Counter
	WriteRequestsDuration prometheus.Histogram
	ReadRequestsTotal     prometheus.Counter
	ReadRequestsDuration  prometheus.Histogram
	QueryRequestsTotal    prometheus.Counter
	QueryRequestsDuration prometheus.Histogram

	// Cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CachedRecords       prometheus.Gauge
	DirtyRecords        prometheus.Gauge

	// Flush metrics
	FlushedRecordsTotal prometheus.Counter
	FlushBatchesTotal   prometheus.Counter
	FlushFailuresTotal  prometheus.Counter
	FlushDuration       prometheus.Histogram

	// Store metrics
	StoreErrorsTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics
func New(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		WriteRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "memdb",
			Subsystem:   "engine",
			Name:        "write_requests_total",
			Help:        "Total number of insert/upsert requests",
			ConstLabels: labels,
		}),
		WriteRequestsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "memdb",
			Subsystem:   "engine",
			Name:        "write_requests_duration_seconds",
			Help:        "Histogram of insert/upsert durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.000001, 4, 10), // 1us to ~260ms
		}),
		ReadRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "memdb",
			Subsystem:   "engine",
			Name:        "read_requests_total",
			Help:        "Total number of get requests",
			ConstLabels: labels,
		}),
		ReadRequestsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "memdb",
			Subsystem:   "engine",
			Name:        "read_requests_duration_seconds",
			Help:        "Histogram of get durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.000001, 4, 10),
		}),
		QueryRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "memdb",
			Subsystem:   "engine",
			Name:        "query_requests_total",
			Help:        "Total number of pass-through queries",
			ConstLabels: labels,
		}),
		QueryRequestsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "memdb",
			Subsystem:   "engine",
			Name:        "query_requests_duration_seconds",
			Help:        "Histogram of pass-through query durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "memdb",
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Total number of cache hits",
			ConstLabels: labels,
		}),
		CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "memdb",
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Total number of cache misses",
			ConstLabels: labels,
		}),
		CacheEvictionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "memdb",
			Subsystem:   "cache",
			Name:        "evictions_total",
			Help:        "Total number of idle evictions",
			ConstLabels: labels,
		}),
		CachedRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "memdb",
			Subsystem:   "cache",
			Name:        "records",
			Help:        "Current number of cached records",
			ConstLabels: labels,
		}),
		DirtyRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "memdb",
			Subsystem:   "cache",
			Name:        "dirty_records",
			Help:        "Current number of records awaiting flush",
			ConstLabels: labels,
		}),

		FlushedRecordsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "memdb",
			Subsystem:   "flush",
			Name:        "records_total",
			Help:        "Total number of records cleanly persisted",
			ConstLabels: labels,
		}),
		FlushBatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "memdb",
			Subsystem:   "flush",
			Name:        "batches_total",
			Help:        "Total number of flush batches issued",
			ConstLabels: labels,
		}),
		FlushFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "memdb",
			Subsystem:   "flush",
			Name:        "failures_total",
			Help:        "Total number of flush batches that failed fully or partially",
			ConstLabels: labels,
		}),
		FlushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "memdb",
			Subsystem:   "flush",
			Name:        "duration_seconds",
			Help:        "Histogram of flush pass durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		StoreErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "memdb",
			Subsystem:   "store",
			Name:        "errors_total",
			Help:        "Total number of store operation errors",
			ConstLabels: labels,
		}),
	}
}

// RecordWrite records metrics for an insert/upsert
func (m *Metrics) RecordWrite(duration float64) {
	if m == nil {
		return
	}
	m.WriteRequestsTotal.Inc()
	m.WriteRequestsDuration.Observe(duration)
}

// RecordRead records metrics for a get
func (m *Metrics) RecordRead(duration float64, hit bool) {
	if m == nil {
		return
	}
	m.ReadRequestsTotal.Inc()
	m.ReadRequestsDuration.Observe(duration)
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// RecordQuery records metrics for a pass-through query
func (m *Metrics) RecordQuery(duration float64) {
	if m == nil {
		return
	}
	m.QueryRequestsTotal.Inc()
	m.QueryRequestsDuration.Observe(duration)
}

// RecordFlush records metrics for one flush pass
func (m *Metrics) RecordFlush(duration float64, records, batches, failures int) {
	if m == nil {
		return
	}
	m.FlushDuration.Observe(duration)
	m.FlushedRecordsTotal.Add(float64(records))
	m.FlushBatchesTotal.Add(float64(batches))
	m.FlushFailuresTotal.Add(float64(failures))
}

// RecordEvictions records idle evictions
func (m *Metrics) RecordEvictions(n int) {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.Add(float64(n))
}

// RecordStoreError counts a store operation failure
func (m *Metrics) RecordStoreError() {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.Inc()
}

// SetIndexSize updates the cached/dirty record gauges
func (m *Metrics) SetIndexSize(cached, dirty int) {
	if m == nil {
		return
	}
	m.CachedRecords.Set(float64(cached))
	m.DirtyRecords.Set(float64(dirty))
}
