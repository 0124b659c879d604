package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. All record methods are safe on a
// nil receiver so components can run without a collector in tests.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Instance metrics
	InstancesCreated prometheus.Counter
	InstancesActive  prometheus.Gauge

	// Simulation metrics
	SimulationsTotal  prometheus.Counter
	SimulationsActive prometheus.Gauge
	TicksTotal        prometheus.Counter
	TickErrors        prometheus.Counter
	TickDuration      prometheus.Histogram
	RecordsProcessed  prometheus.Counter
	BytesProcessed    prometheus.Counter

	// Bundle metrics
	BundlesTotal prometheus.Counter

	// Event bus metrics
	EventsPublished *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests   int64
	TotalErrors     int64
	ActiveInstances int64
	ActiveRuns      int64
	TotalDuration   float64 // sum of all request durations
	RequestCount    int64   // count for averaging
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mocklab_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mocklab_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		InstancesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mocklab_instances_created_total",
				Help: "Total number of service instances created",
			},
		),
		InstancesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mocklab_instances_active",
				Help: "Number of running service instances",
			},
		),

		SimulationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mocklab_simulations_total",
				Help: "Total number of simulation runs started",
			},
		),
		SimulationsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mocklab_simulations_active",
				Help: "Number of active simulation runs",
			},
		),
		TicksTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mocklab_simulation_ticks_total",
				Help: "Total number of simulation ticks executed",
			},
		),
		TickErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mocklab_simulation_tick_errors_total",
				Help: "Total number of failed simulation ticks",
			},
		),
		TickDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mocklab_simulation_tick_duration_seconds",
				Help:    "Simulation tick duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
			},
		),
		RecordsProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mocklab_records_processed_total",
				Help: "Total number of records pushed through stream pipelines",
			},
		),
		BytesProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mocklab_bytes_processed_total",
				Help: "Total serialized bytes of processed records",
			},
		),

		BundlesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mocklab_bundles_created_total",
				Help: "Total number of bundles composed",
			},
		),

		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mocklab_events_published_total",
				Help: "Total number of events published on the bus",
			},
			[]string{"type"},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mocklab_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mocklab_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// IncInstancesCreated increments the instance creation counter
func (m *Metrics) IncInstancesCreated() {
	if m == nil {
		return
	}
	m.InstancesCreated.Inc()
}

// SetInstancesActive sets the number of running instances
func (m *Metrics) SetInstancesActive(count int) {
	if m == nil {
		return
	}
	m.InstancesActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveInstances = int64(count)
	m.mu.Unlock()
}

// IncSimulationsActive records a simulation run start
func (m *Metrics) IncSimulationsActive() {
	if m == nil {
		return
	}
	m.SimulationsTotal.Inc()
	m.SimulationsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveRuns++
	m.mu.Unlock()
}

// DecSimulationsActive records a simulation run end
func (m *Metrics) DecSimulationsActive() {
	if m == nil {
		return
	}
	m.SimulationsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveRuns--
	m.mu.Unlock()
}

// RecordTick records one successful simulation tick
func (m *Metrics) RecordTick(duration time.Duration, records int, bytes int64) {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	m.TickDuration.Observe(duration.Seconds())
	m.RecordsProcessed.Add(float64(records))
	m.BytesProcessed.Add(float64(bytes))
}

// RecordTickError records one failed simulation tick
func (m *Metrics) RecordTickError() {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	m.TickErrors.Inc()
}

// IncBundles increments the bundle counter
func (m *Metrics) IncBundles() {
	if m == nil {
		return
	}
	m.BundlesTotal.Inc()
}

// RecordEvent records a published bus event
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// GetSnapshot returns the current snapshot values
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// UptimeSeconds returns seconds since the collector was created
func (m *Metrics) UptimeSeconds() float64 {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime).Seconds()
}
