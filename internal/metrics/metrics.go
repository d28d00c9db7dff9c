// Package metrics provides Prometheus-based metrics collection for
// echolocate: scan lifecycle, probe activity, alert generation, database
// and API health.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "echolocate"

	subsystemScan     = "scan"
	subsystemProbe    = "probe"
	subsystemAlerts   = "alerts"
	subsystemDatabase = "database"
	subsystemAPI      = "api"
	subsystemSystem   = "system"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Scan metrics
	scansTotal     *prometheus.CounterVec
	scanDuration   *prometheus.HistogramVec
	scanErrors     *prometheus.CounterVec
	devicesFound   *prometheus.CounterVec
	newDevices     prometheus.Counter
	scanActive     prometheus.Gauge
	monitorCycles  prometheus.Counter
	monitorRunning prometheus.Gauge

	// Probe metrics
	pingsTotal    *prometheus.CounterVec
	pingRTT       prometheus.Histogram
	portsProbed   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	// Alert metrics
	alertsGenerated *prometheus.CounterVec
	alertDeliveries *prometheus.CounterVec

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	dbConnections   prometheus.Gauge

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// New creates a metrics instance with all collectors registered on a
// fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,
	}

	m.initScanMetrics()
	m.initProbeMetrics()
	m.initAlertMetrics()
	m.initDatabaseMetrics()
	m.initAPIMetrics()
	m.initSystemMetrics()
	m.register()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (m *Metrics) initScanMetrics() {
	m.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	m.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of scans in seconds",
			Buckets:   []float64{1.0, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0, 600.0},
		},
		[]string{"kind"},
	)

	m.scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "errors_total",
			Help:      "Total number of scan failures by kind and error code",
		},
		[]string{"kind", "error_code"},
	)

	m.devicesFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "devices_found_total",
			Help:      "Total number of devices seen across scans by kind",
		},
		[]string{"kind"},
	)

	m.newDevices = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "new_devices_total",
			Help:      "Total number of devices seen for the first time",
		},
	)

	m.scanActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Whether a scan is currently running (0 or 1)",
		},
	)

	m.monitorCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "monitor_cycles_total",
			Help:      "Total number of completed monitor cycles",
		},
	)

	m.monitorRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "monitor_running",
			Help:      "Whether the continuous monitor loop is active (0 or 1)",
		},
	)
}

func (m *Metrics) initProbeMetrics() {
	m.pingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "pings_total",
			Help:      "Total number of ping probes by result",
		},
		[]string{"result"},
	)

	m.pingRTT = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "ping_rtt_milliseconds",
			Help:      "Round-trip time of successful pings in milliseconds",
			Buckets:   []float64{0.5, 1.0, 2.0, 5.0, 10.0, 25.0, 50.0, 100.0, 250.0, 1000.0},
		},
	)

	m.portsProbed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "ports_total",
			Help:      "Total number of port probes by resulting state",
		},
		[]string{"state"},
	)

	m.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of per-device probe batches in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"operation"},
	)
}

func (m *Metrics) initAlertMetrics() {
	m.alertsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAlerts,
			Name:      "generated_total",
			Help:      "Total number of alerts generated by type and severity",
		},
		[]string{"type", "severity"},
	)

	m.alertDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAlerts,
			Name:      "deliveries_total",
			Help:      "Total number of alert delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)
}

func (m *Metrics) initDatabaseMetrics() {
	m.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)

	m.dbConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "connections_active",
			Help:      "Number of active database connections",
		},
	)
}

func (m *Metrics) initAPIMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

func (m *Metrics) initSystemMetrics() {
	m.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	m.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	m.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
}

func (m *Metrics) register() {
	m.registry.MustRegister(m.scansTotal)
	m.registry.MustRegister(m.scanDuration)
	m.registry.MustRegister(m.scanErrors)
	m.registry.MustRegister(m.devicesFound)
	m.registry.MustRegister(m.newDevices)
	m.registry.MustRegister(m.scanActive)
	m.registry.MustRegister(m.monitorCycles)
	m.registry.MustRegister(m.monitorRunning)

	m.registry.MustRegister(m.pingsTotal)
	m.registry.MustRegister(m.pingRTT)
	m.registry.MustRegister(m.portsProbed)
	m.registry.MustRegister(m.probeDuration)

	m.registry.MustRegister(m.alertsGenerated)
	m.registry.MustRegister(m.alertDeliveries)

	m.registry.MustRegister(m.dbQueries)
	m.registry.MustRegister(m.dbQueryDuration)
	m.registry.MustRegister(m.dbConnections)

	m.registry.MustRegister(m.httpRequests)
	m.registry.MustRegister(m.httpDuration)

	m.registry.MustRegister(m.memoryUsage)
	m.registry.MustRegister(m.goroutines)
	m.registry.MustRegister(m.uptime)
}

// Registry returns the Prometheus registry backing this instance.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Scan metrics

// IncrementScansTotal increments the scan counter for a terminal status.
func (m *Metrics) IncrementScansTotal(kind, status string) {
	m.scansTotal.WithLabelValues(kind, status).Inc()
}

// RecordScanDuration records a completed scan's wall-clock duration.
func (m *Metrics) RecordScanDuration(kind string, duration time.Duration) {
	m.scanDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncrementScanErrors increments the scan error counter.
func (m *Metrics) IncrementScanErrors(kind, errorCode string) {
	m.scanErrors.WithLabelValues(kind, errorCode).Inc()
}

// AddDevicesFound adds to the devices-seen counter.
func (m *Metrics) AddDevicesFound(kind string, count int) {
	m.devicesFound.WithLabelValues(kind).Add(float64(count))
}

// AddNewDevices adds to the first-time-seen device counter.
func (m *Metrics) AddNewDevices(count int) {
	m.newDevices.Add(float64(count))
}

// SetScanActive flags whether a scan is in flight.
func (m *Metrics) SetScanActive(active bool) {
	if active {
		m.scanActive.Set(1)
	} else {
		m.scanActive.Set(0)
	}
}

// IncrementMonitorCycles counts one completed monitor cycle.
func (m *Metrics) IncrementMonitorCycles() {
	m.monitorCycles.Inc()
}

// SetMonitorRunning flags whether the monitor loop is active.
func (m *Metrics) SetMonitorRunning(running bool) {
	if running {
		m.monitorRunning.Set(1)
	} else {
		m.monitorRunning.Set(0)
	}
}

// Probe metrics

// IncrementPings counts one ping probe by result ("alive" or "dead").
func (m *Metrics) IncrementPings(result string) {
	m.pingsTotal.WithLabelValues(result).Inc()
}

// ObservePingRTT records one successful ping round-trip time.
func (m *Metrics) ObservePingRTT(ms float64) {
	m.pingRTT.Observe(ms)
}

// AddPortsProbed adds to the port probe counter for a resulting state.
func (m *Metrics) AddPortsProbed(state string, count int) {
	m.portsProbed.WithLabelValues(state).Add(float64(count))
}

// RecordProbeDuration records a probe batch duration.
func (m *Metrics) RecordProbeDuration(operation string, duration time.Duration) {
	m.probeDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Alert metrics

// IncrementAlertsGenerated counts one generated alert.
func (m *Metrics) IncrementAlertsGenerated(alertType, severity string) {
	m.alertsGenerated.WithLabelValues(alertType, severity).Inc()
}

// IncrementAlertDeliveries counts one delivery attempt.
func (m *Metrics) IncrementAlertDeliveries(channel, status string) {
	m.alertDeliveries.WithLabelValues(channel, status).Inc()
}

// Database metrics

// IncrementDatabaseQueries counts one query by operation and status.
func (m *Metrics) IncrementDatabaseQueries(operation, status string) {
	m.dbQueries.WithLabelValues(operation, status).Inc()
}

// RecordDatabaseQueryDuration records a query duration.
func (m *Metrics) RecordDatabaseQueryDuration(operation string, duration time.Duration) {
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetActiveConnections sets the active database connection gauge.
func (m *Metrics) SetActiveConnections(count int) {
	m.dbConnections.Set(float64(count))
}

// API metrics

// IncrementHTTPRequests counts one HTTP request.
func (m *Metrics) IncrementHTTPRequests(method, path, status string) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records one HTTP request duration.
func (m *Metrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System metrics

// UpdateSystemMetrics refreshes the memory, goroutine and uptime gauges.
func (m *Metrics) UpdateSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.memoryUsage.Set(float64(memStats.Alloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.uptime.Set(time.Since(m.startTime).Seconds())
	m.lastUpdate = time.Now()
}

// Uptime returns the time since this instance was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// LastUpdate returns the last system metrics refresh time.
func (m *Metrics) LastUpdate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdate
}

// StartPeriodicUpdates refreshes system metrics on the given interval
// until the context is canceled.
func (m *Metrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateSystemMetrics()
		}
	}
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Global returns the process-wide metrics instance.
func Global() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = New()
	})
	return globalMetrics
}
