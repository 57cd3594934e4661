package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for kernel metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	spawnsTotal         prometheus.Counter
	spawnFailuresTotal  *prometheus.CounterVec
	pollsTerminalTotal  *prometheus.CounterVec
	syscallsTotal       *prometheus.CounterVec
	handlerCacheLookups *prometheus.CounterVec

	// Histograms
	spawnDuration prometheus.Histogram

	// Gauges
	uptime      prometheus.GaugeFunc
	tasksActive prometheus.Gauge
}

// Default histogram buckets for spawn duration (in milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		spawnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_spawns_total",
			Help:      "Total number of tasks spawned",
		}),

		spawnFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_spawn_failures_total",
			Help:      "Total spawn failures by pipeline stage",
		}, []string{"reason"}),

		pollsTerminalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_polls_terminal_total",
			Help:      "Total tasks reaching a terminal poll state, by outcome",
		}, []string{"outcome"}), // ready, trap

		syscallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syscalls_total",
			Help:      "Total trampoline dispatches, by status",
		}, []string{"status"}), // ok, fatal

		handlerCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_cache_lookups_total",
			Help:      "Total interrupt handler cache lookups, by result",
		}, []string{"result"}), // hit, miss

		spawnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "spawn_duration_milliseconds",
			Help:      "Duration from Spawn call to TaskId issuance, in milliseconds",
			Buckets:   buckets,
		}),

		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Number of tasks currently tracked by the Task Store",
		}),
	}

	pm.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the kernel process started",
	}, func() float64 {
		return time.Since(StartTime()).Seconds()
	})

	registry.MustRegister(
		pm.spawnsTotal,
		pm.spawnFailuresTotal,
		pm.pollsTerminalTotal,
		pm.syscallsTotal,
		pm.handlerCacheLookups,
		pm.spawnDuration,
		pm.uptime,
		pm.tasksActive,
	)

	promMetrics = pm
}

// RecordPrometheusSpawn records a successful spawn's latency.
func RecordPrometheusSpawn(durationMs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.spawnsTotal.Inc()
	promMetrics.spawnDuration.Observe(float64(durationMs))
}

// RecordPrometheusSpawnFailure records a spawn rejected before a TaskId
// was issued.
func RecordPrometheusSpawnFailure(reason string) {
	if promMetrics == nil {
		return
	}
	promMetrics.spawnFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordPrometheusPoll records a task reaching a terminal poll state.
func RecordPrometheusPoll(trapped bool) {
	if promMetrics == nil {
		return
	}
	outcome := "ready"
	if trapped {
		outcome = "trap"
	}
	promMetrics.pollsTerminalTotal.WithLabelValues(outcome).Inc()
}

// RecordPrometheusSyscall records one trampoline dispatch.
func RecordPrometheusSyscall(fatal bool) {
	if promMetrics == nil {
		return
	}
	status := "ok"
	if fatal {
		status = "fatal"
	}
	promMetrics.syscallsTotal.WithLabelValues(status).Inc()
}

// RecordPrometheusHandlerCacheLookup records one HandlerCache.Resolve call.
func RecordPrometheusHandlerCacheLookup(hit bool) {
	if promMetrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	promMetrics.handlerCacheLookups.WithLabelValues(result).Inc()
}

// SetTasksActive sets the current count of tracked tasks.
func SetTasksActive(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.tasksActive.Set(float64(n))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
