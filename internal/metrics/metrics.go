// Package metrics collects and exposes kernel observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (global counters + time series) for a
//     lightweight JSON /metrics endpoint.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// Keeping both lets the kernel be introspected without a Prometheus
// sidecar while still supporting an external monitoring stack.
//
// # Concurrency — hot path
//
// RecordSpawnLatency and RecordPoll are called from the Scheduler on every task
// lifecycle transition and must be fast. They use atomic increments for
// global counters and dispatch a lightweight event onto a buffered
// channel (tsChan) for the time-series worker to process asynchronously,
// avoiding any lock on the hot path.
//
// # Invariants
//
//   - TasksSpawned == TasksReady + TasksTrapped + tasks still pending.
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute
//     granularity).
//   - tsChan capacity is 8192 events; events dropped when full are
//     counted in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Spawns       int64
	Traps        int64
	TotalLatency int64
	Count        int64 // for calculating avg
}

// Metrics collects and exposes kernel runtime metrics.
type Metrics struct {
	// Spawn/poll lifecycle
	TasksSpawned   atomic.Int64
	TasksReady     atomic.Int64
	TasksTrapped   atomic.Int64
	SpawnFailures  atomic.Int64 // failed before a TaskId was even issued

	// Spawn latency, from Spawn() call to TaskId issued (milliseconds)
	SpawnLatencyTotalMs atomic.Int64
	SpawnLatencyMinMs   atomic.Int64
	SpawnLatencyMaxMs   atomic.Int64

	// Interrupt dispatch
	SyscallsDispatched atomic.Int64
	SyscallsFatal      atomic.Int64

	// Handler cache (C5)
	HandlerCacheHits   atomic.Int64
	HandlerCacheMisses atomic.Int64

	// Per-reason spawn failure counters, e.g. "fetch", "compile", "instantiate"
	failureReasons sync.Map // reason string -> *atomic.Int64

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention
// on the hot path.
type timeSeriesEvent struct {
	durationMs int64
	isTrap     bool
}

// Global metrics instance.
var global = &Metrics{startTime: time.Now()}

func init() {
	global.SpawnLatencyMinMs.Store(int64(^uint64(0) >> 1)) // Max int64
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics { return global }

// StartTime returns the time when the metrics system was initialized.
func StartTime() time.Time { return global.startTime }

// RecordSpawnLatency records the wall-clock time from a Spawn call to its
// TaskId being issued.
func RecordSpawnLatency(d time.Duration) {
	global.TasksSpawned.Add(1)
	ms := d.Milliseconds()
	global.SpawnLatencyTotalMs.Add(ms)
	updateMin(&global.SpawnLatencyMinMs, ms)
	updateMax(&global.SpawnLatencyMaxMs, ms)
	global.recordTimeSeries(ms, false)
	RecordPrometheusSpawn(ms)
}

// RecordSpawnFailure records a spawn that failed before a TaskId was
// issued, tagged with the pipeline stage that rejected it (e.g. "fetch",
// "compile", "instantiate", "dump_inputs").
func RecordSpawnFailure(reason string) {
	global.SpawnFailures.Add(1)
	v, _ := global.failureReasons.LoadOrStore(reason, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
	RecordPrometheusSpawnFailure(reason)
}

// RecordPoll records a task reaching a terminal poll state.
func RecordPoll(trapped bool) {
	if trapped {
		global.TasksTrapped.Add(1)
	} else {
		global.TasksReady.Add(1)
	}
	global.recordTimeSeries(0, trapped)
	RecordPrometheusPoll(trapped)
}

// RecordSyscall records one trampoline dispatch (spec.md C6), distinguishing
// a fatal (bridge-level) failure from a successful or handler-error result.
func RecordSyscall(fatal bool) {
	global.SyscallsDispatched.Add(1)
	if fatal {
		global.SyscallsFatal.Add(1)
	}
	RecordPrometheusSyscall(fatal)
}

// RecordHandlerCacheLookup records one HandlerCache.Resolve call (spec.md C5).
func RecordHandlerCacheLookup(hit bool) {
	if hit {
		global.HandlerCacheHits.Add(1)
	} else {
		global.HandlerCacheMisses.Add(1)
	}
	RecordPrometheusHandlerCacheLookup(hit)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the hot path.
func (m *Metrics) recordTimeSeries(durationMs int64, isTrap bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, isTrap: isTrap}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.isTrap)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (must be called
// from a single goroutine).
func (m *Metrics) applyTimeSeriesEvent(durationMs int64, isTrap bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Spawns++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if isTrap {
			bucket.Traps++
		}
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	spawned := m.TasksSpawned.Load()
	avgLatency := float64(0)
	if spawned > 0 {
		avgLatency = float64(m.SpawnLatencyTotalMs.Load()) / float64(spawned)
	}

	minLatency := m.SpawnLatencyMinMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	failures := map[string]int64{}
	m.failureReasons.Range(func(key, value interface{}) bool {
		failures[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"tasks": map[string]interface{}{
			"spawned":        spawned,
			"ready":          m.TasksReady.Load(),
			"trapped":        m.TasksTrapped.Load(),
			"spawn_failures": m.SpawnFailures.Load(),
			"failure_reasons": failures,
		},
		"spawn_latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.SpawnLatencyMaxMs.Load(),
		},
		"syscalls": map[string]interface{}{
			"dispatched": m.SyscallsDispatched.Load(),
			"fatal":      m.SyscallsFatal.Load(),
		},
		"handler_cache": map[string]interface{}{
			"hits":   m.HandlerCacheHits.Load(),
			"misses": m.HandlerCacheMisses.Load(),
		},
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgDuration := float64(0)
		if bucket.Count > 0 {
			avgDuration = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"spawns":       bucket.Spawns,
			"traps":        bucket.Traps,
			"avg_duration": avgDuration,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
