package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgerbackup"

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Service metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StreamedEntries prometheus.Counter
	ProofCacheHits  prometheus.Counter
	ProofCacheMiss  prometheus.Counter

	// Backup metrics
	BackupRuns     *prometheus.CounterVec
	BackupChunks   prometheus.Counter
	BackupEntries  prometheus.Counter
	BackupBytes    prometheus.Counter
	BackupRetries  prometheus.Counter
	BackupDuration prometheus.Histogram

	// Restore metrics
	RestoreRuns     *prometheus.CounterVec
	RestoreChunks   prometheus.Counter
	RestoreEntries  prometheus.Counter
	RestoreBytes    prometheus.Counter
	RestoreDuration prometheus.Histogram
}

// NewRegistry creates a registry with all metrics registered, plus the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runBuckets := prometheus.ExponentialBuckets(0.05, 2, 14)

	r := &Registry{
		registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_requests_total",
			Help:      "Backup service requests by procedure and result code.",
		}, []string{"procedure", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "service_request_duration_seconds",
			Help:      "Backup service request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure"}),
		StreamedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_streamed_entries_total",
			Help:      "Snapshot entries streamed to clients.",
		}),
		ProofCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_proof_cache_hits_total",
			Help:      "Range proof cache hits.",
		}),
		ProofCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_proof_cache_misses_total",
			Help:      "Range proof cache misses.",
		}),

		BackupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_runs_total",
			Help:      "Backup runs by outcome.",
		}, []string{"outcome"}),
		BackupChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_chunks_total",
			Help:      "Chunks written by backups.",
		}),
		BackupEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_entries_total",
			Help:      "State entries written by backups.",
		}),
		BackupBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_bytes_total",
			Help:      "Artifact bytes written by backups.",
		}),
		BackupRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_range_retries_total",
			Help:      "Snapshot ranges retried after a connection error.",
		}),
		BackupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Duration of backup runs.",
			Buckets:   runBuckets,
		}),

		RestoreRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_runs_total",
			Help:      "Restore runs by outcome.",
		}, []string{"outcome"}),
		RestoreChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_chunks_total",
			Help:      "Chunks applied by restores.",
		}),
		RestoreEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_entries_total",
			Help:      "State entries applied by restores.",
		}),
		RestoreBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_bytes_total",
			Help:      "Artifact bytes read by restores.",
		}),
		RestoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "restore_duration_seconds",
			Help:      "Duration of restore runs.",
			Buckets:   runBuckets,
		}),
	}

	reg.MustRegister(
		r.RequestsTotal, r.RequestDuration, r.StreamedEntries, r.ProofCacheHits, r.ProofCacheMiss,
		r.BackupRuns, r.BackupChunks, r.BackupEntries, r.BackupBytes, r.BackupRetries, r.BackupDuration,
		r.RestoreRuns, r.RestoreChunks, r.RestoreEntries, r.RestoreBytes, r.RestoreDuration,
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Handler returns the /metrics handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns the /metrics handler of r.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// MustRegister registers additional collectors.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.registry.MustRegister(cs...)
}

// RecordRequest counts one service request.
func (r *Registry) RecordRequest(procedure, code string, d time.Duration) {
	r.RequestsTotal.WithLabelValues(procedure, code).Inc()
	r.RequestDuration.WithLabelValues(procedure).Observe(d.Seconds())
}

// RecordProofCache counts a range proof cache lookup.
func (r *Registry) RecordProofCache(hit bool) {
	if hit {
		r.ProofCacheHits.Inc()
	} else {
		r.ProofCacheMiss.Inc()
	}
}

// RecordBackupChunk counts one written chunk.
func (r *Registry) RecordBackupChunk(entries, bytes int) {
	r.BackupChunks.Inc()
	r.BackupEntries.Add(float64(entries))
	r.BackupBytes.Add(float64(bytes))
}

// RecordBackupRun counts a finished backup run.
func (r *Registry) RecordBackupRun(err error, d time.Duration) {
	r.BackupRuns.WithLabelValues(outcome(err)).Inc()
	r.BackupDuration.Observe(d.Seconds())
}

// RecordRestoreChunk counts one applied chunk.
func (r *Registry) RecordRestoreChunk(entries, bytes int) {
	r.RestoreChunks.Inc()
	r.RestoreEntries.Add(float64(entries))
	r.RestoreBytes.Add(float64(bytes))
}

// RecordRestoreRun counts a finished restore run.
func (r *Registry) RecordRestoreRun(err error, d time.Duration) {
	r.RestoreRuns.WithLabelValues(outcome(err)).Inc()
	r.RestoreDuration.Observe(d.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
