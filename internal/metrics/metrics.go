// Package metrics exposes the engine's Prometheus instrumentation through
// docker/go-metrics namespaces, the same registration pattern used for
// storage and middleware counters.
package metrics

import (
	"time"

	metrics "github.com/docker/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
)

const namespacePrefix = "flashpack"

var (
	// StorageNamespace carries counters for the package and tree stores.
	StorageNamespace = metrics.NewNamespace(namespacePrefix, "storage", nil)

	// InstallNamespace carries counters and timers for the orchestrator and
	// worker pool.
	InstallNamespace = metrics.NewNamespace(namespacePrefix, "install", nil)

	storeHits   = StorageNamespace.NewLabeledCounter("hits", "store lookups that found an entry", "kind")
	storeMisses = StorageNamespace.NewLabeledCounter("misses", "store lookups that found nothing", "kind")
	storePuts   = StorageNamespace.NewLabeledCounter("puts", "store entries written", "kind")

	tasksSubmitted = InstallNamespace.NewCounter("tasks_submitted", "worker pool tasks submitted")
	tasksFailed    = InstallNamespace.NewCounter("tasks_failed", "worker pool tasks that failed after retries")
	tasksRetried   = InstallNamespace.NewCounter("tasks_retried", "worker pool task retry attempts")

	installDuration = InstallNamespace.NewTimer("duration", "install invocation wall-clock duration")

	// materializeDuration is a raw prometheus.SummaryVec, registered
	// outside the docker/go-metrics namespace helpers, for per-package
	// materialize timings broken down by source ("store" or "network").
	materializeDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: namespacePrefix,
		Subsystem: "install",
		Name:      "materialize_duration_seconds",
		Help:      "time to materialize one package, by source",
	}, []string{"source"})
)

func init() {
	metrics.Register(StorageNamespace)
	metrics.Register(InstallNamespace)
	prometheus.MustRegister(materializeDuration)
}

// ObserveMaterializeDuration records how long one package took to
// materialize from the given source ("store" or "network").
func ObserveMaterializeDuration(t time.Time, source string) {
	materializeDuration.WithLabelValues(source).Observe(time.Since(t).Seconds())
}

// StoreHits returns the hit counter for a store kind ("packages" or
// "trees").
func StoreHits(kind string) metrics.Counter { return storeHits.WithValues(kind) }

// StoreMisses returns the miss counter for a store kind.
func StoreMisses(kind string) metrics.Counter { return storeMisses.WithValues(kind) }

// StorePuts returns the put counter for a store kind.
func StorePuts(kind string) metrics.Counter { return storePuts.WithValues(kind) }

// TasksSubmitted counts a worker pool task admission.
func TasksSubmitted() { tasksSubmitted.Inc() }

// TasksFailed counts a worker pool task that exhausted its retries.
func TasksFailed() { tasksFailed.Inc() }

// TasksRetried counts a single retry attempt.
func TasksRetried() { tasksRetried.Inc() }

// InstallDuration returns the timer tracking orchestrator install/sync
// wall-clock duration.
func InstallDuration() metrics.Timer { return installDuration }
