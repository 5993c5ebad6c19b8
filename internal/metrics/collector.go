// Package metrics exports engine activity as Prometheus metrics.
//
// A Collector is a materialize.Observer: register it on the engine and
// serve Handler() at /metrics.
//
//	collector := metrics.NewCollector(nil)
//	engine.AddObserver(collector)
//	http.Handle("/metrics", collector.Handler())
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kwspace/kws/internal/vfs/materialize"
	"github.com/kwspace/kws/internal/vfs/schema"
)

// Config represents metrics configuration
type Config struct {
	Namespace string
	// Labels are attached to every metric as constant labels
	Labels map[string]string
}

// DefaultConfig returns the "kws" namespace with no extra labels.
func DefaultConfig() *Config {
	return &Config{Namespace: "kws"}
}

// Collector records flush and sync results in its own registry
type Collector struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec   // operation, status
	duration   *prometheus.HistogramVec // operation
	items      *prometheus.CounterVec   // operation, kind
	bytes      *prometheus.CounterVec   // operation
	itemErrors *prometheus.CounterVec   // operation
	conflicts  prometheus.Counter
	rollbacks  prometheus.Counter
}

var _ materialize.Observer = (*Collector)(nil)

// NewCollector creates a collector with a fresh registry. A nil config
// uses DefaultConfig.
func NewCollector(config *Config) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	constLabels := prometheus.Labels(config.Labels)

	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "operations_total",
			Help:        "Flush and sync runs by outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "operation_duration_seconds",
			Help:        "Duration of flush and sync runs.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"operation"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "items_total",
			Help:        "Entries processed by flush and sync, by kind.",
			ConstLabels: constLabels,
		}, []string{"operation", "kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "bytes_total",
			Help:        "Content bytes written by flush or read by sync.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		itemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "item_errors_total",
			Help:        "Per-item failures recorded in reports.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "conflicts_total",
			Help:        "Nodes moved to conflict status.",
			ConstLabels: constLabels,
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "rollbacks_total",
			Help:        "Atomic flushes restored from backup.",
			ConstLabels: constLabels,
		}),
	}

	c.registry.MustRegister(
		c.operations, c.duration, c.items, c.bytes, c.itemErrors, c.conflicts, c.rollbacks,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// FlushCompleted implements materialize.Observer.
func (c *Collector) FlushCompleted(report *materialize.FlushReport, err error) {
	c.operations.WithLabelValues("flush", outcome(err)).Inc()
	c.duration.WithLabelValues("flush").Observe(report.Duration.Seconds())
	c.items.WithLabelValues("flush", "file").Add(float64(report.FilesWritten))
	c.items.WithLabelValues("flush", "directory").Add(float64(report.DirectoriesCreated))
	c.items.WithLabelValues("flush", "symlink").Add(float64(report.SymlinksCreated))
	c.items.WithLabelValues("flush", "deleted").Add(float64(report.FilesDeleted))
	c.bytes.WithLabelValues("flush").Add(float64(report.BytesWritten))
	c.itemErrors.WithLabelValues("flush").Add(float64(len(report.Errors)))
	if report.RolledBack {
		c.rollbacks.Inc()
	}
}

// SyncCompleted implements materialize.Observer.
func (c *Collector) SyncCompleted(workspaceID string, report *materialize.SyncReport, err error) {
	c.operations.WithLabelValues("sync", outcome(err)).Inc()
	c.duration.WithLabelValues("sync").Observe(report.Duration.Seconds())
	c.items.WithLabelValues("sync", "file").Add(float64(report.FilesSynced))
	c.items.WithLabelValues("sync", "directory").Add(float64(report.DirectoriesSynced))
	c.items.WithLabelValues("sync", "symlink").Add(float64(report.SymlinksSynced))
	c.bytes.WithLabelValues("sync").Add(float64(report.BytesSynced))
	c.itemErrors.WithLabelValues("sync").Add(float64(len(report.Errors)))
}

// ConflictDetected implements materialize.Observer.
func (c *Collector) ConflictDetected(*schema.VNode) {
	c.conflicts.Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
