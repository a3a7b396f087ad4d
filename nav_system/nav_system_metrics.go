package nav_system

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the navigation counters exported to prometheus. A nil
// registerer keeps them unregistered, which tests rely on.
type Metrics struct {
	TilesAttached   prometheus.Counter
	TilesDetached   prometheus.Counter
	TilesArchived   prometheus.Counter
	TilesRestored   prometheus.Counter
	Builds          *prometheus.CounterVec
	BuildSeconds    prometheus.Histogram
	PendingBuilds   prometheus.Gauge
	ResidentTiles   prometheus.Gauge
	OctreeElements  prometheus.Gauge
	PathQueries     *prometheus.CounterVec
	PathsRepathed   prometheus.Counter
	PathsFailed     prometheus.Counter
	PathsDiscarded  prometheus.Counter
	PathsRegistered prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TilesAttached: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "attached_total",
			Help: "Tiles attached to the navmesh.",
		}),
		TilesDetached: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "detached_total",
			Help: "Tiles detached from the navmesh.",
		}),
		TilesArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "archived_total",
			Help: "Tiles written to the archive when they left the active set.",
		}),
		TilesRestored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "restored_total",
			Help: "Tiles restored from the archive instead of rebuilt.",
		}),
		Builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "generator", Name: "builds_total",
			Help: "Finished tile builds by result.",
		}, []string{"result"}),
		BuildSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "generator", Name: "build_seconds",
			Help:    "Time spent building one tile.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		PendingBuilds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "generator", Name: "pending_builds",
			Help: "Tile builds in flight.",
		}),
		ResidentTiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "resident",
			Help: "Tiles currently attached.",
		}),
		OctreeElements: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "octree", Name: "elements",
			Help: "Navigation elements indexed by the octree.",
		}),
		PathQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "paths", Name: "queries_total",
			Help: "Path queries by status.",
		}, []string{"status"}),
		PathsRepathed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "paths", Name: "repathed_total",
			Help: "Invalidated paths recomputed successfully.",
		}),
		PathsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "paths", Name: "repath_failed_total",
			Help: "Invalidated paths whose recomputation failed.",
		}),
		PathsDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "paths", Name: "discarded_total",
			Help: "Observed paths dropped because nobody holds them anymore.",
		}),
		PathsRegistered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "paths", Name: "registered",
			Help: "Paths observed for tile changes.",
		}),
	}
}
