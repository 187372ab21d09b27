package query

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	// intersectionsTotal counts adjacency list reads, one per rule applied.
	// Labels: version
	intersectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphflow",
		Name:      "intersections_total",
		Help:      "Total adjacency list scans and intersections performed by Generic Join",
	}, []string{"version"})

	// matchesTotal counts emitted or counted matches.
	// Labels: mode (match, count)
	matchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphflow",
		Name:      "matches_total",
		Help:      "Total subgraph matches produced",
	}, []string{"mode"})

	// queryDuration measures end-to-end query latency.
	// Labels: mode, status (ok, error, cancelled)
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "graphflow",
		Name:      "query_duration_seconds",
		Help:      "Query execution latency in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 12),
	}, []string{"mode", "status"})
)

var (
	tracerOnce  sync.Once
	queryTracer trace.Tracer
)

// defaultTracer returns the package tracer from the global provider.
func defaultTracer() trace.Tracer {
	tracerOnce.Do(func() {
		queryTracer = otel.Tracer("github.com/Benny93/graphflow-go/internal/query")
	})
	return queryTracer
}
