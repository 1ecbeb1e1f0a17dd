package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/ingest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "elmo"

var errMissingRegistry = errors.New("metrics registry is required")

// Collector records ingestion and sync queue measurements.
type Collector struct {
	tokenRefreshes *prometheus.CounterVec
	pagesFetched   prometheus.Counter
	routesInserted prometheus.Counter
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	jobs           *prometheus.CounterVec
}

// NewCollector builds the collectors and registers them with registry.
func NewCollector(registry prometheus.Registerer) (*Collector, error) {
	if registry == nil {
		return nil, errMissingRegistry
	}
	collector := &Collector{
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "token_refreshes_total",
			Help:      "Credential refresh attempts grouped by result.",
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pages_fetched_total",
			Help:      "Upstream activity pages fetched successfully.",
		}),
		routesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "routes_inserted_total",
			Help:      "Routes newly stored by ingestion.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Ingestion runs grouped by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "jobs_total",
			Help:      "Sync job transitions grouped by status.",
		}, []string{"status"}),
	}
	for _, c := range []prometheus.Collector{
		collector.tokenRefreshes,
		collector.pagesFetched,
		collector.routesInserted,
		collector.runs,
		collector.runDuration,
		collector.jobs,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return collector, nil
}

func (c *Collector) RecordTokenRefresh(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.tokenRefreshes.WithLabelValues(result).Inc()
}

func (c *Collector) RecordPageFetched() {
	c.pagesFetched.Inc()
}

func (c *Collector) RecordRoutesInserted(count int64) {
	if count <= 0 {
		return
	}
	c.routesInserted.Add(float64(count))
}

func (c *Collector) RecordRun(outcome string, duration time.Duration) {
	c.runs.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// ObserveJob counts a sync job transition; it matches ingest.QueueConfig.Observer.
func (c *Collector) ObserveJob(job ingest.Job) {
	c.jobs.WithLabelValues(string(job.Status)).Inc()
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ ingest.Recorder = (*Collector)(nil)
