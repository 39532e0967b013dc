package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"
)

// JobCollector exposes Prometheus metrics for pipeline jobs on a private
// registry.
type JobCollector struct {
	registry        *prometheus.Registry
	fetchTotal      *prometheus.CounterVec
	postsInserted   prometheus.Counter
	enrichmentTotal *prometheus.CounterVec
	reportTotal     *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

// NewJobCollector constructs a collector with the pipeline counters.
func NewJobCollector() (*JobCollector, error) {
	registry := prometheus.NewRegistry()

	fetchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kolwatch",
		Subsystem: "crawler",
		Name:      "fetches_total",
		Help:      "Total account fetch attempts by outcome.",
	}, []string{"outcome"})

	postsInserted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kolwatch",
		Subsystem: "crawler",
		Name:      "posts_inserted_total",
		Help:      "Total newly inserted posts.",
	})

	enrichmentTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kolwatch",
		Subsystem: "insights",
		Name:      "enrichments_total",
		Help:      "Total enrichment attempts by final status.",
	}, []string{"status"})

	reportTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kolwatch",
		Subsystem: "report",
		Name:      "generations_total",
		Help:      "Total report generation tasks by outcome.",
	}, []string{"outcome"})

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kolwatch",
		Subsystem: "tasks",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock duration of task runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"task"})

	for _, collector := range []prometheus.Collector{
		fetchTotal, postsInserted, enrichmentTotal, reportTotal, jobDuration,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return &JobCollector{
		registry:        registry,
		fetchTotal:      fetchTotal,
		postsInserted:   postsInserted,
		enrichmentTotal: enrichmentTotal,
		reportTotal:     reportTotal,
		jobDuration:     jobDuration,
	}, nil
}

// RecordFetches adds crawl outcomes and inserted-post counts.
func (c *JobCollector) RecordFetches(succeeded, failed, inserted int) {
	c.fetchTotal.WithLabelValues("success").Add(float64(succeeded))
	c.fetchTotal.WithLabelValues("failure").Add(float64(failed))
	c.postsInserted.Add(float64(inserted))
}

// RecordEnrichments adds enrichment outcomes by final status.
func (c *JobCollector) RecordEnrichments(completed, failed int) {
	c.enrichmentTotal.WithLabelValues("completed").Add(float64(completed))
	c.enrichmentTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordReports adds report fan-out outcomes.
func (c *JobCollector) RecordReports(succeeded, failed int) {
	c.reportTotal.WithLabelValues("success").Add(float64(succeeded))
	c.reportTotal.WithLabelValues("failure").Add(float64(failed))
}

// RecordJobDuration records one task run's wall-clock time.
func (c *JobCollector) RecordJobDuration(task string, elapsed time.Duration) {
	c.jobDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

// Handler returns an HTTP handler exposing the private registry.
func (c *JobCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the context is cancelled. Intended to
// run in its own goroutine for long jobs; short jobs can skip it entirely.
func (c *JobCollector) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics listener stopped", "addr", addr, "error", err)
	}
}
